// Package tracker drives one ledger operation from submission to a final outcome.
//
// A Tracker owns a single State. Every call to Execute or TrackTransaction starts a new
// session that supersedes the previous one: results that arrive late for a superseded
// session are dropped instead of being written to the state. While a session is
// Pending it reads the transaction status once per poll interval until the ledger
// reports a verdict, a read fails, or the attempt budget runs out.
//
// Trackers share nothing with each other; create one per operation surface.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pilacorp/go-savings-sdk/ledger"
)

// Tracker tracks one operation at a time. It is safe for concurrent use.
type Tracker struct {
	reader      ledger.StatusReader
	interval    time.Duration
	maxAttempts int
	deadline    time.Duration
	logger      *slog.Logger
	journal     Journal
	observers   []func(State)

	mu         sync.Mutex
	state      State
	current    *session
	changed    chan struct{}
	outbox     []delivery
	delivering bool
}

// session is one Execute or TrackTransaction call. The pointer identifies it; id
// correlates its log lines.
type session struct {
	id     string
	cancel context.CancelFunc
}

// delivery is a committed snapshot waiting for the observers.
type delivery struct {
	session *session
	state   State
}

// New creates an Idle tracker that reads transaction status through reader.
func New(reader ledger.StatusReader, opts ...Option) *Tracker {
	t := &Tracker{
		reader:      reader,
		interval:    DefaultPollInterval,
		maxAttempts: DefaultMaxAttempts,
		logger:      slog.Default(),
		changed:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns the current snapshot.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Execute submits op and starts tracking the transaction it returns.
//
// op is invoked exactly once. When it fails, the tracker moves to Error and the same
// error is returned. When it succeeds without a transaction ID the tracker moves
// straight to Success. Otherwise polling continues in the background, bounded by ctx,
// and Execute returns the result right away; use Wait to block for the outcome.
func (t *Tracker) Execute(ctx context.Context, op ledger.Operation) (ledger.OperationResult, error) {
	s, sctx := t.begin(ctx, "")

	if op == nil {
		t.fail(sctx, s, ErrNilOperation.Error(), ErrNilOperation)
		s.cancel()
		return ledger.OperationResult{}, ErrNilOperation
	}

	res, err := op(ctx)
	if err != nil {
		t.logger.WarnContext(ctx, "operation submission failed", "session", s.id, "error", err)
		t.fail(sctx, s, err.Error(), err)
		s.cancel()
		return res, err
	}

	if res.TransactionID == "" {
		t.succeed(sctx, s)
		s.cancel()
		return res, nil
	}

	if _, ok := t.commit(sctx, s, func(st *State) { st.TransactionID = res.TransactionID }); !ok {
		// superseded while the submission was in flight
		s.cancel()
		return res, nil
	}
	t.logger.InfoContext(ctx, "operation submitted", "session", s.id, "tx_id", res.TransactionID)

	go t.poll(sctx, s, res.TransactionID)
	return res, nil
}

// TrackTransaction starts polling an already submitted transaction without
// resubmitting it. Polling runs in the background, bounded by ctx.
func (t *Tracker) TrackTransaction(ctx context.Context, txID string) {
	s, sctx := t.begin(ctx, txID)
	if txID == "" {
		t.fail(sctx, s, ErrMissingTransactionID.Error(), ErrMissingTransactionID)
		s.cancel()
		return
	}

	t.logger.InfoContext(ctx, "tracking transaction", "session", s.id, "tx_id", txID)
	go t.poll(sctx, s, txID)
}

// Reset moves the tracker back to Idle and drops whatever the current session
// reports afterwards. A submission already in flight is not cancelled.
func (t *Tracker) Reset() {
	t.mu.Lock()
	prev := t.current
	t.current = nil
	t.state = State{}
	t.publishLocked()
	t.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
}

// Wait blocks until the tracker is no longer Pending or ctx is done, and returns the
// state observed last.
func (t *Tracker) Wait(ctx context.Context) (State, error) {
	for {
		t.mu.Lock()
		st, ch := t.state, t.changed
		t.mu.Unlock()

		if st.Status != Pending {
			return st, nil
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// begin supersedes the current session with a new Pending one.
func (t *Tracker) begin(ctx context.Context, txID string) (*session, context.Context) {
	sctx, cancel := context.WithCancel(ctx)
	s := &session{id: uuid.NewString(), cancel: cancel}

	t.mu.Lock()
	prev := t.current
	t.current = s
	t.state = State{Status: Pending, TransactionID: txID}
	t.publishLocked()
	t.mu.Unlock()

	if prev != nil {
		prev.cancel()
		t.logger.DebugContext(ctx, "session superseded", "session", prev.id, "by", s.id)
	}
	return s, sctx
}

// poll runs the read loop of session s until it resolves or is superseded.
func (t *Tracker) poll(ctx context.Context, s *session, txID string) {
	defer s.cancel()

	if t.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, t.deadline, ErrTimeout)
		defer cancel()
	}

	t.journalBegin(ctx, txID)

	attempts := 0
	for t.isCurrent(s) {
		st, err := t.reader.ReadStatus(ctx, txID)
		if err != nil {
			t.interrupted(ctx, s, txID, err)
			return
		}

		switch {
		case st.Kind == ledger.StatusSuccess:
			t.succeed(ctx, s)
			return
		case st.Kind.Rejected():
			detail := st.Detail
			if detail == "" {
				detail = MessageFailed
			}
			t.fail(ctx, s, detail, &RejectionError{TxID: txID, Kind: st.Kind, Detail: detail})
			return
		}

		attempts++
		t.logger.DebugContext(ctx, "transaction still pending", "session", s.id, "tx_id", txID, "attempt", attempts, "status", st.Kind.String())
		if attempts >= t.maxAttempts {
			t.fail(ctx, s, MessageTimeout, ErrTimeout)
			return
		}

		if err := sleep(ctx, t.interval); err != nil {
			t.interrupted(ctx, s, txID, err)
			return
		}
	}
}

// interrupted resolves a session whose read or wait returned err.
func (t *Tracker) interrupted(ctx context.Context, s *session, txID string, err error) {
	if errors.Is(context.Cause(ctx), ErrTimeout) {
		t.fail(ctx, s, MessageTimeout, ErrTimeout)
		return
	}
	t.fail(ctx, s, err.Error(), fmt.Errorf("read status of %s: %w", txID, err))
}

func (t *Tracker) succeed(ctx context.Context, s *session) {
	if st, ok := t.commit(ctx, s, func(st *State) { st.Status = Success }); ok {
		t.logger.InfoContext(ctx, "transaction confirmed", "session", s.id, "tx_id", st.TransactionID)
	}
}

func (t *Tracker) fail(ctx context.Context, s *session, detail string, cause error) {
	if st, ok := t.commit(ctx, s, func(st *State) {
		st.Status = Error
		st.ErrorDetail = detail
		st.Err = cause
	}); ok {
		t.logger.WarnContext(ctx, "transaction failed", "session", s.id, "tx_id", st.TransactionID, "detail", detail)
	}
}

// commit applies mutate if s is still the current session. It returns the committed
// state and whether the mutation happened. A terminal outcome reaches the journal
// before it is published to State, Wait and observers.
func (t *Tracker) commit(ctx context.Context, s *session, mutate func(*State)) (State, bool) {
	t.mu.Lock()
	if t.current != s {
		t.mu.Unlock()
		t.logger.DebugContext(ctx, "dropping result of superseded session", "session", s.id)
		return State{}, false
	}
	next := t.state
	mutate(&next)
	t.mu.Unlock()

	if next.Status.Terminal() && next.TransactionID != "" {
		t.journalResolve(ctx, next)
	}

	t.mu.Lock()
	if t.current != s {
		t.mu.Unlock()
		t.logger.DebugContext(ctx, "dropping result of superseded session", "session", s.id)
		return State{}, false
	}
	t.state = next
	t.publishLocked()
	t.mu.Unlock()
	return next, true
}

func (t *Tracker) isCurrent(s *session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current == s
}

// publishLocked wakes every Wait call and queues the state for the observers.
func (t *Tracker) publishLocked() {
	close(t.changed)
	t.changed = make(chan struct{})

	if len(t.observers) == 0 {
		return
	}
	t.outbox = append(t.outbox, delivery{session: t.current, state: t.state})
	if !t.delivering {
		t.delivering = true
		go t.deliver()
	}
}

// deliver hands queued snapshots to the observers in commit order. A snapshot whose
// session has been superseded is dropped, so observers never end on a stale state.
func (t *Tracker) deliver() {
	for {
		t.mu.Lock()
		if len(t.outbox) == 0 {
			t.delivering = false
			t.mu.Unlock()
			return
		}
		d := t.outbox[0]
		t.outbox = t.outbox[1:]
		t.mu.Unlock()

		for _, fn := range t.observers {
			if !t.isCurrent(d.session) {
				break
			}
			fn(d.state)
		}
	}
}

func (t *Tracker) journalBegin(ctx context.Context, txID string) {
	if t.journal == nil {
		return
	}
	if err := t.journal.Begin(context.WithoutCancel(ctx), txID); err != nil {
		t.logger.ErrorContext(ctx, "failed to journal transaction", "tx_id", txID, "error", err)
	}
}

func (t *Tracker) journalResolve(ctx context.Context, st State) {
	if t.journal == nil {
		return
	}
	if err := t.journal.Resolve(context.WithoutCancel(ctx), st.TransactionID, st.Status.String(), st.ErrorDetail); err != nil {
		t.logger.ErrorContext(ctx, "failed to journal outcome", "tx_id", st.TransactionID, "error", err)
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}
