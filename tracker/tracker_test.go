package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pilacorp/go-savings-sdk/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedReader answers reads with fn and counts them per transaction.
type scriptedReader struct {
	mu    sync.Mutex
	reads map[string]int
	fn    func(ctx context.Context, txID string, n int) (ledger.Status, error)
}

func newScriptedReader(fn func(ctx context.Context, txID string, n int) (ledger.Status, error)) *scriptedReader {
	return &scriptedReader{reads: map[string]int{}, fn: fn}
}

func (r *scriptedReader) ReadStatus(ctx context.Context, txID string) (ledger.Status, error) {
	r.mu.Lock()
	r.reads[txID]++
	n := r.reads[txID]
	r.mu.Unlock()
	return r.fn(ctx, txID, n)
}

func (r *scriptedReader) count(txID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads[txID]
}

func alwaysPending(context.Context, string, int) (ledger.Status, error) {
	return ledger.Status{Kind: ledger.StatusPending}, nil
}

func submitted(id string) ledger.Operation {
	return func(context.Context) (ledger.OperationResult, error) {
		return ledger.OperationResult{TransactionID: id}, nil
	}
}

func newFastTracker(r ledger.StatusReader, opts ...Option) *Tracker {
	return New(r, append([]Option{WithPollInterval(time.Millisecond)}, opts...)...)
}

func waitDone(t *testing.T, tr *Tracker) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := tr.Wait(ctx)
	require.NoError(t, err)
	return st
}

func TestNew_StartsIdle(t *testing.T) {
	tr := New(newScriptedReader(alwaysPending))

	st := tr.State()
	assert.Equal(t, Idle, st.Status)
	assert.Empty(t, st.TransactionID)
	assert.Empty(t, st.ErrorDetail)
	assert.NoError(t, st.Err)
}

func TestExecute_ConfirmsAfterPendingReads(t *testing.T) {
	r := newScriptedReader(func(_ context.Context, _ string, n int) (ledger.Status, error) {
		if n < 3 {
			return ledger.Status{Kind: ledger.StatusPending}, nil
		}
		return ledger.Status{Kind: ledger.StatusSuccess}, nil
	})
	tr := newFastTracker(r)

	res, err := tr.Execute(context.Background(), submitted("0xabc"))
	require.NoError(t, err)
	assert.Equal(t, "0xabc", res.TransactionID)

	st := waitDone(t, tr)
	assert.Equal(t, Success, st.Status)
	assert.Equal(t, "0xabc", st.TransactionID)
	assert.Empty(t, st.ErrorDetail)
	assert.Equal(t, 3, r.count("0xabc"))
}

func TestExecute_WithoutIDSucceedsImmediately(t *testing.T) {
	r := newScriptedReader(alwaysPending)
	tr := newFastTracker(r)

	res, err := tr.Execute(context.Background(), func(context.Context) (ledger.OperationResult, error) {
		return ledger.OperationResult{}, nil
	})
	require.NoError(t, err)
	assert.Empty(t, res.TransactionID)

	st := tr.State()
	assert.Equal(t, Success, st.Status)
	assert.Empty(t, st.TransactionID)
	assert.Zero(t, r.count(""))
}

func TestExecute_SubmissionFailure(t *testing.T) {
	r := newScriptedReader(alwaysPending)
	tr := newFastTracker(r)
	submitErr := errors.New("user rejected the request")

	var calls int
	_, err := tr.Execute(context.Background(), func(context.Context) (ledger.OperationResult, error) {
		calls++
		return ledger.OperationResult{}, submitErr
	})

	assert.ErrorIs(t, err, submitErr)
	assert.Equal(t, 1, calls)

	st := tr.State()
	assert.Equal(t, Error, st.Status)
	assert.Equal(t, "user rejected the request", st.ErrorDetail)
	assert.ErrorIs(t, st.Err, submitErr)
	assert.Empty(t, st.TransactionID)
}

func TestExecute_NilOperation(t *testing.T) {
	tr := newFastTracker(newScriptedReader(alwaysPending))

	_, err := tr.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilOperation)
	assert.Equal(t, Error, tr.State().Status)
}

func TestExecute_ClearsPreviousOutcome(t *testing.T) {
	r := newScriptedReader(alwaysPending)
	tr := newFastTracker(r, WithPollInterval(time.Hour))

	_, _ = tr.Execute(context.Background(), func(context.Context) (ledger.OperationResult, error) {
		return ledger.OperationResult{}, errors.New("boom")
	})
	require.Equal(t, Error, tr.State().Status)

	block := make(chan struct{})
	defer close(block)
	go func() {
		_, _ = tr.Execute(context.Background(), func(context.Context) (ledger.OperationResult, error) {
			<-block
			return ledger.OperationResult{}, nil
		})
	}()

	assert.Eventually(t, func() bool {
		st := tr.State()
		return st.Status == Pending && st.ErrorDetail == "" && st.Err == nil
	}, time.Second, time.Millisecond)
}

func TestTrackTransaction_TimesOutAfterExactlyMaxAttempts(t *testing.T) {
	r := newScriptedReader(alwaysPending)
	tr := newFastTracker(r)

	tr.TrackTransaction(context.Background(), "0xslow")
	st := waitDone(t, tr)

	assert.Equal(t, Error, st.Status)
	assert.Equal(t, MessageTimeout, st.ErrorDetail)
	assert.True(t, st.IsTimeout())
	assert.ErrorIs(t, st.Err, ErrTimeout)
	assert.Equal(t, "0xslow", st.TransactionID)
	assert.Equal(t, DefaultMaxAttempts, r.count("0xslow"))

	// no stray read after the verdict
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, DefaultMaxAttempts, r.count("0xslow"))
}

func TestTrackTransaction_UnknownStatusKeepsPolling(t *testing.T) {
	r := newScriptedReader(func(context.Context, string, int) (ledger.Status, error) {
		return ledger.Status{Kind: ledger.StatusUnknown}, nil
	})
	tr := newFastTracker(r, WithMaxAttempts(5))

	tr.TrackTransaction(context.Background(), "0xdropped")
	st := waitDone(t, tr)

	assert.True(t, st.IsTimeout())
	assert.Equal(t, 5, r.count("0xdropped"))
}

func TestTrackTransaction_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		status     ledger.Status
		wantDetail string
	}{
		{
			name:       "rejected by response with detail",
			status:     ledger.Status{Kind: ledger.StatusRejectedByResponse, Detail: "Contract paused"},
			wantDetail: "Contract paused",
		},
		{
			name:       "rejected by postcondition without detail",
			status:     ledger.Status{Kind: ledger.StatusRejectedByPostcondition},
			wantDetail: MessageFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newScriptedReader(func(context.Context, string, int) (ledger.Status, error) {
				return tt.status, nil
			})
			tr := newFastTracker(r)

			tr.TrackTransaction(context.Background(), "0xbad")
			st := waitDone(t, tr)

			assert.Equal(t, Error, st.Status)
			assert.Equal(t, tt.wantDetail, st.ErrorDetail)
			assert.True(t, st.IsRejected())
			assert.False(t, st.IsTimeout())

			var rej *RejectionError
			require.ErrorAs(t, st.Err, &rej)
			assert.Equal(t, tt.status.Kind, rej.Kind)
			assert.Equal(t, 1, r.count("0xbad"))
		})
	}
}

func TestTrackTransaction_ReadFailureStopsPolling(t *testing.T) {
	readErr := errors.New("connection refused")
	r := newScriptedReader(func(_ context.Context, _ string, n int) (ledger.Status, error) {
		if n == 2 {
			return ledger.Status{}, readErr
		}
		return ledger.Status{Kind: ledger.StatusPending}, nil
	})
	tr := newFastTracker(r)

	tr.TrackTransaction(context.Background(), "0xflaky")
	st := waitDone(t, tr)

	assert.Equal(t, Error, st.Status)
	assert.Equal(t, "connection refused", st.ErrorDetail)
	assert.ErrorIs(t, st.Err, readErr)
	assert.False(t, st.IsTimeout())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, r.count("0xflaky"))
}

func TestTrackTransaction_EmptyID(t *testing.T) {
	r := newScriptedReader(alwaysPending)
	tr := newFastTracker(r)

	tr.TrackTransaction(context.Background(), "")

	st := tr.State()
	assert.Equal(t, Error, st.Status)
	assert.ErrorIs(t, st.Err, ErrMissingTransactionID)
	assert.Zero(t, r.count(""))
}

func TestStaleSessionNeverOverwritesNewerSession(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	r := newScriptedReader(func(_ context.Context, txID string, _ int) (ledger.Status, error) {
		if txID == "0xold" {
			close(started)
			<-release // ignores cancellation to model a late network answer
			return ledger.Status{Kind: ledger.StatusSuccess}, nil
		}
		return ledger.Status{Kind: ledger.StatusRejectedByResponse, Detail: "Deposit still locked"}, nil
	})
	tr := newFastTracker(r)

	tr.TrackTransaction(context.Background(), "0xold")
	<-started

	_, err := tr.Execute(context.Background(), submitted("0xnew"))
	require.NoError(t, err)

	st := waitDone(t, tr)
	require.Equal(t, Error, st.Status)
	require.Equal(t, "0xnew", st.TransactionID)

	close(release)

	assert.Never(t, func() bool {
		cur := tr.State()
		return cur.Status != Error || cur.TransactionID != "0xnew"
	}, 50*time.Millisecond, time.Millisecond)
	assert.Equal(t, "Deposit still locked", tr.State().ErrorDetail)
}

func TestExecute_SupersedesPendingSession(t *testing.T) {
	r := newScriptedReader(func(_ context.Context, txID string, _ int) (ledger.Status, error) {
		if txID == "0xfirst" {
			return ledger.Status{Kind: ledger.StatusPending}, nil
		}
		return ledger.Status{Kind: ledger.StatusSuccess}, nil
	})
	tr := New(r, WithPollInterval(10*time.Millisecond))

	_, err := tr.Execute(context.Background(), submitted("0xfirst"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return r.count("0xfirst") >= 1 }, time.Second, time.Millisecond)

	_, err = tr.Execute(context.Background(), submitted("0xsecond"))
	require.NoError(t, err)

	st := waitDone(t, tr)
	assert.Equal(t, Success, st.Status)
	assert.Equal(t, "0xsecond", st.TransactionID)

	// the first session stops polling once superseded
	first := r.count("0xfirst")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, first, r.count("0xfirst"))
}

func TestReset(t *testing.T) {
	release := make(chan struct{})
	r := newScriptedReader(func(_ context.Context, _ string, _ int) (ledger.Status, error) {
		<-release
		return ledger.Status{Kind: ledger.StatusSuccess}, nil
	})
	tr := newFastTracker(r)

	tr.TrackTransaction(context.Background(), "0xabc")
	require.Eventually(t, func() bool { return r.count("0xabc") == 1 }, time.Second, time.Millisecond)

	tr.Reset()
	close(release)

	assert.Never(t, func() bool { return tr.State().Status != Idle }, 50*time.Millisecond, time.Millisecond)
	st := tr.State()
	assert.Empty(t, st.TransactionID)
	assert.Empty(t, st.ErrorDetail)

	idle, err := tr.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Idle, idle.Status)
}

// blockingOp returns an operation that signals entered and then waits for release
// before answering with res and err.
func blockingOp(entered, release chan struct{}, res ledger.OperationResult, err error) ledger.Operation {
	return func(context.Context) (ledger.OperationResult, error) {
		close(entered)
		<-release
		return res, err
	}
}

func TestReset_IgnoresLateSubmission(t *testing.T) {
	tests := []struct {
		name string
		res  ledger.OperationResult
		err  error
	}{
		{name: "with transaction id", res: ledger.OperationResult{TransactionID: "0xlate"}},
		{name: "without transaction id"},
		{name: "submission error", err: errors.New("nonce too low")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newScriptedReader(alwaysPending)
			tr := newFastTracker(r)

			entered, release := make(chan struct{}), make(chan struct{})
			done := make(chan error, 1)
			go func() {
				_, err := tr.Execute(context.Background(), blockingOp(entered, release, tt.res, tt.err))
				done <- err
			}()

			<-entered
			tr.Reset()
			close(release)

			err := <-done
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			} else {
				assert.NoError(t, err)
			}

			assert.Never(t, func() bool { return tr.State() != (State{}) }, 30*time.Millisecond, time.Millisecond)
			assert.Zero(t, r.count("0xlate"))
		})
	}
}

func TestExecute_SupersedesInFlightSubmission(t *testing.T) {
	r := newScriptedReader(func(context.Context, string, int) (ledger.Status, error) {
		return ledger.Status{Kind: ledger.StatusSuccess}, nil
	})
	tr := newFastTracker(r)

	entered, release := make(chan struct{}), make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := tr.Execute(context.Background(),
			blockingOp(entered, release, ledger.OperationResult{TransactionID: "0xstale"}, nil))
		done <- err
	}()
	<-entered

	_, err := tr.Execute(context.Background(), submitted("0xfresh"))
	require.NoError(t, err)
	st := waitDone(t, tr)
	require.Equal(t, Success, st.Status)
	require.Equal(t, "0xfresh", st.TransactionID)

	close(release)
	require.NoError(t, <-done)

	assert.Never(t, func() bool { return tr.State() != st }, 30*time.Millisecond, time.Millisecond)
	assert.Zero(t, r.count("0xstale"))
}

func TestTerminalStateIsStable(t *testing.T) {
	r := newScriptedReader(func(context.Context, string, int) (ledger.Status, error) {
		return ledger.Status{Kind: ledger.StatusSuccess}, nil
	})
	tr := newFastTracker(r)

	tr.TrackTransaction(context.Background(), "0xdone")
	st := waitDone(t, tr)
	require.Equal(t, Success, st.Status)

	assert.Never(t, func() bool { return tr.State() != st }, 50*time.Millisecond, time.Millisecond)
	assert.Equal(t, 1, r.count("0xdone"))
}

func TestWithDeadline_WallClockCeiling(t *testing.T) {
	r := newScriptedReader(alwaysPending)
	tr := New(r, WithPollInterval(5*time.Millisecond), WithMaxAttempts(1_000_000), WithDeadline(30*time.Millisecond))

	tr.TrackTransaction(context.Background(), "0xstuck")
	st := waitDone(t, tr)

	assert.Equal(t, MessageTimeout, st.ErrorDetail)
	assert.True(t, st.IsTimeout())
	assert.Less(t, r.count("0xstuck"), 1_000_000)
}

func TestCallerCancellationEndsSession(t *testing.T) {
	r := newScriptedReader(alwaysPending)
	tr := New(r, WithPollInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())

	tr.TrackTransaction(ctx, "0xabc")
	require.Eventually(t, func() bool { return r.count("0xabc") == 1 }, time.Second, time.Millisecond)
	cancel()

	st := waitDone(t, tr)
	assert.Equal(t, Error, st.Status)
	assert.ErrorIs(t, st.Err, context.Canceled)
	assert.False(t, st.IsTimeout())
}

func TestWait_ContextDone(t *testing.T) {
	tr := New(newScriptedReader(alwaysPending), WithPollInterval(time.Hour))
	tr.TrackTransaction(context.Background(), "0xabc")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	st, err := tr.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Pending, st.Status)
}

func TestObserverSeesTransitions(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []Status
	)
	r := newScriptedReader(func(_ context.Context, _ string, n int) (ledger.Status, error) {
		if n == 1 {
			return ledger.Status{Kind: ledger.StatusPending}, nil
		}
		return ledger.Status{Kind: ledger.StatusSuccess}, nil
	})
	tr := newFastTracker(r, WithObserver(func(st State) {
		mu.Lock()
		seen = append(seen, st.Status)
		mu.Unlock()
	}))

	_, err := tr.Execute(context.Background(), submitted("0xabc"))
	require.NoError(t, err)
	waitDone(t, tr)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// begin, transaction id attached, confirmation
	assert.Equal(t, []Status{Pending, Pending, Success}, seen)
}

func TestObserverSkipsSupersededSnapshots(t *testing.T) {
	r := newScriptedReader(func(_ context.Context, txID string, _ int) (ledger.Status, error) {
		if txID == "0xold" {
			return ledger.Status{Kind: ledger.StatusSuccess}, nil
		}
		return ledger.Status{Kind: ledger.StatusPending}, nil
	})

	gate := make(chan struct{})
	slow := func(st State) {
		if st.TransactionID == "0xold" && st.Status == Success {
			<-gate
		}
	}

	var (
		mu   sync.Mutex
		seen []State
	)
	record := func(st State) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	}
	lastSeen := func() State {
		mu.Lock()
		defer mu.Unlock()
		if len(seen) == 0 {
			return State{}
		}
		return seen[len(seen)-1]
	}

	tr := New(r, WithPollInterval(time.Hour), WithObserver(slow), WithObserver(record))

	tr.TrackTransaction(context.Background(), "0xold")
	require.Equal(t, Success, waitDone(t, tr).Status)

	// the old outcome is still queued or held by the slow observer
	tr.TrackTransaction(context.Background(), "0xnew")
	close(gate)

	require.Eventually(t, func() bool { return lastSeen().TransactionID == "0xnew" }, time.Second, time.Millisecond)
	assert.Never(t, func() bool { return lastSeen().TransactionID != "0xnew" }, 50*time.Millisecond, time.Millisecond)
	assert.Equal(t, State{Status: Pending, TransactionID: "0xnew"}, tr.State())

	mu.Lock()
	defer mu.Unlock()
	for _, st := range seen {
		assert.False(t, st.TransactionID == "0xold" && st.Status == Success, "superseded outcome delivered: %+v", st)
	}
}

type memJournal struct {
	mu       sync.Mutex
	begun    []string
	resolved map[string][2]string
}

func (j *memJournal) Begin(_ context.Context, txID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.begun = append(j.begun, txID)
	return nil
}

func (j *memJournal) Resolve(_ context.Context, txID, status, detail string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.resolved == nil {
		j.resolved = map[string][2]string{}
	}
	j.resolved[txID] = [2]string{status, detail}
	return nil
}

func TestJournalRecordsLifecycle(t *testing.T) {
	r := newScriptedReader(func(context.Context, string, int) (ledger.Status, error) {
		return ledger.Status{Kind: ledger.StatusRejectedByResponse, Detail: "Contract paused"}, nil
	})
	j := &memJournal{}
	tr := newFastTracker(r, WithJournal(j))

	_, err := tr.Execute(context.Background(), submitted("0xabc"))
	require.NoError(t, err)
	waitDone(t, tr)

	j.mu.Lock()
	defer j.mu.Unlock()
	assert.Equal(t, []string{"0xabc"}, j.begun)
	assert.Equal(t, [2]string{"error", "Contract paused"}, j.resolved["0xabc"])
}

func TestJournalErrorsAreNotFatal(t *testing.T) {
	r := newScriptedReader(func(context.Context, string, int) (ledger.Status, error) {
		return ledger.Status{Kind: ledger.StatusSuccess}, nil
	})
	tr := newFastTracker(r, WithJournal(failingJournal{}))

	tr.TrackTransaction(context.Background(), "0xabc")
	st := waitDone(t, tr)
	assert.Equal(t, Success, st.Status)
}

type failingJournal struct{}

func (failingJournal) Begin(context.Context, string) error { return errors.New("disk full") }

func (failingJournal) Resolve(context.Context, string, string, string) error {
	return errors.New("disk full")
}

func TestIndependentTrackers(t *testing.T) {
	r := newScriptedReader(func(_ context.Context, txID string, _ int) (ledger.Status, error) {
		if txID == "0xa" {
			return ledger.Status{Kind: ledger.StatusSuccess}, nil
		}
		return ledger.Status{Kind: ledger.StatusRejectedByPostcondition}, nil
	})
	a := newFastTracker(r)
	b := newFastTracker(r)

	a.TrackTransaction(context.Background(), "0xa")
	b.TrackTransaction(context.Background(), "0xb")

	assert.Equal(t, Success, waitDone(t, a).Status)
	assert.Equal(t, Error, waitDone(t, b).Status)
}
