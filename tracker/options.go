package tracker

import (
	"context"
	"log/slog"
	"time"
)

const (
	// DefaultPollInterval is the spacing between two status reads of one session.
	DefaultPollInterval = 5 * time.Second
	// DefaultMaxAttempts is the number of non-final reads after which a session times out.
	DefaultMaxAttempts = 60
)

// Journal persists tracked transaction IDs so tracking can be resumed later.
// Failures are logged and otherwise ignored.
type Journal interface {
	Begin(ctx context.Context, txID string) error
	Resolve(ctx context.Context, txID, status, detail string) error
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithPollInterval sets the delay between status reads. Non-positive values keep the default.
func WithPollInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithMaxAttempts sets the poll budget. Non-positive values keep the default.
func WithMaxAttempts(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.maxAttempts = n
		}
	}
}

// WithDeadline bounds every polling session by wall-clock time on top of the attempt
// budget. Zero, the default, disables the ceiling.
func WithDeadline(d time.Duration) Option {
	return func(t *Tracker) { t.deadline = d }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithJournal records every tracked transaction in j.
func WithJournal(j Journal) Option {
	return func(t *Tracker) { t.journal = j }
}

// WithObserver registers fn to receive committed states. Observers run in commit
// order on one delivery goroutine per tracker, outside the tracker's lock. A state
// whose session was superseded before delivery is skipped.
func WithObserver(fn func(State)) Option {
	return func(t *Tracker) {
		if fn != nil {
			t.observers = append(t.observers, fn)
		}
	}
}
