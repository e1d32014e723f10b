package tracker

import (
	"errors"
	"fmt"

	"github.com/pilacorp/go-savings-sdk/ledger"
)

// Error details reported by the tracker itself.
const (
	MessageTimeout = "Transaction timeout"
	MessageFailed  = "Transaction failed"
)

var (
	// ErrTimeout is the cause of an Error state reached because the poll budget or the
	// wall-clock deadline ran out before the ledger reported a verdict.
	ErrTimeout = errors.New("transaction timeout")
	// ErrRejected matches every *RejectionError.
	ErrRejected = errors.New("transaction rejected")
	// ErrMissingTransactionID is returned for TrackTransaction calls without an ID.
	ErrMissingTransactionID = errors.New("transaction id is required")
	// ErrNilOperation is returned by Execute when no operation is given.
	ErrNilOperation = errors.New("operation is required")
)

// RejectionError is the cause of an Error state reached because the ledger rejected
// the transaction.
type RejectionError struct {
	TxID   string
	Kind   ledger.StatusKind
	Detail string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("transaction %s rejected (%s): %s", e.TxID, e.Kind, e.Detail)
}

// Is lets errors.Is(err, ErrRejected) match any rejection.
func (e *RejectionError) Is(target error) bool {
	return target == ErrRejected
}

// IsTimeout reports whether the state's cause is a poll timeout.
func (s State) IsTimeout() bool {
	return s.Status == Error && errors.Is(s.Err, ErrTimeout)
}

// IsRejected reports whether the state's cause is a ledger rejection.
func (s State) IsRejected() bool {
	return s.Status == Error && errors.Is(s.Err, ErrRejected)
}
