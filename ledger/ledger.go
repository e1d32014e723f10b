// Package ledger defines the narrow interfaces through which the SDK talks to the
// savings contract: submitting an operation and reading the status of a submitted
// transaction. Concrete backends live in the stacks and evm sub-packages.
package ledger

import (
	"context"
	"strings"
)

// OperationResult is what a ledger write returns. TransactionID is empty when the
// write completed without producing a transaction to wait for.
type OperationResult struct {
	TransactionID string `json:"txId,omitempty"`
}

// Operation performs one ledger write. It is invoked exactly once per submission.
type Operation func(ctx context.Context) (OperationResult, error)

// StatusKind is the decoded remote status of a transaction.
type StatusKind int

const (
	// StatusUnknown is any status string the SDK does not recognise. It is polled
	// again like StatusPending.
	StatusUnknown StatusKind = iota
	StatusPending
	StatusSuccess
	// StatusRejectedByResponse means the contract call returned an error response.
	StatusRejectedByResponse
	// StatusRejectedByPostcondition means a post-condition attached to the
	// transaction did not hold.
	StatusRejectedByPostcondition
)

func (k StatusKind) String() string {
	switch k {
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusRejectedByResponse:
		return "abort_by_response"
	case StatusRejectedByPostcondition:
		return "abort_by_post_condition"
	default:
		return "unknown"
	}
}

// Rejected reports whether k is a terminal failure reported by the ledger.
func (k StatusKind) Rejected() bool {
	return k == StatusRejectedByResponse || k == StatusRejectedByPostcondition
}

// ParseStatusKind maps a raw ledger status string to a StatusKind.
func ParseStatusKind(raw string) StatusKind {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success":
		return StatusSuccess
	case "abort_by_response":
		return StatusRejectedByResponse
	case "abort_by_post_condition":
		return StatusRejectedByPostcondition
	case "pending":
		return StatusPending
	default:
		return StatusUnknown
	}
}

// Status is one observation of a transaction. Detail carries the ledger's failure
// description for rejected transactions and may be empty.
type Status struct {
	Kind   StatusKind
	Detail string
}

// StatusReader reads the current status of a transaction. An error means the read
// itself failed (network, decoding), not that the transaction failed.
type StatusReader interface {
	ReadStatus(ctx context.Context, txID string) (Status, error)
}

// StatusReaderFunc adapts a function to StatusReader.
type StatusReaderFunc func(ctx context.Context, txID string) (Status, error)

// ReadStatus calls f.
func (f StatusReaderFunc) ReadStatus(ctx context.Context, txID string) (Status, error) {
	return f(ctx, txID)
}
