// Package errcode translates the numeric error codes returned by the savings contract
// into readable reasons.
package errcode

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Contract error codes.
const (
	NoAmount           = 100
	InsufficientFunds  = 101
	DepositNotFound    = 102
	DepositLocked      = 103
	InvalidLockPeriod  = 104
	NotAuthorized      = 105
	ContractPaused     = 106
	BelowMinimum       = 107
	AboveMaximum       = 108
	AlreadyWithdrawn   = 109
	TransferFailed     = 110
	InvalidRate        = 111
	ReputationRejected = 112
)

var reasons = map[int]string{
	NoAmount:           "No amount provided",
	InsufficientFunds:  "Insufficient balance",
	DepositNotFound:    "Deposit not found",
	DepositLocked:      "Deposit still locked",
	InvalidLockPeriod:  "Invalid lock period",
	NotAuthorized:      "Not authorized",
	ContractPaused:     "Contract paused",
	BelowMinimum:       "Amount below minimum deposit",
	AboveMaximum:       "Amount above maximum deposit",
	AlreadyWithdrawn:   "Deposit already withdrawn",
	TransferFailed:     "Transfer failed",
	InvalidRate:        "Invalid rate",
	ReputationRejected: "Reputation update failed",
}

// Lookup returns the reason for code, or "Unknown error (<code>)" for codes the
// contract does not define.
func Lookup(code int) string {
	if r, ok := reasons[code]; ok {
		return r
	}
	return fmt.Sprintf("Unknown error (%d)", code)
}

// Known reports whether code is defined by the contract.
func Known(code int) bool {
	_, ok := reasons[code]
	return ok
}

// errResult matches Clarity error responses such as "(err u106)" or "(err 106)".
var errResult = regexp.MustCompile(`^\(err\s+u?(\d+)\)$`)

// ParseResult extracts the numeric code from a Clarity error response repr.
func ParseResult(repr string) (int, bool) {
	m := errResult.FindStringSubmatch(strings.TrimSpace(repr))
	if m == nil {
		return 0, false
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return code, true
}

// Describe turns a transaction result repr into a failure detail: the table reason
// when it carries an error code, the repr itself otherwise.
func Describe(repr string) string {
	if code, ok := ParseResult(repr); ok {
		return Lookup(code)
	}
	return strings.TrimSpace(repr)
}
