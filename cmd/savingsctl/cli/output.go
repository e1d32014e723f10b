package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/pilacorp/go-savings-sdk/tracker"
)

// Process exit codes. A transaction the ledger rejected, or one that never resolved,
// is a failure; anything that stops the command from getting that far is a command error.
const (
	ExitSuccess = iota
	ExitFailure
	ExitCommandError
)

// ExitError is a command error that carries its process exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps the error returned by a command to an exit code. Errors cobra
// raises itself (unknown flags, missing arguments) are command errors.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // verbose output goes here so JSON stays parseable
	Verbose   bool
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Message string `json:"message"`
}

// JSON reports whether the formatter writes JSON.
func (f *OutputFormatter) JSON() bool {
	return f.Format == "json"
}

// Success writes data as an ok envelope. In text mode text is called instead.
func (f *OutputFormatter) Success(data any, text func(w io.Writer)) error {
	if f.JSON() {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	text(f.Writer)
	return nil
}

// Failure writes data as an error envelope.
func (f *OutputFormatter) Failure(message string, data any, text func(w io.Writer)) error {
	if f.JSON() {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Data:   data,
			Error:  &CLIError{Message: message},
		})
	}
	text(f.Writer)
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// StateView is the printable form of a tracker state.
type StateView struct {
	Status    string `json:"status"`
	TxID      string `json:"txId,omitempty"`
	Detail    string `json:"detail,omitempty"`
	DepositID string `json:"depositId,omitempty"`
}

func newStateView(st tracker.State) StateView {
	return StateView{
		Status: st.Status.String(),
		TxID:   st.TransactionID,
		Detail: st.ErrorDetail,
	}
}

func statusColor(status string) func(format string, a ...interface{}) string {
	switch status {
	case tracker.Success.String():
		return color.GreenString
	case tracker.Pending.String():
		return color.YellowString
	case tracker.Error.String():
		return color.RedString
	default:
		return color.CyanString
	}
}

func writeStateText(w io.Writer, v StateView) {
	paint := statusColor(v.Status)
	if v.TxID == "" {
		fmt.Fprintln(w, paint("%s", v.Status))
	} else {
		fmt.Fprintf(w, "%s %s\n", paint("%-8s", v.Status), v.TxID)
	}
	if v.Detail != "" {
		fmt.Fprintf(w, "  Detail:     %s\n", v.Detail)
	}
	if v.DepositID != "" {
		fmt.Fprintf(w, "  Deposit ID: %s\n", v.DepositID)
	}
}

// writeState prints one final or pending state and turns an Error state into an
// ExitFailure error.
func writeState(f *OutputFormatter, v StateView) error {
	if v.Status == tracker.Error.String() {
		if err := f.Failure(v.Detail, v, func(w io.Writer) { writeStateText(w, v) }); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "transaction failed")
	}
	return f.Success(v, func(w io.Writer) { writeStateText(w, v) })
}
