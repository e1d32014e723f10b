package tracker

// Status is the lifecycle position of the tracked operation.
type Status int

const (
	Idle Status = iota
	Pending
	Success
	Error
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Success:
		return "success"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a resolved outcome.
func (s Status) Terminal() bool {
	return s == Success || s == Error
}

// State is a snapshot of the tracked operation.
//
// TransactionID is empty while Idle and when the submission returned no ID.
// ErrorDetail and Err are set only when Status is Error.
type State struct {
	Status        Status
	TransactionID string
	ErrorDetail   string
	Err           error
}
