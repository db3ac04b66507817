package engine

import "errors"

// Failure taxonomy. These are sentinel values so callers can errors.Is on
// an Outcome's Err and choose fallback behavior without string matching.
var (
	// ErrBackendUnavailable: neither local nor cloud can serve the request.
	ErrBackendUnavailable = errors.New("no inference backend available")

	// ErrAuthRequired: cloud path attempted without an identity.
	ErrAuthRequired = errors.New("authentication required")

	// ErrQuotaExceeded: the caller's cloud call counter is at its limit.
	ErrQuotaExceeded = errors.New("cloud call quota exceeded")
)

// Status is the terminal state of one execution. Every Execute call ends in
// exactly one of these.
type Status string

const (
	StatusSuccess Status = "success"
	StatusAborted Status = "aborted"
	StatusFailed  Status = "failed"
)

// Outcome is the explicit result of an asynchronous execution. Callers
// switch on Status instead of unwinding through thrown errors. Text holds
// the accumulated output; on abort it keeps everything appended before the
// abort took effect.
type Outcome struct {
	Status Status `json:"status"`
	Text   string `json:"text"`
	Err    error  `json:"-"`
}

// Reason returns a short human-readable failure description, empty for
// success and abort.
func (o Outcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

func success(text string) Outcome { return Outcome{Status: StatusSuccess, Text: text} }

func aborted(text string) Outcome { return Outcome{Status: StatusAborted, Text: text} }

func failed(err error) Outcome { return Outcome{Status: StatusFailed, Err: err} }
