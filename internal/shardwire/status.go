package shardwire

// Code is a coarse status, deliberately modeled after the status codes
// named in the specification rather than a generic error string, so both
// sides of the stream can branch on it.
type Code string

const (
	// CodeNotFound: unknown shard id in Acquire.
	CodeNotFound Code = "NotFound"
	// CodeFailedPrecondition: wrong message shape where a specific one
	// was expected, or extra frames after Released.
	CodeFailedPrecondition Code = "FailedPrecondition"
	// CodeDataLoss: session ended while AWAIT_RELEASE.
	CodeDataLoss Code = "DataLoss"
	// CodeInvalidArgument: empty stream without an Acquire.
	CodeInvalidArgument Code = "InvalidArgument"
)

// StatusError pairs a Code with a human-readable message. It is the only
// error type a Session surfaces across the wire — local transport errors
// (closed connection, decode failure) are reported as plain errors and
// never cross the wire as a status frame.
type StatusError struct {
	Code    Code
	Message string
}

func (e *StatusError) Error() string {
	return string(e.Code) + ": " + e.Message
}

// NewStatusError constructs a StatusError.
func NewStatusError(code Code, message string) *StatusError {
	return &StatusError{Code: code, Message: message}
}

// AsStatusError unwraps err into a *StatusError if that's what it is.
func AsStatusError(err error) (*StatusError, bool) {
	se, ok := err.(*StatusError)
	return se, ok
}
