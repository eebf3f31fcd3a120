package server

// StreamError is the client-visible error detail for requests that fail
// before streaming begins.
type StreamError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Error implements the error interface, returning the error message.
func (e *StreamError) Error() string {
	return e.Message
}

// ErrorResponse wraps StreamError in the envelope clients expect:
// {"error": {...}}.
type ErrorResponse struct {
	// Err is the underlying error detail. JSON tag ensures it serializes as "error".
	Err *StreamError `json:"error"`
}

// Error implements the error interface, returning the underlying message.
func (e *ErrorResponse) Error() string {
	if e.Err == nil {
		return "unknown error"
	}
	return e.Err.Message
}
