package relay

import (
	"errors"
	"fmt"
)

// ErrInvalidUpstreamResult reports an upstream result that matches none of
// the known result variants. Returned by Adapt; no stream is produced.
var ErrInvalidUpstreamResult = errors.New("relay: upstream result matches no known variant")

// InvocationError reports that the upstream generation call itself failed.
// It is returned by Adapt before any stream exists. The call is not retried.
type InvocationError struct {
	Err error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("upstream invocation failed: %v", e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// ReadError reports a failure while reading a fragment from an already-open
// upstream stream. It is surfaced through the Stream's Read, never from
// Adapt: output already delivered before the failure is not retracted.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("upstream read failed: %v", e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}
