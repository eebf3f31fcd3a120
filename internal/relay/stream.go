package relay

import (
	"io"
	"iter"
	"sync"
)

// streamState tracks where a Stream is in its lifecycle. Pulls move the
// stream forward; release (natural, error, or cancellation) is terminal.
type streamState int

const (
	stateIdle     streamState = iota // constructed, nothing pulled yet
	stateEmitting                    // reading fragments from the upstream cursor
	stateDraining                    // terminal sentinel buffered, upstream released
	stateErrored                     // terminal error recorded, upstream released
	stateClosed                      // fully delivered or cancelled
)

// Stream is the normalized output stream: a pull-driven sequence of
// event-stream records ending in exactly one [DONE] sentinel. The consumer
// drives it through Read; nothing is read from upstream ahead of demand.
// Close cancels from the downstream side and is always safe, including
// before the first Read.
type Stream struct {
	mu    sync.Mutex
	state streamState
	buf   []byte
	err   error

	// Upstream cursor, present only in pull mode. Acquired once at
	// construction and owned exclusively by this stream.
	next func() (Fragment, error, bool)
	stop func()

	// One-shot payload, used when next is nil.
	content string
	call    *FunctionCall

	releaseOnce sync.Once
	releases    []func() error
}

var _ io.ReadCloser = (*Stream)(nil)

func newOneShotStream(content string, call *FunctionCall) *Stream {
	return &Stream{content: content, call: call}
}

func newPullStream(fragments iter.Seq2[Fragment, error]) *Stream {
	next, stop := iter.Pull2(fragments)
	return &Stream{next: next, stop: stop}
}

// Read delivers the next pending wire bytes, pulling one fragment from
// upstream when the buffer is empty. After the sentinel has been delivered
// Read returns io.EOF; after an upstream failure it keeps returning the same
// *ReadError.
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) == 0 {
		if err := s.fill(); err != nil {
			return 0, err
		}
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// fill buffers the next record(s). Callers hold s.mu and have drained s.buf.
func (s *Stream) fill() error {
	switch s.state {
	case stateClosed:
		return io.EOF
	case stateDraining:
		// Sentinel fully delivered; the stream is done.
		s.state = stateClosed
		return io.EOF
	case stateErrored:
		return s.err
	}

	// One-shot mode: the content record and the sentinel materialize
	// together on the first pull.
	if s.next == nil {
		frame, err := encodeFrame(s.content, s.call)
		if err != nil {
			return s.fail(err)
		}
		s.buf = append(frame, doneFrame...)
		s.state = stateDraining
		s.release()
		return nil
	}

	s.state = stateEmitting
	frag, readErr, ok := s.next()
	if !ok {
		// End of sequence: emit the sentinel, release upstream, and signal
		// completion on the following pull.
		s.buf = doneFrame
		s.state = stateDraining
		s.release()
		return nil
	}
	if readErr != nil {
		return s.fail(&ReadError{Err: readErr})
	}

	frame, err := encodeFrame(frag.Content, frag.FunctionCall)
	if err != nil {
		return s.fail(err)
	}
	s.buf = frame
	return nil
}

// fail releases upstream resources and records the terminal error.
func (s *Stream) fail(err error) error {
	s.release()
	s.state = stateErrored
	s.err = err
	return err
}

// Close cancels the stream from the downstream side. Undelivered output is
// discarded, upstream resources are released at most once, and Close never
// returns an error, even when nothing was ever pulled or the release targets
// are already gone.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.release()
	s.state = stateClosed
	s.buf = nil
	return nil
}

// OnRelease registers f to run when the stream releases its resources, on
// whichever exit path comes first. Release functions run at most once, in
// reverse registration order, after the upstream cursor is stopped.
func (s *Stream) OnRelease(f func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases = append(s.releases, f)
}

// release stops the upstream cursor and runs registered release functions.
// Each step is best effort and independent: a failure or panic in one is
// discarded and never skips the others, so release can never mask the
// condition that triggered it.
func (s *Stream) release() {
	s.releaseOnce.Do(func() {
		if s.stop != nil {
			quietly(func() error { s.stop(); return nil })
		}
		for i := len(s.releases) - 1; i >= 0; i-- {
			quietly(s.releases[i])
		}
	})
}

func quietly(f func() error) {
	defer func() { _ = recover() }()
	_ = f()
}
