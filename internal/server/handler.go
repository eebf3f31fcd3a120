package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/deltarelay/deltarelay/internal/relay"
)

// StreamHandler normalizes generation requests into a chunked event stream.
type StreamHandler struct {
	generate relay.GenerateFunc
	validate *validator.Validate
}

// Compile-time check that StreamHandler implements http.Handler
var _ http.Handler = (*StreamHandler)(nil)

// NewStreamHandler creates the handler backed by the given upstream.
func NewStreamHandler(generate relay.GenerateFunc) *StreamHandler {
	return &StreamHandler{
		generate: generate,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// ServeHTTP decodes and validates the request, hands it to the relay, and
// copies the normalized stream to the client frame by frame.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req relay.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			slog.WarnContext(ctx, "request exceeds size limit", "limit_bytes", maxBytesErr.Limit)
			writeJSON(ctx, w, &ErrorResponse{Err: &StreamError{
				Message: http.StatusText(http.StatusRequestEntityTooLarge),
				Type:    "invalid_request_error",
			}}, http.StatusRequestEntityTooLarge)
			return
		}
		slog.ErrorContext(ctx, "failed to decode request", "error", err)
		writeJSONError(ctx, w, &ErrorResponse{Err: &StreamError{
			Message: http.StatusText(http.StatusBadRequest),
			Type:    "invalid_request_error",
		}})
		return
	}

	if err := h.validate.Struct(req); err != nil {
		slog.WarnContext(ctx, "request failed validation", "error", err)
		writeJSONError(ctx, w, &ErrorResponse{Err: &StreamError{
			Message: "turns must be a non-empty array of {role, content}",
			Type:    "invalid_request_error",
		}})
		return
	}

	stream, err := relay.Adapt(ctx, req, h.generate)
	if err != nil {
		h.writeAdaptError(ctx, w, err)
		return
	}
	defer func() { _ = stream.Close() }()

	// Runs exactly once, on whichever exit path releases the stream first
	// (completion, upstream error, or client disconnect).
	started := time.Now()
	stream.OnRelease(func() error {
		slog.DebugContext(ctx, "upstream released", "elapsed", time.Since(started))
		return nil
	})

	h.copyStream(ctx, w, stream)
}

// writeAdaptError maps pre-stream failures onto client-visible errors. A
// failed invocation never yields a partial stream.
func (h *StreamHandler) writeAdaptError(ctx context.Context, w http.ResponseWriter, err error) {
	slog.ErrorContext(ctx, "request failed before streaming", "error", err)

	var invErr *relay.InvocationError
	switch {
	case errors.As(err, &invErr):
		writeJSONError(ctx, w, &ErrorResponse{Err: &StreamError{
			Message: invErr.Error(),
			Type:    "upstream_error",
		}})
	case errors.Is(err, relay.ErrInvalidUpstreamResult):
		writeJSONError(ctx, w, &ErrorResponse{Err: &StreamError{
			Message: err.Error(),
			Type:    "upstream_error",
		}})
	default:
		writeJSONError(ctx, w, &ErrorResponse{Err: &StreamError{
			Message: http.StatusText(http.StatusInternalServerError),
			Type:    "api_error",
		}})
	}
}

// copyStream forwards the normalized byte stream to the client, flushing at
// every read so frames are delivered as they are produced. Once streaming
// has begun, a later stream error terminates the response without retracting
// what was already sent.
func (h *StreamHandler) copyStream(ctx context.Context, w http.ResponseWriter, stream io.Reader) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	buf := make([]byte, 4096)

	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				slog.DebugContext(ctx, "client disconnected during stream", "error", writeErr)
				return
			}
			if flushErr := rc.Flush(); flushErr != nil {
				slog.DebugContext(ctx, "flush failed during stream", "error", flushErr)
				return
			}
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			slog.ErrorContext(ctx, "stream error", "error", err)
			return
		}
		if ctx.Err() != nil {
			slog.DebugContext(ctx, "client disconnected during stream")
			return
		}
	}
}
