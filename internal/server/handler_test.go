package server

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/deltarelay/deltarelay/internal/relay"
	"github.com/deltarelay/deltarelay/internal/upstream/lorem"
)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func fixedResult(result relay.Result) relay.GenerateFunc {
	return func(ctx context.Context, req relay.Request) (relay.Result, error) {
		return result, nil
	}
}

func postStream(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/v1/stream", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestStreamHandlerStreamsFragments(t *testing.T) {
	fragments := func(yield func(relay.Fragment, error) bool) {
		if !yield(relay.Fragment{Content: "a"}, nil) {
			return
		}
		yield(relay.Fragment{Content: "b"}, nil)
	}
	handler := NewStreamHandler(fixedResult(relay.StreamOf(iter.Seq2[relay.Fragment, error](fragments))))

	rec := postStream(t, handler, `{"turns":[{"role":"user","content":"hi"}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", got)
	}

	want := `data: {"choices":[{"delta":{"role":"assistant","content":"a"}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"role":"assistant","content":"b"}}]}` + "\n\n" +
		"data: [DONE]\n\n"
	if rec.Body.String() != want {
		t.Errorf("body = %q, want %q", rec.Body.String(), want)
	}
}

func TestStreamHandlerOneShotText(t *testing.T) {
	handler := NewStreamHandler(fixedResult(relay.TextOf("hello")))

	rec := postStream(t, handler, `{"turns":[{"role":"user","content":"hi"}]}`)

	want := `data: {"choices":[{"delta":{"role":"assistant","content":"hello"}}]}` + "\n\n" +
		"data: [DONE]\n\n"
	if rec.Body.String() != want {
		t.Errorf("body = %q, want %q", rec.Body.String(), want)
	}
}

func TestStreamHandlerOverLoremBackend(t *testing.T) {
	handler := NewStreamHandler(lorem.New().Generate)

	rec := postStream(t, handler, `{"model":"lorem-stream","turns":[{"role":"user","content":"hi"}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, `data: {"choices":[{"delta":{"role":"assistant","content":"`) {
		t.Errorf("body does not start with a delta record: %q", body)
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Errorf("body does not end with the sentinel: %q", body)
	}
	if strings.Count(body, "[DONE]") != 1 {
		t.Errorf("sentinel count = %d, want 1", strings.Count(body, "[DONE]"))
	}
}

func TestStreamHandlerRejectsMalformedJSON(t *testing.T) {
	handler := NewStreamHandler(fixedResult(relay.TextOf("unused")))

	rec := postStream(t, handler, `{"turns": [`)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"invalid_request_error"`) {
		t.Errorf("body = %q, want an invalid_request_error envelope", rec.Body.String())
	}
}

func TestStreamHandlerRejectsEmptyTurns(t *testing.T) {
	handler := NewStreamHandler(fixedResult(relay.TextOf("unused")))

	for name, body := range map[string]string{
		"missing turns": `{"model":"lorem-stream"}`,
		"empty turns":   `{"turns":[]}`,
		"missing role":  `{"turns":[{"content":"hi"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := postStream(t, handler, body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestStreamHandlerUpstreamInvocationFailure(t *testing.T) {
	generate := func(ctx context.Context, req relay.Request) (relay.Result, error) {
		return relay.Result{}, errors.New("backend unreachable")
	}
	handler := NewStreamHandler(generate)

	rec := postStream(t, handler, `{"turns":[{"role":"user","content":"hi"}]}`)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"upstream_error"`) {
		t.Errorf("body = %q, want an upstream_error envelope", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "data:") {
		t.Errorf("failed invocation produced stream output: %q", rec.Body.String())
	}
}

func TestStreamHandlerInvalidUpstreamResult(t *testing.T) {
	handler := NewStreamHandler(fixedResult(relay.Result{}))

	rec := postStream(t, handler, `{"turns":[{"role":"user","content":"hi"}]}`)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestStreamHandlerMidStreamErrorKeepsPartialOutput(t *testing.T) {
	fragments := func(yield func(relay.Fragment, error) bool) {
		if !yield(relay.Fragment{Content: "a"}, nil) {
			return
		}
		yield(relay.Fragment{}, errors.New("connection reset"))
	}
	handler := NewStreamHandler(fixedResult(relay.StreamOf(iter.Seq2[relay.Fragment, error](fragments))))

	rec := postStream(t, handler, `{"turns":[{"role":"user","content":"hi"}]}`)

	// Streaming had begun: the status is already 200 and the delivered
	// record stands, but no sentinel follows.
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"content":"a"`) {
		t.Errorf("partial output missing: %q", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "[DONE]") {
		t.Errorf("errored stream emitted the sentinel: %q", rec.Body.String())
	}
}

func TestRequestSizeLimitReturns413(t *testing.T) {
	handler := applyMiddlewares(
		NewStreamHandler(fixedResult(relay.TextOf("unused"))),
		RequestSizeLimit(16),
	)

	rec := postStream(t, handler, `{"turns":[{"role":"user","content":"raaaaaaaaather long"}]}`)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

// recordingLogHandler retains log messages for assertions.
type recordingLogHandler struct {
	mu       sync.Mutex
	messages []string
}

func (h *recordingLogHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingLogHandler) Handle(_ context.Context, record slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, record.Message)
	return nil
}

func (h *recordingLogHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingLogHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingLogHandler) count(message string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, m := range h.messages {
		if m == message {
			n++
		}
	}
	return n
}

func TestStreamHandlerReleasesUpstreamExactlyOnce(t *testing.T) {
	logs := &recordingLogHandler{}
	prev := slog.Default()
	slog.SetDefault(slog.New(logs))
	t.Cleanup(func() { slog.SetDefault(prev) })

	handler := NewStreamHandler(fixedResult(relay.TextOf("hello")))
	postStream(t, handler, `{"turns":[{"role":"user","content":"hi"}]}`)

	// The release hook fires on stream completion; the deferred Close must
	// not fire it again.
	if got := logs.count("upstream released"); got != 1 {
		t.Errorf("release log count = %d, want 1", got)
	}
}

func TestStreamHandlerReleasesUpstreamOnStreamError(t *testing.T) {
	logs := &recordingLogHandler{}
	prev := slog.Default()
	slog.SetDefault(slog.New(logs))
	t.Cleanup(func() { slog.SetDefault(prev) })

	fragments := func(yield func(relay.Fragment, error) bool) {
		yield(relay.Fragment{}, errors.New("connection reset"))
	}
	handler := NewStreamHandler(fixedResult(relay.StreamOf(iter.Seq2[relay.Fragment, error](fragments))))
	postStream(t, handler, `{"turns":[{"role":"user","content":"hi"}]}`)

	if got := logs.count("upstream released"); got != 1 {
		t.Errorf("release log count = %d, want 1", got)
	}
}

type staticReadiness bool

func (s staticReadiness) IsReady() bool { return bool(s) }

func TestReadinessHandler(t *testing.T) {
	for ready, want := range map[bool]int{true: http.StatusOK, false: http.StatusServiceUnavailable} {
		rec := httptest.NewRecorder()
		readinessHandler(staticReadiness(ready)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if rec.Code != want {
			t.Errorf("ready=%v: status = %d, want %d", ready, rec.Code, want)
		}
	}
}

func TestRecoveryMiddlewareReturns500(t *testing.T) {
	handler := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
