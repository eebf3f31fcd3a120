// Package relay normalizes heterogeneous chat-completion results into one
// uniform chunked event-stream, so that upstream generation backends with
// different result shapes can be consumed through a single downstream wire
// protocol.
//
// An upstream backend is an opaque GenerateFunc that returns a Result: either
// an incremental fragment stream, a single structured message, or a bare
// string. Adapt classifies the result and produces a Stream — a pull-driven
// io.ReadCloser whose bytes are event-stream records of the form
//
//	data: {"choices":[{"delta":{"role":"assistant","content":...}}]}
//
// terminated by exactly one "data: [DONE]" record. The single-message and
// plain-string cases are treated as degenerate one-shot streams.
//
// The Stream owns the upstream read cursor exclusively and releases it
// exactly once on every exit path: natural completion, upstream read failure,
// or downstream cancellation via Close. Release is best effort and never
// propagates its own failures.
package relay
