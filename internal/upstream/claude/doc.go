// Package claude binds the Anthropic Messages API to the relay's upstream
// contract: it invokes the API and wraps the outcome in an explicitly tagged
// relay.Result, so the relay's dispatcher never has to inspect runtime shape.
//
// The binding handles:
//
//   - Turn mapping: system turns are hoisted to Anthropic's System field
//     while user and assistant turns keep their conversational order.
//
//   - Streaming: Anthropic SSE events become relay fragments. Text deltas
//     map one to one; a tool_use block becomes a single function-call
//     fragment emitted when the block stops, with its name from the block
//     start and its arguments assembled from the input JSON deltas.
//
//   - Buffered mode: when the request carries "stream": false the Messages
//     API is called without streaming and the reply is reported as a single
//     message with concatenated text and the first tool call, if any.
//
// Authentication is either an API key or a bearer token source; both are
// wired through the HTTP transport, which callers can also replace outright
// for testing.
package claude
