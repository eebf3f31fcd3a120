package relay

import (
	"encoding/json"
	"fmt"
)

// Wire shapes for one event-stream record. The delta always carries the
// assistant role and a content string (possibly empty); function_call is
// present only when the upstream unit carried one.
type chunk struct {
	Choices []chunkChoice `json:"choices"`
}

type chunkChoice struct {
	Delta chunkDelta `json:"delta"`
}

type chunkDelta struct {
	Role         string        `json:"role"`
	Content      string        `json:"content"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
}

const framePrefix = "data: "

// doneFrame is the terminal sentinel record. Every stream ends with exactly
// one of these, and nothing follows it.
var doneFrame = []byte(framePrefix + "[DONE]\n\n")

// encodeFrame renders one content record: the "data: " prefix, a compact
// JSON chunk, and the double-newline record separator.
func encodeFrame(content string, call *FunctionCall) ([]byte, error) {
	payload, err := json.Marshal(chunk{
		Choices: []chunkChoice{{
			Delta: chunkDelta{
				Role:         "assistant",
				Content:      content,
				FunctionCall: call,
			},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	frame := make([]byte, 0, len(framePrefix)+len(payload)+2)
	frame = append(frame, framePrefix...)
	frame = append(frame, payload...)
	frame = append(frame, '\n', '\n')
	return frame, nil
}
