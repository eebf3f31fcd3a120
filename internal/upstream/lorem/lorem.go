// Package lorem provides a credential-free development backend that
// generates lorem ipsum text. The requested model selects which result
// variant the backend reports, so every dispatch path of the relay can be
// exercised without a real provider or API key.
//
// Models: "lorem-stream" yields an incremental word stream, "lorem-message"
// a single message (with a canned function call when the request carries a
// "function" field), and "lorem-text" a bare string.
package lorem

import (
	"context"
	"fmt"
	"iter"
	"strings"

	loremgen "github.com/bozaro/golorem"

	"github.com/deltarelay/deltarelay/internal/relay"
)

const defaultModel = "lorem-stream"

// Backend generates lorem ipsum responses.
type Backend struct {
	generator *loremgen.Lorem
}

// New creates a lorem backend.
func New() *Backend {
	return &Backend{generator: loremgen.New()}
}

// Generate implements relay.GenerateFunc. The conversational turns are
// accepted and ignored; only the model and function fields influence the
// result shape.
func (b *Backend) Generate(ctx context.Context, req relay.Request) (relay.Result, error) {
	if err := ctx.Err(); err != nil {
		return relay.Result{}, err
	}

	model, _ := req.Extra["model"].(string)
	if model == "" {
		model = defaultModel
	}

	switch model {
	case "lorem-stream":
		return relay.StreamOf(b.words(ctx)), nil
	case "lorem-message":
		msg := relay.Message{Content: b.generator.Sentence(5, 12)}
		if name, ok := req.Extra["function"].(string); ok && name != "" {
			msg.FunctionCall = &relay.FunctionCall{Name: name, Arguments: "{}"}
		}
		return relay.MessageOf(msg), nil
	case "lorem-text":
		return relay.TextOf(b.generator.Sentence(5, 12)), nil
	default:
		return relay.Result{}, fmt.Errorf("lorem: unsupported model %q (want lorem-stream, lorem-message, or lorem-text)", model)
	}
}

// words yields a paragraph one word at a time, mimicking the fragment pace
// of a real streaming backend.
func (b *Backend) words(ctx context.Context) iter.Seq2[relay.Fragment, error] {
	words := strings.Fields(b.generator.Paragraph(2, 4))
	return func(yield func(relay.Fragment, error) bool) {
		for i, word := range words {
			if err := ctx.Err(); err != nil {
				yield(relay.Fragment{}, err)
				return
			}
			content := word
			if i < len(words)-1 {
				content += " "
			}
			if !yield(relay.Fragment{Content: content}, nil) {
				return
			}
		}
	}
}
