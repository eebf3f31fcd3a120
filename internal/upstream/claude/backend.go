package claude

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/oauth2"

	"github.com/deltarelay/deltarelay/internal/relay"
)

const defaultMaxTokens = 4096

// Backend invokes the Anthropic Messages API.
type Backend struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// Option configures a Backend.
type Option func(*settings)

type settings struct {
	transport   http.RoundTripper
	tokenSource oauth2.TokenSource
	apiKey      string
	maxTokens   int64
}

// WithTransport replaces the HTTP transport used for API calls. The
// transport chain is responsible for authentication unless an API key or
// token source is also configured.
func WithTransport(transport http.RoundTripper) Option {
	return func(s *settings) { s.transport = transport }
}

// WithAPIKey authenticates requests with a static Anthropic API key.
func WithAPIKey(apiKey string) Option {
	return func(s *settings) { s.apiKey = apiKey }
}

// WithTokenSource authenticates requests with OAuth bearer tokens drawn from
// source, layered over the configured base transport.
func WithTokenSource(source oauth2.TokenSource) Option {
	return func(s *settings) { s.tokenSource = source }
}

// WithMaxTokens sets the default completion budget. Requests can still
// override it through a max_tokens field.
func WithMaxTokens(maxTokens int64) Option {
	return func(s *settings) { s.maxTokens = maxTokens }
}

// New creates a backend targeting the given default model.
func New(model string, opts ...Option) (*Backend, error) {
	if model == "" {
		return nil, errors.New("claude: model cannot be empty")
	}

	s := settings{maxTokens: defaultMaxTokens}
	for _, opt := range opts {
		opt(&s)
	}

	clientOpts := []option.RequestOption{
		// Generous request timeout; streams are bounded by the serving
		// layer, not by the SDK.
		option.WithRequestTimeout(1 * time.Hour),
	}

	transport := s.transport
	if s.tokenSource != nil {
		transport = &oauth2.Transport{Source: s.tokenSource, Base: transport}
	}
	if transport != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(&http.Client{
			Transport: transport,
			// Client.Timeout = 0 allows long-running SSE streams
		}))
	}
	if s.apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(s.apiKey))
	}

	client := anthropic.NewClient(clientOpts...)
	return &Backend{
		client:    &client,
		model:     anthropic.Model(model),
		maxTokens: s.maxTokens,
	}, nil
}

// Generate implements relay.GenerateFunc. Streaming is the default; a
// request with "stream": false is answered with a single buffered message.
func (b *Backend) Generate(ctx context.Context, req relay.Request) (relay.Result, error) {
	params, err := b.messageParams(req)
	if err != nil {
		return relay.Result{}, err
	}

	if streaming, ok := req.Extra["stream"].(bool); ok && !streaming {
		msg, err := b.client.Messages.New(ctx, params)
		if err != nil {
			return relay.Result{}, fmt.Errorf("claude: create message: %w", err)
		}
		return relay.MessageOf(toMessage(msg)), nil
	}

	return relay.StreamOf(b.fragments(ctx, params)), nil
}

// messageParams maps relay turns onto Messages API parameters. System turns
// hoist to the System field; Anthropic has no system role in the messages
// array.
func (b *Backend) messageParams(req relay.Request) (anthropic.MessageNewParams, error) {
	messages := make([]anthropic.MessageParam, 0, len(req.Turns))
	var system []anthropic.TextBlockParam

	for i, turn := range req.Turns {
		switch turn.Role {
		case relay.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Content)))
		case relay.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Content)))
		case relay.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: turn.Content})
		default:
			return anthropic.MessageNewParams{}, fmt.Errorf("claude: unsupported role %q in turn %d", turn.Role, i)
		}
	}

	if len(messages) == 0 {
		return anthropic.MessageNewParams{}, errors.New("claude: request has no user or assistant turns")
	}

	params := anthropic.MessageNewParams{
		Model:     b.model,
		MaxTokens: b.maxTokens,
		Messages:  messages,
		System:    system,
	}

	if model, ok := req.Extra["model"].(string); ok && model != "" {
		params.Model = anthropic.Model(model)
	}
	if maxTokens, ok := req.Extra["max_tokens"].(float64); ok && maxTokens > 0 {
		params.MaxTokens = int64(maxTokens)
	}

	return params, nil
}

// fragments adapts the Messages SSE stream into a fragment sequence. The
// SDK stream is opened lazily on first pull and closed when the sequence
// finishes or the consuming cursor is stopped.
func (b *Backend) fragments(ctx context.Context, params anthropic.MessageNewParams) iter.Seq2[relay.Fragment, error] {
	return func(yield func(relay.Fragment, error) bool) {
		stream := b.client.Messages.NewStreaming(ctx, params)
		defer func() { _ = stream.Close() }()

		// A tool call arrives split across events: the name on the block
		// start, the arguments over input_json_delta events. It is emitted
		// as one fragment when the block stops.
		var toolName string
		var toolArgs strings.Builder

		for stream.Next() {
			switch event := stream.Current().AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if event.ContentBlock.Type == "tool_use" {
					toolName = event.ContentBlock.Name
					toolArgs.Reset()
				}
			case anthropic.ContentBlockDeltaEvent:
				switch event.Delta.Type {
				case "text_delta":
					if !yield(relay.Fragment{Content: event.Delta.Text}, nil) {
						return
					}
				case "input_json_delta":
					toolArgs.WriteString(event.Delta.PartialJSON)
				}
			case anthropic.ContentBlockStopEvent:
				if toolName == "" {
					continue
				}
				call := &relay.FunctionCall{Name: toolName, Arguments: argumentsOrEmpty(toolArgs.String())}
				toolName = ""
				if !yield(relay.Fragment{FunctionCall: call}, nil) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			yield(relay.Fragment{}, fmt.Errorf("claude: streaming: %w", err))
		}
	}
}

// toMessage flattens a buffered API reply into a single relay message:
// concatenated text plus the first tool call, if any.
func toMessage(msg *anthropic.Message) relay.Message {
	var text strings.Builder
	var call *relay.FunctionCall

	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			if call == nil {
				call = &relay.FunctionCall{
					Name:      variant.Name,
					Arguments: argumentsOrEmpty(string(variant.Input)),
				}
			}
		}
	}

	return relay.Message{Content: text.String(), FunctionCall: call}
}

// argumentsOrEmpty normalizes absent tool arguments to the empty JSON
// object the wire format expects.
func argumentsOrEmpty(arguments string) string {
	if arguments == "" {
		return "{}"
	}
	return arguments
}
