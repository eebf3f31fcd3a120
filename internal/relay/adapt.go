package relay

import (
	"context"
	"errors"
)

// GenerateFunc invokes an upstream generation backend with the transformed
// request and reports the outcome as an explicitly tagged Result. The
// backend binding constructs the variant matching what it actually produced.
type GenerateFunc func(ctx context.Context, req Request) (Result, error)

// Adapt transforms req into its upstream form, invokes generate, and
// normalizes whatever came back into a single output stream.
//
// Turns with roles other than user, assistant, or system are dropped from
// the upstream request; the remaining turns keep their original order. All
// other request fields pass through on a shallow copy, so generate can never
// mutate the caller's request.
//
// A generate failure is returned as *InvocationError and a zero Result as
// ErrInvalidUpstreamResult; in both cases no stream is produced. Once a
// stream has been returned, later failures travel through the stream itself
// and output already delivered is not retracted.
func Adapt(ctx context.Context, req Request, generate GenerateFunc) (*Stream, error) {
	if generate == nil {
		return nil, errors.New("relay: generate function cannot be nil")
	}

	upstream := req.clone()
	upstream.Turns = keepKnownRoles(upstream.Turns)

	result, err := generate(ctx, upstream)
	if err != nil {
		return nil, &InvocationError{Err: err}
	}

	switch result.kind {
	case kindStream:
		return newPullStream(result.fragments), nil
	case kindMessage:
		return newOneShotStream(result.message.Content, result.message.FunctionCall), nil
	case kindText:
		return newOneShotStream(result.text, nil), nil
	default:
		return nil, ErrInvalidUpstreamResult
	}
}

// keepKnownRoles drops turns whose role the upstream contract does not
// define. Unknown roles are not an error.
func keepKnownRoles(turns []Turn) []Turn {
	kept := make([]Turn, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case RoleUser, RoleAssistant, RoleSystem:
			kept = append(kept, turn)
		}
	}
	return kept
}
