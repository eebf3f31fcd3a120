package relay

import (
	"context"
	"errors"
	"testing"
)

func TestAdaptDropsUnknownRoles(t *testing.T) {
	req := Request{Turns: []Turn{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
		{Role: "tool", Content: "lookup result"},
		{Role: RoleAssistant, Content: "hello"},
		{Role: "developer", Content: "ignored"},
	}}

	var upstream Request
	generate := func(ctx context.Context, req Request) (Result, error) {
		upstream = req
		return TextOf("ok"), nil
	}

	stream, err := Adapt(context.Background(), req, generate)
	if err != nil {
		t.Fatalf("Adapt() error = %v", err)
	}
	defer stream.Close()

	want := []Turn{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	}
	if len(upstream.Turns) != len(want) {
		t.Fatalf("upstream got %d turns, want %d: %v", len(upstream.Turns), len(want), upstream.Turns)
	}
	for i, turn := range want {
		if upstream.Turns[i] != turn {
			t.Errorf("turn %d = %v, want %v", i, upstream.Turns[i], turn)
		}
	}
}

func TestAdaptPassesExtraFieldsOnACopy(t *testing.T) {
	req := Request{
		Turns: []Turn{{Role: RoleUser, Content: "hi"}},
		Extra: map[string]any{"model": "claude-sonnet-4-5", "temperature": 0.2},
	}

	generate := func(ctx context.Context, upstream Request) (Result, error) {
		if upstream.Extra["model"] != "claude-sonnet-4-5" {
			t.Errorf("model not passed through: %v", upstream.Extra)
		}
		// Upstream-side mutation must never reach the caller's request.
		upstream.Extra["model"] = "mutated"
		upstream.Turns[0].Content = "mutated"
		return TextOf("ok"), nil
	}

	stream, err := Adapt(context.Background(), req, generate)
	if err != nil {
		t.Fatalf("Adapt() error = %v", err)
	}
	defer stream.Close()

	if req.Extra["model"] != "claude-sonnet-4-5" {
		t.Errorf("caller's extra fields mutated: %v", req.Extra)
	}
	if req.Turns[0].Content != "hi" {
		t.Errorf("caller's turns mutated: %v", req.Turns)
	}
}

func TestAdaptWrapsInvocationFailure(t *testing.T) {
	cause := errors.New("backend unreachable")
	generate := func(ctx context.Context, req Request) (Result, error) {
		return Result{}, cause
	}

	stream, err := Adapt(context.Background(), Request{}, generate)
	if stream != nil {
		t.Fatal("Adapt() returned a stream alongside an invocation failure")
	}

	var invErr *InvocationError
	if !errors.As(err, &invErr) {
		t.Fatalf("error type = %T, want *InvocationError", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("error chain does not contain the cause: %v", err)
	}
}

func TestAdaptRejectsZeroResult(t *testing.T) {
	generate := func(ctx context.Context, req Request) (Result, error) {
		return Result{}, nil
	}

	stream, err := Adapt(context.Background(), Request{}, generate)
	if stream != nil {
		t.Fatal("Adapt() returned a stream for an invalid result")
	}
	if !errors.Is(err, ErrInvalidUpstreamResult) {
		t.Errorf("error = %v, want ErrInvalidUpstreamResult", err)
	}
}

func TestAdaptRejectsNilGenerateFunc(t *testing.T) {
	if _, err := Adapt(context.Background(), Request{}, nil); err == nil {
		t.Error("Adapt() with nil generate = nil error, want error")
	}
}

func TestAdaptDispatchesEachVariant(t *testing.T) {
	var released int
	tests := map[string]struct {
		result      Result
		wantRecords int
	}{
		"incremental stream": {
			result: StreamOf(fragmentSource(
				[]Fragment{{Content: "a"}, {Content: "b"}}, nil, &released,
			)),
			wantRecords: 3,
		},
		"single message": {
			result:      MessageOf(Message{Content: "hi", FunctionCall: &FunctionCall{Name: "f", Arguments: "{}"}}),
			wantRecords: 2,
		},
		"plain text": {
			result:      TextOf("hi"),
			wantRecords: 2,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			generate := func(ctx context.Context, req Request) (Result, error) {
				return tt.result, nil
			}
			stream, err := Adapt(context.Background(), Request{}, generate)
			if err != nil {
				t.Fatalf("Adapt() error = %v", err)
			}

			records := readRecords(t, stream)
			if len(records) != tt.wantRecords {
				t.Errorf("got %d records, want %d: %q", len(records), tt.wantRecords, records)
			}
			if records[len(records)-1] != "data: [DONE]" {
				t.Errorf("last record = %q, want data: [DONE]", records[len(records)-1])
			}
		})
	}
}
