package relay

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Role identifies the author of a conversational turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one entry of a conversational history.
type Turn struct {
	Role    Role   `json:"role" validate:"required"`
	Content string `json:"content"`
}

// Request is the caller-supplied generation payload: an ordered sequence of
// conversational turns plus arbitrary additional fields that are passed
// through to the upstream backend untouched.
//
// A Request is never mutated by the adapter; upstream invocations operate on
// a shallow copy.
type Request struct {
	Turns []Turn `json:"turns" validate:"required,min=1,dive"`

	// Extra holds request fields other than "turns". Populated during
	// unmarshaling and re-emitted on marshaling, so unknown fields survive
	// the round trip to the upstream backend.
	Extra map[string]any `json:"-"`
}

// UnmarshalJSON decodes the known turns field and captures every other
// top-level field into Extra.
func (r *Request) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	if rawTurns, ok := fields["turns"]; ok {
		if err := json.Unmarshal(rawTurns, &r.Turns); err != nil {
			return fmt.Errorf("decode turns: %w", err)
		}
		delete(fields, "turns")
	}

	if len(fields) == 0 {
		r.Extra = nil
		return nil
	}

	r.Extra = make(map[string]any, len(fields))
	for key, raw := range fields {
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			return fmt.Errorf("decode field %q: %w", key, err)
		}
		r.Extra[key] = value
	}
	return nil
}

// MarshalJSON emits turns alongside all passthrough fields. A passthrough
// field named "turns" never shadows the typed field.
func (r Request) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Extra)+1)
	maps.Copy(out, r.Extra)
	out["turns"] = r.Turns
	return json.Marshal(out)
}

// clone returns a shallow copy whose Turns slice and Extra map are
// independent of the original, so upstream-side mutation cannot reach the
// caller's Request.
func (r Request) clone() Request {
	return Request{
		Turns: slices.Clone(r.Turns),
		Extra: maps.Clone(r.Extra),
	}
}
