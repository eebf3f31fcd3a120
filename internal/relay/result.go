package relay

import "iter"

// FunctionCall describes a function/tool invocation requested by the model.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Fragment is one incremental unit produced by an upstream fragment stream.
// Content may be empty. Ownership transfers to the consuming Stream on read;
// fragments are not retained after encoding.
type Fragment struct {
	Content      string
	FunctionCall *FunctionCall
}

// Message is one fully formed message unit: text content plus an optional
// function call descriptor.
type Message struct {
	Content      string
	FunctionCall *FunctionCall
}

type resultKind int

const (
	kindInvalid resultKind = iota
	kindStream
	kindMessage
	kindText
)

// Result is the outcome of an upstream generation call. Exactly one variant
// is populated; the GenerateFunc constructs the variant matching what its
// backend actually returned, so dispatch never has to inspect runtime shape.
// The zero Result is invalid and rejected by Adapt.
type Result struct {
	kind      resultKind
	fragments iter.Seq2[Fragment, error]
	message   Message
	text      string
}

// StreamOf wraps an incremental fragment sequence. The sequence yields
// fragments until end of sequence; a yielded non-nil error terminates the
// stream. Any release logic the sequence needs (closing SDK streams,
// response bodies) belongs in the sequence body itself, where it runs when
// the consuming cursor is stopped.
func StreamOf(fragments iter.Seq2[Fragment, error]) Result {
	return Result{kind: kindStream, fragments: fragments}
}

// MessageOf wraps a single fully formed message.
func MessageOf(msg Message) Result {
	return Result{kind: kindMessage, message: msg}
}

// TextOf wraps a bare string result.
func TextOf(text string) Result {
	return Result{kind: kindText, text: text}
}
