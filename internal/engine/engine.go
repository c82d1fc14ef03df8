package engine

import (
	"context"

	"srt-gateway/internal/protocol"
)

// Event is one update from an in-flight generation. Results carries one
// entry per prompt; single-prompt requests always carry exactly one.
type Event struct {
	Results []protocol.GenerateResult
}

// Stream is a finite, non-restartable sequence of generation events.
// Events is closed when the upstream sequence ends; Err reports why, and
// returns nil after a normal end of stream. Stopping consumption is done by
// cancelling the context passed to Generate.
type Stream struct {
	events chan Event
	err    error
}

// Events returns the event channel.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Err returns the terminal error, if any. Only valid after Events is closed.
func (s *Stream) Err() error {
	return s.err
}

// Message is a rendered chat message handed to the tokenizer's native
// template.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the interface to the tokenizer coordinator. Generation,
// detokenization and template application all cross a process boundary and
// therefore take a context.
type Client interface {
	// Generate dispatches a normalized request and returns its event stream.
	Generate(ctx context.Context, req *protocol.GenerateRequest) (*Stream, error)
	// Detokenize converts token ids to their text form, preserving order.
	Detokenize(ctx context.Context, tokenIDs []int) ([]string, error)
	// ApplyChatTemplate renders messages with the tokenizer's own template.
	ApplyChatTemplate(ctx context.Context, messages []Message) (string, error)
	// FlushCache asks the scheduler to drop its prefix cache.
	FlushCache(ctx context.Context) error
}
