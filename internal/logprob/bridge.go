package logprob

import (
	"context"
	"errors"
	"fmt"

	"srt-gateway/internal/protocol"
)

// Detokenizer converts token ids to their text form, preserving order.
type Detokenizer interface {
	Detokenize(ctx context.Context, tokenIDs []int) ([]string, error)
}

// Bridge fills in token text on logprob records. Records pass through
// untouched unless text was requested, so the hot path never crosses the
// process boundary.
type Bridge struct {
	detok Detokenizer
}

// NewBridge constructs a bridge over the given detokenizer.
func NewBridge(detok Detokenizer) (*Bridge, error) {
	if detok == nil {
		return nil, errors.New("detokenizer must not be nil")
	}
	return &Bridge{detok: detok}, nil
}

// Resolve returns the records with Text populated when wantText is set.
// Order is preserved exactly; the input slice is never mutated.
func (b *Bridge) Resolve(ctx context.Context, records []protocol.TokenLogprob, wantText bool) ([]protocol.TokenLogprob, error) {
	if len(records) == 0 || !wantText {
		return records, nil
	}

	tokenIDs := make([]int, len(records))
	for i, record := range records {
		tokenIDs[i] = record.TokenID
	}

	texts, err := b.detok.Detokenize(ctx, tokenIDs)
	if err != nil {
		return nil, fmt.Errorf("detokenize %d logprob tokens: %w", len(tokenIDs), err)
	}

	resolved := make([]protocol.TokenLogprob, len(records))
	for i, record := range records {
		text := texts[i]
		record.Text = &text
		resolved[i] = record
	}
	return resolved, nil
}

// ResolveTop resolves a list of per-position top-k record lists. Absent
// positions (nil slots) pass through as absent.
func (b *Bridge) ResolveTop(ctx context.Context, top []protocol.TopLogprobs, wantText bool) ([]protocol.TopLogprobs, error) {
	if len(top) == 0 || !wantText {
		return top, nil
	}

	resolved := make([]protocol.TopLogprobs, len(top))
	for i, slot := range top {
		if slot == nil {
			continue
		}
		records, err := b.Resolve(ctx, slot, wantText)
		if err != nil {
			return nil, err
		}
		resolved[i] = records
	}
	return resolved, nil
}

// ResolveResult rewrites every logprob section of one generation result in
// place. index selects the per-prompt return_logprob flag of the originating
// request; results for prompts that did not ask for logprobs are untouched.
func (b *Bridge) ResolveResult(ctx context.Context, req *protocol.GenerateRequest, result *protocol.GenerateResult, index int) error {
	if !req.ReturnLogprob.At(index) {
		return nil
	}

	wantText := req.ReturnTextInLogprobs
	meta := &result.MetaInfo

	var err error
	if meta.PrefillTokenLogprobs, err = b.Resolve(ctx, meta.PrefillTokenLogprobs, wantText); err != nil {
		return err
	}
	if meta.DecodeTokenLogprobs, err = b.Resolve(ctx, meta.DecodeTokenLogprobs, wantText); err != nil {
		return err
	}
	if meta.PrefillTopLogprobs, err = b.ResolveTop(ctx, meta.PrefillTopLogprobs, wantText); err != nil {
		return err
	}
	if meta.DecodeTopLogprobs, err = b.ResolveTop(ctx, meta.DecodeTopLogprobs, wantText); err != nil {
		return err
	}
	return nil
}
