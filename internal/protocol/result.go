package protocol

import (
	"encoding/json"
	"fmt"
)

// TokenLogprob is one log-probability record. On the wire it is the tuple
// [logprob, token_id, token_text]; Text stays nil until the detokenization
// bridge fills it in.
type TokenLogprob struct {
	Logprob float64
	TokenID int
	Text    *string
}

func (t TokenLogprob) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]any{t.Logprob, t.TokenID, t.Text})
}

func (t *TokenLogprob) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("decode token logprob tuple: %w", err)
	}
	if len(parts) < 2 || len(parts) > 3 {
		return fmt.Errorf("token logprob tuple must have 2 or 3 elements, got %d", len(parts))
	}
	if err := json.Unmarshal(parts[0], &t.Logprob); err != nil {
		return fmt.Errorf("decode logprob: %w", err)
	}
	if err := json.Unmarshal(parts[1], &t.TokenID); err != nil {
		return fmt.Errorf("decode token id: %w", err)
	}
	t.Text = nil
	if len(parts) == 3 {
		if err := json.Unmarshal(parts[2], &t.Text); err != nil {
			return fmt.Errorf("decode token text: %w", err)
		}
	}
	return nil
}

// TopLogprobs holds the top-k candidate records for one position. A nil
// slice means the position had no candidates and marshals as JSON null.
type TopLogprobs []TokenLogprob

// MetaInfo carries per-result accounting and logprob data.
type MetaInfo struct {
	ID                   string         `json:"id"`
	PromptTokens         int            `json:"prompt_tokens"`
	CompletionTokens     int            `json:"completion_tokens"`
	FinishReason         string         `json:"finish_reason,omitempty"`
	PrefillTokenLogprobs []TokenLogprob `json:"prefill_token_logprobs,omitempty"`
	DecodeTokenLogprobs  []TokenLogprob `json:"decode_token_logprobs,omitempty"`
	PrefillTopLogprobs   []TopLogprobs  `json:"prefill_top_logprobs,omitempty"`
	DecodeTopLogprobs    []TopLogprobs  `json:"decode_top_logprobs,omitempty"`
}

// GenerateResult is one partial or final generation result. Text is
// cumulative: each result's text is a prefix-extension of the previous one
// for the same request.
type GenerateResult struct {
	Text     string   `json:"text"`
	MetaInfo MetaInfo `json:"meta_info"`
}
