package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	errEmptyText       = errors.New("text must be provided")
	errBroadcastLength = errors.New("per-prompt field length must match the number of prompts")
	errUnsupportedStop = errors.New("unsupported stop value")
)

// SamplingParams carries the decoding controls forwarded to the scheduler.
type SamplingParams struct {
	Temperature      float64       `json:"temperature"`
	MaxNewTokens     int           `json:"max_new_tokens"`
	Stop             StopSequences `json:"stop,omitempty"`
	TopP             float64       `json:"top_p"`
	PresencePenalty  float64       `json:"presence_penalty"`
	FrequencyPenalty float64       `json:"frequency_penalty"`
	Regex            string        `json:"regex,omitempty"`
}

// StopSequences accepts either a single string or a list of strings.
type StopSequences []string

func (s *StopSequences) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = nil
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = StopSequences{single}
		return nil
	}

	var multi []string
	if err := json.Unmarshal(data, &multi); err == nil {
		*s = StopSequences(multi)
		return nil
	}
	return errUnsupportedStop
}

// TextInput accepts either a single prompt or a batch of prompts.
type TextInput struct {
	Single string
	Batch  []string
}

// IsBatch reports whether the input was given as a list of prompts.
func (t TextInput) IsBatch() bool {
	return t.Batch != nil
}

// Prompts returns the prompts as a slice regardless of input form.
func (t TextInput) Prompts() []string {
	if t.IsBatch() {
		return t.Batch
	}
	return []string{t.Single}
}

// Len returns the number of prompts.
func (t TextInput) Len() int {
	if t.IsBatch() {
		return len(t.Batch)
	}
	return 1
}

func (t TextInput) MarshalJSON() ([]byte, error) {
	if t.IsBatch() {
		return json.Marshal(t.Batch)
	}
	return json.Marshal(t.Single)
}

func (t *TextInput) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		t.Single = single
		t.Batch = nil
		return nil
	}

	var batch []string
	if err := json.Unmarshal(data, &batch); err == nil {
		t.Single = ""
		t.Batch = batch
		return nil
	}
	return errors.New("text must be a string or a list of strings")
}

// BoolBroadcast accepts either a single bool applied to every prompt or a
// per-prompt list of bools.
type BoolBroadcast struct {
	Single bool
	Batch  []bool
}

// At returns the value for prompt index i. Call Normalize first on batch
// requests so Batch is resolved to the prompt count.
func (b BoolBroadcast) At(i int) bool {
	if b.Batch == nil {
		return b.Single
	}
	return b.Batch[i]
}

func (b BoolBroadcast) MarshalJSON() ([]byte, error) {
	if b.Batch != nil {
		return json.Marshal(b.Batch)
	}
	return json.Marshal(b.Single)
}

func (b *BoolBroadcast) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		b.Single = false
		b.Batch = nil
		return nil
	}

	var single bool
	if err := json.Unmarshal(data, &single); err == nil {
		b.Single = single
		b.Batch = nil
		return nil
	}

	var batch []bool
	if err := json.Unmarshal(data, &batch); err == nil {
		b.Batch = batch
		return nil
	}
	return errors.New("expected a bool or a list of bools")
}

// GenerateRequest is the internal generation-request format dispatched to the
// tokenizer coordinator. It is immutable once Normalize has run.
type GenerateRequest struct {
	Text                 TextInput      `json:"text"`
	ImageData            []string       `json:"image_data,omitempty"`
	SamplingParams       SamplingParams `json:"sampling_params"`
	Stream               bool           `json:"stream,omitempty"`
	ReturnLogprob        BoolBroadcast  `json:"return_logprob"`
	TopLogprobsNum       int            `json:"top_logprobs_num,omitempty"`
	ReturnTextInLogprobs bool           `json:"return_text_in_logprobs,omitempty"`

	// Rid holds one gateway-assigned request id per prompt, filled in by
	// Normalize.
	Rid []string `json:"rid,omitempty"`

	normalized bool
}

// Normalize resolves defaults and broadcasts per-prompt fields so every
// prompt has an explicit value. It must be called exactly once, before
// dispatch; per-prompt lists of the wrong length are rejected.
func (r *GenerateRequest) Normalize() error {
	if r.normalized {
		return nil
	}

	if !r.Text.IsBatch() {
		if strings.TrimSpace(r.Text.Single) == "" {
			return errEmptyText
		}
		if r.ReturnLogprob.Batch != nil {
			return fmt.Errorf("return_logprob: %w", errBroadcastLength)
		}
	} else {
		if len(r.Text.Batch) == 0 {
			return errEmptyText
		}
		n := len(r.Text.Batch)
		if r.ReturnLogprob.Batch == nil {
			resolved := make([]bool, n)
			for i := range resolved {
				resolved[i] = r.ReturnLogprob.Single
			}
			r.ReturnLogprob.Batch = resolved
		} else if len(r.ReturnLogprob.Batch) != n {
			return fmt.Errorf("return_logprob: %w", errBroadcastLength)
		}
	}

	if r.SamplingParams.MaxNewTokens <= 0 {
		r.SamplingParams.MaxNewTokens = defaultMaxNewTokens
	}
	if r.SamplingParams.TopP == 0 {
		r.SamplingParams.TopP = 1.0
	}

	if r.Rid == nil {
		r.Rid = make([]string, r.Text.Len())
		for i := range r.Rid {
			r.Rid[i] = uuid.NewString()
		}
	} else if len(r.Rid) != r.Text.Len() {
		return fmt.Errorf("rid: %w", errBroadcastLength)
	}

	r.normalized = true
	return nil
}

// Normalized reports whether Normalize has completed.
func (r *GenerateRequest) Normalized() bool {
	return r.normalized
}

const defaultMaxNewTokens = 16
