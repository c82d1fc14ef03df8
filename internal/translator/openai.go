package translator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"srt-gateway/internal/protocol"
)

var (
	errEmptyModel     = errors.New("model must be provided")
	errEmptyMessages  = errors.New("at least one message is required")
	errEmptyPrompt    = errors.New("prompt must not be empty")
	errInvalidRole    = errors.New("invalid role")
	errInvalidContent = errors.New("invalid message content")

	// ErrUnsupportedN rejects requests asking for more than one choice.
	ErrUnsupportedN = errors.New("generating more than one choice per request (n != 1) is not supported")
)

var allowedRoles = map[string]struct{}{
	"system":    {},
	"user":      {},
	"assistant": {},
	"tool":      {},
}

// CompletionRequest models the OpenAI /v1/completions request payload.
type CompletionRequest struct {
	Model            string
	Prompt           protocol.TextInput
	MaxTokens        int
	Temperature      float64
	TopP             float64
	PresencePenalty  float64
	FrequencyPenalty float64
	Stop             []string
	Regex            string
	N                int
	Stream           bool
	Logprobs         *int
	Echo             bool
}

// UnmarshalJSON implements custom parsing to enforce validation.
func (r *CompletionRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Model            string                 `json:"model"`
		Prompt           protocol.TextInput     `json:"prompt"`
		MaxTokens        *int                   `json:"max_tokens"`
		Temperature      *float64               `json:"temperature"`
		TopP             *float64               `json:"top_p"`
		PresencePenalty  float64                `json:"presence_penalty"`
		FrequencyPenalty float64                `json:"frequency_penalty"`
		Stop             protocol.StopSequences `json:"stop"`
		Regex            string                 `json:"regex"`
		N                *int                   `json:"n"`
		Stream           bool                   `json:"stream"`
		Logprobs         *int                   `json:"logprobs"`
		Echo             bool                   `json:"echo"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode completion request: %w", err)
	}

	r.Model = strings.TrimSpace(raw.Model)
	r.Prompt = raw.Prompt
	r.MaxTokens = valueOr(raw.MaxTokens, 16)
	r.Temperature = valueOr(raw.Temperature, 1.0)
	r.TopP = valueOr(raw.TopP, 1.0)
	r.PresencePenalty = raw.PresencePenalty
	r.FrequencyPenalty = raw.FrequencyPenalty
	r.Stop = raw.Stop
	r.Regex = raw.Regex
	r.N = valueOr(raw.N, 1)
	r.Stream = raw.Stream
	r.Logprobs = raw.Logprobs
	r.Echo = raw.Echo

	return r.validate()
}

func (r *CompletionRequest) validate() error {
	if r.Model == "" {
		return errEmptyModel
	}
	if r.N != 1 {
		return ErrUnsupportedN
	}
	for _, prompt := range r.Prompt.Prompts() {
		if strings.TrimSpace(prompt) == "" {
			return errEmptyPrompt
		}
	}
	return nil
}

// WantLogprobs reports whether OpenAI-style logprobs were requested.
func (r CompletionRequest) WantLogprobs() bool {
	return r.Logprobs != nil && *r.Logprobs > 0
}

// ToGenerate adapts the wire request into a normalized GenerateRequest.
func (r CompletionRequest) ToGenerate() (*protocol.GenerateRequest, error) {
	topLogprobs := 0
	if r.Logprobs != nil {
		topLogprobs = *r.Logprobs
	}

	gen := &protocol.GenerateRequest{
		Text: r.Prompt,
		SamplingParams: protocol.SamplingParams{
			Temperature:      r.Temperature,
			MaxNewTokens:     r.MaxTokens,
			Stop:             protocol.StopSequences(r.Stop),
			TopP:             r.TopP,
			PresencePenalty:  r.PresencePenalty,
			FrequencyPenalty: r.FrequencyPenalty,
			Regex:            r.Regex,
		},
		Stream:               r.Stream,
		ReturnLogprob:        protocol.BoolBroadcast{Single: r.WantLogprobs()},
		TopLogprobsNum:       topLogprobs,
		ReturnTextInLogprobs: true,
	}

	if err := gen.Normalize(); err != nil {
		return nil, err
	}
	return gen, nil
}

// ChatMessage captures one message of a chat request. Structured holds the
// original content parts when the caller sent a part list instead of plain
// text; Content is the concatenated text either way.
type ChatMessage struct {
	Role       string
	Content    string
	Structured []ContentPart
	Name       string
}

// ContentPart is one element of structured message content.
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// UnmarshalJSON supports string and part-list content formats.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
		Name    string          `json:"name"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}

	m.Role = strings.TrimSpace(raw.Role)
	m.Name = strings.TrimSpace(raw.Name)

	if raw.Content == nil {
		return fmt.Errorf("%w: missing content", errInvalidContent)
	}

	var text string
	if err := json.Unmarshal(raw.Content, &text); err == nil {
		m.Content = text
		m.Structured = nil
		return m.validate()
	}

	var parts []ContentPart
	if err := json.Unmarshal(raw.Content, &parts); err != nil {
		return fmt.Errorf("%w: unsupported content structure", errInvalidContent)
	}

	var builder strings.Builder
	for _, part := range parts {
		switch part.Type {
		case "text":
			builder.WriteString(part.Text)
		case "image_url":
		default:
			return fmt.Errorf("%w: content part type %q not supported", errInvalidContent, part.Type)
		}
	}
	m.Content = builder.String()
	m.Structured = parts
	return m.validate()
}

func (m *ChatMessage) validate() error {
	if _, ok := allowedRoles[m.Role]; !ok {
		return fmt.Errorf("%w: %s", errInvalidRole, m.Role)
	}
	return nil
}

// IsPlainText reports whether the message content arrived as a plain string.
func (m ChatMessage) IsPlainText() bool {
	return m.Structured == nil
}

// Images returns image attachments from structured content.
func (m ChatMessage) Images() []string {
	var images []string
	for _, part := range m.Structured {
		if part.Type == "image_url" && part.ImageURL != "" {
			images = append(images, part.ImageURL)
		}
	}
	return images
}

// MessagesInput accepts either a pre-rendered prompt string or a message
// list.
type MessagesInput struct {
	Prompt   string
	IsPrompt bool
	List     []ChatMessage
}

func (m *MessagesInput) UnmarshalJSON(data []byte) error {
	var prompt string
	if err := json.Unmarshal(data, &prompt); err == nil {
		m.Prompt = prompt
		m.IsPrompt = true
		m.List = nil
		return nil
	}

	var list []ChatMessage
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("%w: messages must be a string or a list of messages", errInvalidContent)
	}
	m.List = list
	m.IsPrompt = false
	return nil
}

// ChatCompletionRequest models the OpenAI /v1/chat/completions payload.
type ChatCompletionRequest struct {
	Model            string
	Messages         MessagesInput
	MaxTokens        int
	Temperature      float64
	TopP             float64
	PresencePenalty  float64
	FrequencyPenalty float64
	Stop             []string
	Regex            string
	N                int
	Stream           bool
}

// UnmarshalJSON implements custom parsing to enforce validation.
func (r *ChatCompletionRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Model            string                 `json:"model"`
		Messages         MessagesInput          `json:"messages"`
		MaxTokens        *int                   `json:"max_tokens"`
		Temperature      *float64               `json:"temperature"`
		TopP             *float64               `json:"top_p"`
		PresencePenalty  float64                `json:"presence_penalty"`
		FrequencyPenalty float64                `json:"frequency_penalty"`
		Stop             protocol.StopSequences `json:"stop"`
		Regex            string                 `json:"regex"`
		N                *int                   `json:"n"`
		Stream           bool                   `json:"stream"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode chat request: %w", err)
	}

	r.Model = strings.TrimSpace(raw.Model)
	r.Messages = raw.Messages
	r.MaxTokens = valueOr(raw.MaxTokens, 16)
	r.Temperature = valueOr(raw.Temperature, 1.0)
	r.TopP = valueOr(raw.TopP, 1.0)
	r.PresencePenalty = raw.PresencePenalty
	r.FrequencyPenalty = raw.FrequencyPenalty
	r.Stop = raw.Stop
	r.Regex = raw.Regex
	r.N = valueOr(raw.N, 1)
	r.Stream = raw.Stream

	return r.validate()
}

func (r *ChatCompletionRequest) validate() error {
	if r.Model == "" {
		return errEmptyModel
	}
	if r.N != 1 {
		return ErrUnsupportedN
	}
	if !r.Messages.IsPrompt && len(r.Messages.List) == 0 {
		return errEmptyMessages
	}
	return nil
}

func valueOr[T any](ptr *T, fallback T) T {
	if ptr == nil {
		return fallback
	}
	return *ptr
}
