package translator

import (
	"context"
	"errors"
	"fmt"

	"srt-gateway/internal/engine"
	"srt-gateway/internal/protocol"
	"srt-gateway/internal/template"
)

// ErrStructuredContentUnsupported rejects structured message content when no
// gateway chat template is configured; the tokenizer's native template can
// only render plain text.
var ErrStructuredContentUnsupported = errors.New(
	"structured content requests are not supported without a configured chat template; " +
		"configure a gateway chat template to enable them")

// TemplateApplier renders messages with the tokenizer's native template.
type TemplateApplier interface {
	ApplyChatTemplate(ctx context.Context, messages []engine.Message) (string, error)
}

// ChatAdapter turns chat completion requests into generation requests,
// rendering prompts through either the configured gateway template or the
// tokenizer's native one.
type ChatAdapter struct {
	registry     *template.Registry
	templateName string
	applier      TemplateApplier
}

// NewChatAdapter constructs an adapter. templateName may be empty, in which
// case prompts are rendered by the tokenizer's native template and
// structured content is rejected.
func NewChatAdapter(registry *template.Registry, templateName string, applier TemplateApplier) (*ChatAdapter, error) {
	if registry == nil {
		return nil, errors.New("template registry must not be nil")
	}
	if applier == nil {
		return nil, errors.New("template applier must not be nil")
	}
	if templateName != "" && !registry.Exists(templateName) {
		return nil, fmt.Errorf("%w: %s", template.ErrUnknownTemplate, templateName)
	}
	return &ChatAdapter{
		registry:     registry,
		templateName: templateName,
		applier:      applier,
	}, nil
}

// ToGenerate adapts the wire request into a normalized GenerateRequest.
func (a *ChatAdapter) ToGenerate(ctx context.Context, req *ChatCompletionRequest) (*protocol.GenerateRequest, error) {
	prompt, stop, imageData, err := a.renderPrompt(ctx, req)
	if err != nil {
		return nil, err
	}

	gen := &protocol.GenerateRequest{
		Text:      protocol.TextInput{Single: prompt},
		ImageData: imageData,
		SamplingParams: protocol.SamplingParams{
			Temperature:      req.Temperature,
			MaxNewTokens:     req.MaxTokens,
			Stop:             protocol.StopSequences(stop),
			TopP:             req.TopP,
			PresencePenalty:  req.PresencePenalty,
			FrequencyPenalty: req.FrequencyPenalty,
			Regex:            req.Regex,
		},
		Stream: req.Stream,
	}

	if err := gen.Normalize(); err != nil {
		return nil, err
	}
	return gen, nil
}

func (a *ChatAdapter) renderPrompt(ctx context.Context, req *ChatCompletionRequest) (prompt string, stop, imageData []string, err error) {
	// A plain string is treated as a pre-rendered prompt, no template at all.
	if req.Messages.IsPrompt {
		return req.Messages.Prompt, req.Stop, nil, nil
	}

	if a.templateName == "" {
		for _, msg := range req.Messages.List {
			if !msg.IsPlainText() {
				return "", nil, nil, ErrStructuredContentUnsupported
			}
		}

		messages := make([]engine.Message, 0, len(req.Messages.List))
		for _, msg := range req.Messages.List {
			messages = append(messages, engine.Message{Role: msg.Role, Content: msg.Content})
		}
		prompt, err = a.applier.ApplyChatTemplate(ctx, messages)
		if err != nil {
			return "", nil, nil, fmt.Errorf("apply native chat template: %w", err)
		}
		return prompt, req.Stop, nil, nil
	}

	conv, err := a.registry.Get(a.templateName)
	if err != nil {
		return "", nil, nil, err
	}

	messages := make([]template.Message, 0, len(req.Messages.List))
	for _, msg := range req.Messages.List {
		messages = append(messages, template.Message{
			Role:    msg.Role,
			Content: msg.Content,
			Images:  msg.Images(),
		})
	}

	rendered, err := conv.Render(messages)
	if err != nil {
		return "", nil, nil, err
	}

	// Template stops are seeded first, caller stops appended, duplicates kept.
	stop = append(rendered.Stop, req.Stop...)
	return rendered.Prompt, stop, rendered.ImageData, nil
}
