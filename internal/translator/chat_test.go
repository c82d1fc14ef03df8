package translator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"srt-gateway/internal/engine"
	"srt-gateway/internal/template"
)

type fakeApplier struct {
	received []engine.Message
	prompt   string
	err      error
}

func (f *fakeApplier) ApplyChatTemplate(_ context.Context, messages []engine.Message) (string, error) {
	f.received = messages
	if f.err != nil {
		return "", f.err
	}
	return f.prompt, nil
}

func chatRequest(messages MessagesInput) *ChatCompletionRequest {
	return &ChatCompletionRequest{
		Model:       "m",
		Messages:    messages,
		MaxTokens:   32,
		Temperature: 1.0,
		TopP:        1.0,
		N:           1,
	}
}

func TestChatAdapter_PreRenderedPromptPassesThrough(t *testing.T) {
	applier := &fakeApplier{}
	adapter, err := NewChatAdapter(template.NewRegistry(), "", applier)
	require.NoError(t, err)

	req := chatRequest(MessagesInput{Prompt: "raw prompt", IsPrompt: true})
	req.Stop = []string{"###"}

	gen, err := adapter.ToGenerate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "raw prompt", gen.Text.Single)
	assert.Equal(t, []string{"###"}, []string(gen.SamplingParams.Stop))
	assert.Nil(t, applier.received, "pre-rendered prompts must not hit the tokenizer template")
}

func TestChatAdapter_NativeTemplateRendersPlainMessages(t *testing.T) {
	applier := &fakeApplier{prompt: "rendered by tokenizer"}
	adapter, err := NewChatAdapter(template.NewRegistry(), "", applier)
	require.NoError(t, err)

	req := chatRequest(MessagesInput{List: []ChatMessage{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	}})

	gen, err := adapter.ToGenerate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "rendered by tokenizer", gen.Text.Single)
	require.Len(t, applier.received, 2)
	assert.Equal(t, engine.Message{Role: "user", Content: "hi"}, applier.received[1])
}

func TestChatAdapter_StructuredContentWithoutTemplateIsRejected(t *testing.T) {
	adapter, err := NewChatAdapter(template.NewRegistry(), "", &fakeApplier{})
	require.NoError(t, err)

	req := chatRequest(MessagesInput{List: []ChatMessage{
		{
			Role:    "user",
			Content: "what is this",
			Structured: []ContentPart{
				{Type: "text", Text: "what is this"},
				{Type: "image_url", ImageURL: "https://example.com/a.png"},
			},
		},
	}})

	_, err = adapter.ToGenerate(context.Background(), req)
	assert.ErrorIs(t, err, ErrStructuredContentUnsupported)
}

func TestChatAdapter_GatewayTemplateSeedsStopsFirst(t *testing.T) {
	applier := &fakeApplier{}
	adapter, err := NewChatAdapter(template.NewRegistry(), "chatml", applier)
	require.NoError(t, err)

	req := chatRequest(MessagesInput{List: []ChatMessage{
		{Role: "user", Content: "hi"},
	}})
	req.Stop = []string{"###"}

	gen, err := adapter.ToGenerate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"<|im_end|>", "###"}, []string(gen.SamplingParams.Stop))
	assert.Contains(t, gen.Text.Single, "<|im_start|>user\nhi<|im_end|>")
	assert.Nil(t, applier.received, "gateway template rendering must not hit the tokenizer")
}

func TestChatAdapter_GatewayTemplateCollectsImages(t *testing.T) {
	adapter, err := NewChatAdapter(template.NewRegistry(), "chatml", &fakeApplier{})
	require.NoError(t, err)

	req := chatRequest(MessagesInput{List: []ChatMessage{
		{
			Role:    "user",
			Content: "describe this",
			Structured: []ContentPart{
				{Type: "text", Text: "describe this"},
				{Type: "image_url", ImageURL: "https://example.com/a.png"},
			},
		},
	}})

	gen, err := adapter.ToGenerate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/a.png"}, gen.ImageData)
}

func TestChatAdapter_PropagatesApplierError(t *testing.T) {
	applier := &fakeApplier{err: errors.New("tokenizer offline")}
	adapter, err := NewChatAdapter(template.NewRegistry(), "", applier)
	require.NoError(t, err)

	req := chatRequest(MessagesInput{List: []ChatMessage{{Role: "user", Content: "hi"}}})

	_, err = adapter.ToGenerate(context.Background(), req)
	assert.ErrorContains(t, err, "tokenizer offline")
}

func TestNewChatAdapter_RejectsUnknownTemplate(t *testing.T) {
	_, err := NewChatAdapter(template.NewRegistry(), "no-such-template", &fakeApplier{})
	assert.ErrorIs(t, err, template.ErrUnknownTemplate)
}
