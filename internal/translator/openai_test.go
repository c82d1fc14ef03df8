package translator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"srt-gateway/internal/protocol"
)

func TestCompletionRequest_AppliesDefaults(t *testing.T) {
	payload := `{"model": "test-model", "prompt": "hello"}`

	var req CompletionRequest
	require.NoError(t, json.Unmarshal([]byte(payload), &req))

	assert.Equal(t, "test-model", req.Model)
	assert.Equal(t, 16, req.MaxTokens)
	assert.Equal(t, 1.0, req.Temperature)
	assert.Equal(t, 1.0, req.TopP)
	assert.Equal(t, 1, req.N)
	assert.False(t, req.WantLogprobs())
}

func TestCompletionRequest_RejectsMultipleChoices(t *testing.T) {
	payload := `{"model": "test-model", "prompt": "hello", "n": 2}`

	var req CompletionRequest
	err := json.Unmarshal([]byte(payload), &req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedN)
}

func TestCompletionRequest_RejectsMissingModelAndPrompt(t *testing.T) {
	var req CompletionRequest
	assert.Error(t, json.Unmarshal([]byte(`{"prompt": "hello"}`), &req))
	assert.Error(t, json.Unmarshal([]byte(`{"model": "m", "prompt": ""}`), &req))
}

func TestCompletionRequest_ToGenerateCarriesSamplingAndLogprobs(t *testing.T) {
	three := 3
	req := CompletionRequest{
		Model:       "m",
		Prompt:      protocol.TextInput{Single: "hi"},
		MaxTokens:   64,
		Temperature: 0.7,
		TopP:        0.9,
		Stop:        []string{"###"},
		N:           1,
		Logprobs:    &three,
		Stream:      true,
	}

	gen, err := req.ToGenerate()
	require.NoError(t, err)

	assert.True(t, gen.Normalized())
	assert.Equal(t, "hi", gen.Text.Single)
	assert.Equal(t, 64, gen.SamplingParams.MaxNewTokens)
	assert.Equal(t, 0.7, gen.SamplingParams.Temperature)
	assert.Equal(t, []string{"###"}, []string(gen.SamplingParams.Stop))
	assert.True(t, gen.ReturnLogprob.Single)
	assert.Equal(t, 3, gen.TopLogprobsNum)
	assert.True(t, gen.ReturnTextInLogprobs)
	assert.True(t, gen.Stream)
}

func TestChatMessage_PlainAndStructuredContent(t *testing.T) {
	var plain ChatMessage
	require.NoError(t, json.Unmarshal([]byte(`{"role": "user", "content": "hi"}`), &plain))
	assert.True(t, plain.IsPlainText())
	assert.Equal(t, "hi", plain.Content)

	var structured ChatMessage
	payload := `{"role": "user", "content": [
		{"type": "text", "text": "describe "},
		{"type": "image_url", "image_url": "https://example.com/cat.png"},
		{"type": "text", "text": "this image"}
	]}`
	require.NoError(t, json.Unmarshal([]byte(payload), &structured))
	assert.False(t, structured.IsPlainText())
	assert.Equal(t, "describe this image", structured.Content)
	assert.Equal(t, []string{"https://example.com/cat.png"}, structured.Images())
}

func TestChatMessage_RejectsUnknownRoleAndPartType(t *testing.T) {
	var msg ChatMessage
	assert.Error(t, json.Unmarshal([]byte(`{"role": "wizard", "content": "hi"}`), &msg))
	assert.Error(t, json.Unmarshal([]byte(`{"role": "user", "content": [{"type": "audio"}]}`), &msg))
}

func TestChatCompletionRequest_RejectsMultipleChoices(t *testing.T) {
	payload := `{"model": "m", "messages": [{"role": "user", "content": "hi"}], "n": 2}`

	var req ChatCompletionRequest
	err := json.Unmarshal([]byte(payload), &req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedN)
}

func TestChatCompletionRequest_AcceptsPreRenderedPrompt(t *testing.T) {
	payload := `{"model": "m", "messages": "already rendered prompt"}`

	var req ChatCompletionRequest
	require.NoError(t, json.Unmarshal([]byte(payload), &req))
	assert.True(t, req.Messages.IsPrompt)
	assert.Equal(t, "already rendered prompt", req.Messages.Prompt)
}
