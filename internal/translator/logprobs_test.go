package translator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"srt-gateway/internal/protocol"
)

func strptr(s string) *string { return &s }

func TestMakeOpenAIStyleLogprobs_AppendsSectionsInOrder(t *testing.T) {
	prefill := []protocol.TokenLogprob{
		{Logprob: -1.0, TokenID: 10, Text: strptr("The")},
	}
	decode := []protocol.TokenLogprob{
		{Logprob: -0.5, TokenID: 20, Text: strptr(" cat")},
		{Logprob: -0.25, TokenID: 21, Text: strptr(" sat")},
	}
	prefillTop := []protocol.TopLogprobs{
		{{Logprob: -1.0, TokenID: 10, Text: strptr("The")}},
	}
	decodeTop := []protocol.TopLogprobs{
		{{Logprob: -0.5, TokenID: 20, Text: strptr(" cat")}},
		{{Logprob: -0.25, TokenID: 21, Text: strptr(" sat")}},
	}

	out := MakeOpenAIStyleLogprobs(prefill, decode, prefillTop, decodeTop)

	require.Len(t, out.Tokens, 3)
	assert.Equal(t, "The", *out.Tokens[0])
	assert.Equal(t, " cat", *out.Tokens[1])
	assert.Equal(t, " sat", *out.Tokens[2])
	assert.Equal(t, []float64{-1.0, -0.5, -0.25}, out.TokenLogprobs)

	require.Len(t, out.TopLogprobs, 3)
	assert.Equal(t, map[string]float64{"The": -1.0}, out.TopLogprobs[0])
	assert.Equal(t, map[string]float64{" cat": -0.5}, out.TopLogprobs[1])
}

func TestMakeOpenAIStyleLogprobs_TextOffsetIsAlwaysPlaceholder(t *testing.T) {
	decode := []protocol.TokenLogprob{
		{Logprob: -0.5, TokenID: 1, Text: strptr("a")},
		{Logprob: -0.5, TokenID: 2, Text: strptr("b")},
	}

	out := MakeOpenAIStyleLogprobs(nil, decode, nil, nil)
	assert.Equal(t, []int{-1, -1}, out.TextOffset)
}

func TestMakeOpenAIStyleLogprobs_NilTopSlotStaysNil(t *testing.T) {
	decodeTop := []protocol.TopLogprobs{
		{{Logprob: -0.5, TokenID: 1, Text: strptr("a")}},
		nil,
	}

	out := MakeOpenAIStyleLogprobs(nil, nil, nil, decodeTop)
	require.Len(t, out.TopLogprobs, 2)
	assert.NotNil(t, out.TopLogprobs[0])
	assert.Nil(t, out.TopLogprobs[1])
}

func TestMakeOpenAIStyleLogprobs_EmptyInputsYieldEmptySlices(t *testing.T) {
	out := MakeOpenAIStyleLogprobs(nil, nil, nil, nil)

	assert.NotNil(t, out.TextOffset)
	assert.NotNil(t, out.TokenLogprobs)
	assert.NotNil(t, out.Tokens)
	assert.NotNil(t, out.TopLogprobs)
	assert.Empty(t, out.Tokens)
}

func TestMakeOpenAIStyleLogprobs_UndetokenizedRecordStaysNull(t *testing.T) {
	decode := []protocol.TokenLogprob{{Logprob: -0.5, TokenID: 1}}

	out := MakeOpenAIStyleLogprobs(nil, decode, nil, nil)
	require.Len(t, out.Tokens, 1)
	assert.Nil(t, out.Tokens[0])
}
