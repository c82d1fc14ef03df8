package logprob

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"srt-gateway/internal/protocol"
)

type fakeDetokenizer struct {
	mapping map[int]string
	calls   int
	err     error
}

func (f *fakeDetokenizer) Detokenize(_ context.Context, tokenIDs []int) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	texts := make([]string, len(tokenIDs))
	for i, id := range tokenIDs {
		texts[i] = f.mapping[id]
	}
	return texts, nil
}

func TestResolve_WithoutTextPassesThroughUnchanged(t *testing.T) {
	detok := &fakeDetokenizer{}
	bridge, err := NewBridge(detok)
	require.NoError(t, err)

	records := []protocol.TokenLogprob{
		{Logprob: -0.1, TokenID: 1},
		{Logprob: -0.2, TokenID: 2},
	}

	resolved, err := bridge.Resolve(context.Background(), records, false)
	require.NoError(t, err)

	require.Len(t, resolved, 2)
	assert.Equal(t, records, resolved)
	assert.Nil(t, resolved[0].Text)
	assert.Nil(t, resolved[1].Text)
	assert.Zero(t, detok.calls, "want_text=false must not cross the process boundary")
}

func TestResolve_WithTextFillsRecordsInOrder(t *testing.T) {
	detok := &fakeDetokenizer{mapping: map[int]string{1: "a", 2: "b"}}
	bridge, err := NewBridge(detok)
	require.NoError(t, err)

	records := []protocol.TokenLogprob{
		{Logprob: -0.1, TokenID: 1},
		{Logprob: -0.2, TokenID: 2},
	}

	resolved, err := bridge.Resolve(context.Background(), records, true)
	require.NoError(t, err)

	require.Len(t, resolved, 2)
	assert.Equal(t, -0.1, resolved[0].Logprob)
	assert.Equal(t, "a", *resolved[0].Text)
	assert.Equal(t, -0.2, resolved[1].Logprob)
	assert.Equal(t, "b", *resolved[1].Text)
	assert.Equal(t, 1, detok.calls, "all token ids must go out in one batched call")

	// Input records stay untouched.
	assert.Nil(t, records[0].Text)
}

func TestResolveTop_AbsentSlotsPassThrough(t *testing.T) {
	detok := &fakeDetokenizer{mapping: map[int]string{5: "x"}}
	bridge, err := NewBridge(detok)
	require.NoError(t, err)

	top := []protocol.TopLogprobs{
		{{Logprob: -0.3, TokenID: 5}},
		nil,
	}

	resolved, err := bridge.ResolveTop(context.Background(), top, true)
	require.NoError(t, err)

	require.Len(t, resolved, 2)
	assert.Equal(t, "x", *resolved[0][0].Text)
	assert.Nil(t, resolved[1])
}

func TestResolveResult_HonorsPerPromptFlag(t *testing.T) {
	detok := &fakeDetokenizer{mapping: map[int]string{1: "a"}}
	bridge, err := NewBridge(detok)
	require.NoError(t, err)

	req := &protocol.GenerateRequest{
		Text:                 protocol.TextInput{Batch: []string{"p0", "p1"}},
		ReturnLogprob:        protocol.BoolBroadcast{Batch: []bool{false, true}},
		ReturnTextInLogprobs: true,
	}
	require.NoError(t, req.Normalize())

	result := protocol.GenerateResult{
		MetaInfo: protocol.MetaInfo{
			DecodeTokenLogprobs: []protocol.TokenLogprob{{Logprob: -0.1, TokenID: 1}},
		},
	}

	untouched := result
	require.NoError(t, bridge.ResolveResult(context.Background(), req, &untouched, 0))
	assert.Nil(t, untouched.MetaInfo.DecodeTokenLogprobs[0].Text)

	require.NoError(t, bridge.ResolveResult(context.Background(), req, &result, 1))
	require.NotNil(t, result.MetaInfo.DecodeTokenLogprobs[0].Text)
	assert.Equal(t, "a", *result.MetaInfo.DecodeTokenLogprobs[0].Text)
}

func TestResolve_PropagatesDetokenizerError(t *testing.T) {
	detok := &fakeDetokenizer{err: errors.New("detokenizer unreachable")}
	bridge, err := NewBridge(detok)
	require.NoError(t, err)

	_, err = bridge.Resolve(context.Background(), []protocol.TokenLogprob{{TokenID: 1}}, true)
	assert.ErrorContains(t, err, "detokenizer unreachable")
}
