package translator

import "srt-gateway/internal/protocol"

// LogProbs mirrors the OpenAI completions logprob block. Token text entries
// may be null when the record was never detokenized. TextOffset is not
// computed by this gateway; every entry is the explicit placeholder -1.
type LogProbs struct {
	TextOffset    []int                `json:"text_offset"`
	TokenLogprobs []float64            `json:"token_logprobs"`
	Tokens        []*string            `json:"tokens"`
	TopLogprobs   []map[string]float64 `json:"top_logprobs"`
}

// MakeOpenAIStyleLogprobs assembles the OpenAI logprob block from up to four
// record lists, appended in the fixed order prefill-token, decode-token,
// prefill-top, decode-top. Nil inputs are skipped.
func MakeOpenAIStyleLogprobs(
	prefillTokenLogprobs []protocol.TokenLogprob,
	decodeTokenLogprobs []protocol.TokenLogprob,
	prefillTopLogprobs []protocol.TopLogprobs,
	decodeTopLogprobs []protocol.TopLogprobs,
) *LogProbs {
	out := &LogProbs{
		TextOffset:    []int{},
		TokenLogprobs: []float64{},
		Tokens:        []*string{},
		TopLogprobs:   []map[string]float64{},
	}

	appendTokens := func(records []protocol.TokenLogprob) {
		for _, record := range records {
			out.Tokens = append(out.Tokens, record.Text)
			out.TokenLogprobs = append(out.TokenLogprobs, record.Logprob)
			out.TextOffset = append(out.TextOffset, -1)
		}
	}

	appendTop := func(top []protocol.TopLogprobs) {
		for _, slot := range top {
			if slot == nil {
				out.TopLogprobs = append(out.TopLogprobs, nil)
				continue
			}
			candidates := make(map[string]float64, len(slot))
			for _, record := range slot {
				if record.Text != nil {
					candidates[*record.Text] = record.Logprob
				}
			}
			out.TopLogprobs = append(out.TopLogprobs, candidates)
		}
	}

	appendTokens(prefillTokenLogprobs)
	appendTokens(decodeTokenLogprobs)
	appendTop(prefillTopLogprobs)
	appendTop(decodeTopLogprobs)

	return out
}
