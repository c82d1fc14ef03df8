package translator

import "srt-gateway/internal/protocol"

// StreamState tracks one in-flight streamed response: the cumulative text
// already sent and how many decode logprob records were already emitted.
// Owned by exactly one streaming handler, never shared.
type StreamState struct {
	seen           string
	tokensEmitted  int
	announcedFirst bool
}

// First reports whether no chunk has been computed yet, then marks the
// first chunk as announced.
func (s *StreamState) First() bool {
	if s.announcedFirst {
		return false
	}
	s.announcedFirst = true
	return true
}

// Delta returns the suffix of cumulative not yet sent and records it as
// seen. Upstream guarantees cumulative text grows by prefix extension; a
// shorter text yields an empty delta rather than rewinding.
func (s *StreamState) Delta(cumulative string) string {
	if len(cumulative) <= len(s.seen) {
		return ""
	}
	delta := cumulative[len(s.seen):]
	s.seen = cumulative
	return delta
}

// NewDecodeRecords slices off the decode logprob records appended since the
// previous chunk and advances the emitted counter.
func (s *StreamState) NewDecodeRecords(meta protocol.MetaInfo) ([]protocol.TokenLogprob, []protocol.TopLogprobs) {
	start := s.tokensEmitted
	if start > len(meta.DecodeTokenLogprobs) {
		start = len(meta.DecodeTokenLogprobs)
	}

	tokens := meta.DecodeTokenLogprobs[start:]

	var top []protocol.TopLogprobs
	if meta.DecodeTopLogprobs != nil {
		topStart := start
		if topStart > len(meta.DecodeTopLogprobs) {
			topStart = len(meta.DecodeTopLogprobs)
		}
		top = meta.DecodeTopLogprobs[topStart:]
	}

	s.tokensEmitted = len(meta.DecodeTokenLogprobs)
	return tokens, top
}
