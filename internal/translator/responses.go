package translator

import (
	"srt-gateway/internal/protocol"
)

// UsageInfo mirrors the token usage block in OpenAI responses.
type UsageInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func usageFor(results []protocol.GenerateResult) UsageInfo {
	var usage UsageInfo
	for _, result := range results {
		usage.PromptTokens += result.MetaInfo.PromptTokens
		usage.CompletionTokens += result.MetaInfo.CompletionTokens
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return usage
}

// CompletionResponse models the OpenAI completion response payload.
type CompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   UsageInfo          `json:"usage"`
}

// CompletionChoice represents a single completion choice.
type CompletionChoice struct {
	Index        int       `json:"index"`
	Text         string    `json:"text"`
	Logprobs     *LogProbs `json:"logprobs"`
	FinishReason string    `json:"finish_reason,omitempty"`
}

// BuildCompletionResponse assembles the non-streaming completions body from
// the terminal results, one choice per prompt. Echo prepends the prompt to
// the text; prefill logprobs are included only when echo and logprobs were
// both requested.
func BuildCompletionResponse(req CompletionRequest, results []protocol.GenerateResult, createdUnix int64) CompletionResponse {
	prompts := req.Prompt.Prompts()

	choices := make([]CompletionChoice, 0, len(results))
	for i, result := range results {
		text := result.Text
		if req.Echo && i < len(prompts) {
			text = prompts[i] + text
		}

		var logprobs *LogProbs
		if req.WantLogprobs() {
			meta := result.MetaInfo
			if req.Echo {
				logprobs = MakeOpenAIStyleLogprobs(
					meta.PrefillTokenLogprobs, meta.DecodeTokenLogprobs,
					meta.PrefillTopLogprobs, meta.DecodeTopLogprobs,
				)
			} else {
				logprobs = MakeOpenAIStyleLogprobs(
					nil, meta.DecodeTokenLogprobs,
					nil, meta.DecodeTopLogprobs,
				)
			}
		}

		choices = append(choices, CompletionChoice{
			Index:        i,
			Text:         text,
			Logprobs:     logprobs,
			FinishReason: result.MetaInfo.FinishReason,
		})
	}

	return CompletionResponse{
		ID:      results[0].MetaInfo.ID,
		Object:  "text_completion",
		Created: createdUnix,
		Model:   req.Model,
		Choices: choices,
		Usage:   usageFor(results),
	}
}

// CompletionStreamResponse is one streamed completions chunk.
type CompletionStreamResponse struct {
	ID      string                   `json:"id"`
	Object  string                   `json:"object"`
	Created int64                    `json:"created"`
	Model   string                   `json:"model"`
	Choices []CompletionStreamChoice `json:"choices"`
	Usage   UsageInfo                `json:"usage"`
}

// CompletionStreamChoice carries the delta of one streamed chunk.
type CompletionStreamChoice struct {
	Index        int       `json:"index"`
	Text         string    `json:"text"`
	Logprobs     *LogProbs `json:"logprobs"`
	FinishReason string    `json:"finish_reason,omitempty"`
}

// BuildCompletionChunk assembles one streamed completions chunk.
func BuildCompletionChunk(model string, meta protocol.MetaInfo, delta string, logprobs *LogProbs, createdUnix int64) CompletionStreamResponse {
	return CompletionStreamResponse{
		ID:      meta.ID,
		Object:  "text_completion",
		Created: createdUnix,
		Model:   model,
		Choices: []CompletionStreamChoice{
			{
				Index:    0,
				Text:     delta,
				Logprobs: logprobs,
			},
		},
		Usage: UsageInfo{
			PromptTokens:     meta.PromptTokens,
			CompletionTokens: meta.CompletionTokens,
			TotalTokens:      meta.PromptTokens + meta.CompletionTokens,
		},
	}
}

// ChatResponseMessage is the assistant message of a chat completion.
type ChatResponseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse models the OpenAI chat completion response payload.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   UsageInfo    `json:"usage"`
}

// ChatChoice represents a single chat completion choice.
type ChatChoice struct {
	Index        int                 `json:"index"`
	Message      ChatResponseMessage `json:"message"`
	FinishReason string              `json:"finish_reason,omitempty"`
}

// BuildChatCompletionResponse assembles the non-streaming chat body.
func BuildChatCompletionResponse(model string, result protocol.GenerateResult, createdUnix int64) ChatCompletionResponse {
	return ChatCompletionResponse{
		ID:      result.MetaInfo.ID,
		Object:  "chat.completion",
		Created: createdUnix,
		Model:   model,
		Choices: []ChatChoice{
			{
				Index:        0,
				Message:      ChatResponseMessage{Role: "assistant", Content: result.Text},
				FinishReason: result.MetaInfo.FinishReason,
			},
		},
		Usage: usageFor([]protocol.GenerateResult{result}),
	}
}

// DeltaMessage is the incremental message of one streamed chat chunk. The
// leading chunk of every stream carries only the role announcement.
type DeltaMessage struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChatStreamChoice carries the delta of one streamed chat chunk.
type ChatStreamChoice struct {
	Index        int          `json:"index"`
	Delta        DeltaMessage `json:"delta"`
	FinishReason string       `json:"finish_reason,omitempty"`
}

// ChatCompletionStreamResponse is one streamed chat chunk.
type ChatCompletionStreamResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []ChatStreamChoice `json:"choices"`
}

// BuildChatRoleChunk assembles chunk zero of a chat stream: the role
// announcement with no text payload.
func BuildChatRoleChunk(model, id string, createdUnix int64) ChatCompletionStreamResponse {
	return ChatCompletionStreamResponse{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: createdUnix,
		Model:   model,
		Choices: []ChatStreamChoice{
			{Index: 0, Delta: DeltaMessage{Role: "assistant"}},
		},
	}
}

// BuildChatContentChunk assembles a content delta chunk of a chat stream.
func BuildChatContentChunk(model, id, delta string, createdUnix int64) ChatCompletionStreamResponse {
	return ChatCompletionStreamResponse{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: createdUnix,
		Model:   model,
		Choices: []ChatStreamChoice{
			{Index: 0, Delta: DeltaMessage{Content: delta}},
		},
	}
}
