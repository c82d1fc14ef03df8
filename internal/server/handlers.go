package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"srt-gateway/internal/engine"
	"srt-gateway/internal/protocol"
	"srt-gateway/internal/template"
	"srt-gateway/internal/translator"
)

const flushCacheAdvisory = "Cache flushed.\nPlease check backend logs for more details. " +
	"(When there are running or waiting requests, the operation will not be performed.)\n"

func (s *Server) handleHealth(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func (s *Server) handleModelInfo(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"model_path": s.cfg.Server.ModelPath,
	})
}

func (s *Server) handleServerArgs(c echo.Context) error {
	return c.JSON(http.StatusOK, s.cfg.ServerArgs())
}

func (s *Server) handleFlushCache(c echo.Context) error {
	if err := s.engine.FlushCache(c.Request().Context()); err != nil {
		return upstreamError(err)
	}
	return c.String(http.StatusOK, flushCacheAdvisory)
}

func (s *Server) handleGenerate(c echo.Context) error {
	var req protocol.GenerateRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if err := req.Normalize(); err != nil {
		return clientError(err.Error())
	}

	ctx := c.Request().Context()
	stream, err := s.engine.Generate(ctx, &req)
	if err != nil {
		return upstreamError(err)
	}

	if !req.Stream {
		results, err := awaitTerminal(ctx, stream)
		if err != nil {
			return upstreamError(err)
		}
		for i := range results {
			if err := s.bridge.ResolveResult(ctx, &req, &results[i], i); err != nil {
				return upstreamError(err)
			}
		}
		if req.Text.IsBatch() {
			return c.JSON(http.StatusOK, results)
		}
		return c.JSON(http.StatusOK, results[0])
	}

	sse, err := startSSE(c)
	if err != nil {
		return err
	}

	for ev := range stream.Events() {
		for i := range ev.Results {
			if err := s.bridge.ResolveResult(ctx, &req, &ev.Results[i], i); err != nil {
				slog.Error("logprob resolution failed mid-stream", "err", err)
				return nil
			}
		}

		var payload any = ev.Results[0]
		if req.Text.IsBatch() {
			payload = ev.Results
		}
		if err := sse.WriteData(payload); err != nil {
			return nil
		}
	}

	if err := streamFailure(ctx, stream); err != nil {
		slog.Error("generate stream failed", "err", err)
		return nil
	}
	return sse.WriteDone()
}

func (s *Server) handleCompletions(c echo.Context) error {
	var req translator.CompletionRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if req.Stream && req.Prompt.IsBatch() {
		return clientError("streaming is not supported for batch prompts")
	}

	gen, err := req.ToGenerate()
	if err != nil {
		return clientError(err.Error())
	}

	ctx := c.Request().Context()
	stream, err := s.engine.Generate(ctx, gen)
	if err != nil {
		return upstreamError(err)
	}

	if !req.Stream {
		results, err := awaitTerminal(ctx, stream)
		if err != nil {
			return upstreamError(err)
		}
		for i := range results {
			if err := s.bridge.ResolveResult(ctx, gen, &results[i], i); err != nil {
				return upstreamError(err)
			}
		}
		return c.JSON(http.StatusOK, translator.BuildCompletionResponse(req, results, time.Now().Unix()))
	}

	return s.streamCompletions(c, req, gen, stream)
}

func (s *Server) streamCompletions(c echo.Context, req translator.CompletionRequest, gen *protocol.GenerateRequest, stream *engine.Stream) error {
	sse, err := startSSE(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	prompt := req.Prompt.Prompts()[0]
	var state translator.StreamState

	for ev := range stream.Events() {
		result := ev.Results[0]
		if err := s.bridge.ResolveResult(ctx, gen, &result, 0); err != nil {
			slog.Error("logprob resolution failed mid-stream", "err", err)
			return nil
		}

		first := state.First()
		delta := state.Delta(result.Text)
		if first && req.Echo {
			delta = prompt + delta
		}

		var logprobs *translator.LogProbs
		if req.WantLogprobs() {
			meta := result.MetaInfo
			var prefillTokens []protocol.TokenLogprob
			var prefillTop []protocol.TopLogprobs
			if first && req.Echo {
				prefillTokens = meta.PrefillTokenLogprobs
				prefillTop = meta.PrefillTopLogprobs
			}
			newTokens, newTop := state.NewDecodeRecords(meta)
			logprobs = translator.MakeOpenAIStyleLogprobs(prefillTokens, newTokens, prefillTop, newTop)
		}

		chunk := translator.BuildCompletionChunk(req.Model, result.MetaInfo, delta, logprobs, time.Now().Unix())
		if err := sse.WriteData(chunk); err != nil {
			return nil
		}
	}

	if err := streamFailure(ctx, stream); err != nil {
		slog.Error("completions stream failed", "err", err)
		return nil
	}
	return sse.WriteDone()
}

func (s *Server) handleChatCompletions(c echo.Context) error {
	var req translator.ChatCompletionRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	gen, err := s.chat.ToGenerate(ctx, &req)
	if err != nil {
		if isTemplateClientError(err) {
			return clientError(err.Error())
		}
		return upstreamError(err)
	}

	stream, err := s.engine.Generate(ctx, gen)
	if err != nil {
		return upstreamError(err)
	}

	if !req.Stream {
		results, err := awaitTerminal(ctx, stream)
		if err != nil {
			return upstreamError(err)
		}
		return c.JSON(http.StatusOK, translator.BuildChatCompletionResponse(req.Model, results[0], time.Now().Unix()))
	}

	return s.streamChat(c, req, stream)
}

func (s *Server) streamChat(c echo.Context, req translator.ChatCompletionRequest, stream *engine.Stream) error {
	sse, err := startSSE(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	var state translator.StreamState

	for ev := range stream.Events() {
		result := ev.Results[0]

		// Chunk zero of every stream announces the role and carries no text.
		if state.First() {
			role := translator.BuildChatRoleChunk(req.Model, result.MetaInfo.ID, time.Now().Unix())
			if err := sse.WriteData(role); err != nil {
				return nil
			}
		}

		delta := state.Delta(result.Text)
		chunk := translator.BuildChatContentChunk(req.Model, result.MetaInfo.ID, delta, time.Now().Unix())
		if err := sse.WriteData(chunk); err != nil {
			return nil
		}
	}

	if err := streamFailure(ctx, stream); err != nil {
		slog.Error("chat stream failed", "err", err)
		return nil
	}
	return sse.WriteDone()
}

// awaitTerminal consumes the single terminal event of a non-streaming
// generation.
func awaitTerminal(ctx context.Context, stream *engine.Stream) ([]protocol.GenerateResult, error) {
	select {
	case ev, ok := <-stream.Events():
		if !ok {
			if err := stream.Err(); err != nil {
				return nil, err
			}
			return nil, errors.New("engine stream ended without a result")
		}
		return ev.Results, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// streamFailure reports an upstream failure that is not a plain client
// disconnect.
func streamFailure(ctx context.Context, stream *engine.Stream) error {
	err := stream.Err()
	if err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return nil
	}
	return err
}

func isTemplateClientError(err error) bool {
	return errors.Is(err, translator.ErrStructuredContentUnsupported) ||
		errors.Is(err, template.ErrUnknownTemplate) ||
		errors.Is(err, template.ErrUnknownSeparatorStyle)
}
