package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

// sseWriter emits server-sent events in the gateway's framing: each event is
// "data: <json>\n\n" and the terminal event is "data: [DONE]\n\n".
type sseWriter struct {
	w       io.Writer
	flusher http.Flusher
}

func startSSE(c echo.Context) (*sseWriter, error) {
	writer := c.Response().Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		return nil, requestError{
			Status:  http.StatusInternalServerError,
			Message: "server does not support streaming responses",
			Type:    "server_error",
		}
	}

	header := c.Response().Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseWriter{w: writer, flusher: flusher}, nil
}

func (s *sseWriter) WriteData(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal SSE payload: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write SSE data: %w", err)
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) WriteDone() error {
	if _, err := io.WriteString(s.w, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("write SSE terminator: %w", err)
	}
	s.flusher.Flush()
	return nil
}
