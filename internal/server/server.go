package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"srt-gateway/internal/config"
	"srt-gateway/internal/engine"
	"srt-gateway/internal/logprob"
	"srt-gateway/internal/translator"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second

	apiKeyHeader = "X-API-Key"
)

// Server is the gateway HTTP surface.
type Server struct {
	cfg     config.Config
	engine  engine.Client
	bridge  *logprob.Bridge
	chat    *translator.ChatAdapter
	app     *echo.Echo
	address string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, client engine.Client, bridge *logprob.Bridge, chat *translator.ChatAdapter) (*Server, error) {
	if client == nil {
		return nil, errors.New("engine client must not be nil")
	}
	if bridge == nil {
		return nil, errors.New("logprob bridge must not be nil")
	}
	if chat == nil {
		return nil, errors.New("chat adapter must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = openAIErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			return nil
		},
	}))
	if cfg.Server.APIKey != "" {
		e.Use(apiKeyMiddleware(cfg.Server.APIKey))
	}

	srv := &Server{
		cfg:     cfg,
		engine:  client,
		bridge:  bridge,
		chat:    chat,
		app:     e,
		address: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
	}

	srv.registerRoutes()

	return srv, nil
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("starting server", "addr", s.address, "model_path", s.cfg.Server.ModelPath)

	httpServer := &http.Server{
		Addr:        s.address,
		Handler:     s.app,
		ReadTimeout: readTimeout,
		IdleTimeout: idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.GET("/get_model_info", s.handleModelInfo)
	s.app.GET("/get_server_args", s.handleServerArgs)
	s.app.GET("/flush_cache", s.handleFlushCache)
	s.app.POST("/generate", s.handleGenerate)
	s.app.POST("/v1/completions", s.handleCompletions)
	s.app.POST("/v1/chat/completions", s.handleChatCompletions)
}

// apiKeyMiddleware rejects every request that does not carry the exact
// configured key, before any route handler runs.
func apiKeyMiddleware(apiKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get(apiKeyHeader) != apiKey {
				return c.JSON(http.StatusForbidden, map[string]string{"detail": "Invalid API Key"})
			}
			return next(c)
		}
	}
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Type:    "invalid_request_error",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid request payload: %v", err),
			Type:    "invalid_request_error",
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    "invalid_request_error",
		}
	}
	return nil
}

type requestError struct {
	Status  int
	Message string
	Type    string
	Code    string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

func writeError(c echo.Context, status int, message, errType, code string) error {
	var payload errorBody
	payload.Error.Message = message
	payload.Error.Type = errType
	payload.Error.Code = code
	return c.JSON(status, payload)
}

func openAIErrorHandler(err error, c echo.Context) {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Message, reqErr.Type, reqErr.Code)
		return
	}

	type httpError interface {
		Code() int
		Error() string
	}

	if he, ok := err.(httpError); ok {
		_ = writeError(c, he.Code(), he.Error(), "invalid_request_error", "")
		return
	}

	_ = writeError(c, http.StatusInternalServerError, "internal server error", "server_error", "")
}

func clientError(message string) requestError {
	return requestError{
		Status:  http.StatusBadRequest,
		Message: message,
		Type:    "invalid_request_error",
	}
}

func upstreamError(err error) requestError {
	slog.Error("upstream engine error", "err", err)
	return requestError{
		Status:  http.StatusBadGateway,
		Message: "upstream engine error",
		Type:    "upstream_error",
	}
}
