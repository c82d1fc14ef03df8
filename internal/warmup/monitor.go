package warmup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"srt-gateway/internal/protocol"
	"srt-gateway/internal/supervisor"
)

const (
	apiKeyHeader = "X-API-Key"

	pollInterval = 500 * time.Millisecond
	maxAttempts  = 120
	probeTimeout = 5 * time.Second
	// The synthetic request is issued exactly once and never retried.
	warmupTimeout = 60 * time.Second
)

// Monitor confirms end-to-end liveness of the gateway after its listener is
// bound: it polls the introspection endpoint, then issues one deterministic
// synthetic generation.
type Monitor struct {
	baseURL string
	apiKey  string
	client  *http.Client
	report  *supervisor.ReadinessChannel
}

// NewMonitor constructs a monitor for the gateway at baseURL. report may be
// nil, in which case the outcome is only logged.
func NewMonitor(baseURL, apiKey string, report *supervisor.ReadinessChannel) *Monitor {
	return &Monitor{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{},
		report:  report,
	}
}

// Run executes the warmup sequence and reports the outcome. Meant to run on
// its own goroutine, concurrently with the HTTP accept loop.
func (m *Monitor) Run(ctx context.Context) {
	if err := m.waitReachable(ctx); err != nil {
		m.finish(err.Error())
		return
	}

	if err := m.syntheticGenerate(ctx); err != nil {
		m.finish(err.Error())
		return
	}

	m.finish(supervisor.ReadyMessage)
}

func (m *Monitor) waitReachable(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}

		if err := m.probe(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	if lastErr == nil {
		lastErr = errors.New("server never became reachable")
	}
	return fmt.Errorf("server not reachable after %d attempts: %w", maxAttempts, lastErr)
}

func (m *Monitor) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/get_model_info", nil)
	if err != nil {
		return err
	}
	m.setHeaders(req)

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (m *Monitor) syntheticGenerate(ctx context.Context) error {
	warmup := &protocol.GenerateRequest{
		Text: protocol.TextInput{Single: "Say this is a warmup request."},
		SamplingParams: protocol.SamplingParams{
			Temperature:  0,
			MaxNewTokens: 16,
		},
	}

	body, err := json.Marshal(warmup)
	if err != nil {
		return fmt.Errorf("marshal warmup request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, warmupTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	m.setHeaders(req)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("warmup request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("warmup request returned status %d", resp.StatusCode)
	}
	return nil
}

func (m *Monitor) setHeaders(req *http.Request) {
	if m.apiKey != "" {
		req.Header.Set(apiKeyHeader, m.apiKey)
	}
}

func (m *Monitor) finish(state string) {
	if m.report != nil {
		m.report.Send(state)
		return
	}
	if state == supervisor.ReadyMessage {
		slog.Info("warmup complete", "state", state)
		return
	}
	slog.Error("warmup failed", "state", state)
}
