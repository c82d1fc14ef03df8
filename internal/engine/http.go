package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"srt-gateway/internal/protocol"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "srt-gateway/0.1"

	ssePrefix = "data: "
	sseDone   = "[DONE]"

	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
	// Streamed generations can legitimately run for a long time, so the
	// client carries no overall timeout; callers bound it via context.
	detokenizeTimeout = 10 * time.Second
)

var errNormalizeFirst = errors.New("generate request must be normalized before dispatch")

// HTTPClient talks to the tokenizer coordinator over its local HTTP port.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient constructs a coordinator client for the given base URL.
func NewHTTPClient(baseURL string, client *http.Client) (*HTTPClient, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}
	if client == nil {
		client = NewTransportClient()
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  client,
	}, nil
}

// NewTransportClient builds the default HTTP client for coordinator calls.
func NewTransportClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: transport}
}

// Generate implements Client. For streamed requests events are produced as
// SSE frames arrive; for non-streamed requests exactly one terminal event is
// produced. Cancelling ctx stops consumption and closes the connection.
func (c *HTTPClient) Generate(ctx context.Context, req *protocol.GenerateRequest) (*Stream, error) {
	if !req.Normalized() {
		return nil, errNormalizeFirst
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, c.baseURL+"/generate", req)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("coordinator generate request failed: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		defer httpResp.Body.Close()
		return nil, parseAPIError(httpResp)
	}

	stream := &Stream{events: make(chan Event, 8)}
	if req.Stream {
		go c.consumeSSE(ctx, httpResp.Body, stream)
	} else {
		go c.consumeSingle(ctx, httpResp.Body, stream)
	}
	return stream, nil
}

func (c *HTTPClient) consumeSingle(ctx context.Context, body io.ReadCloser, stream *Stream) {
	defer close(stream.events)
	defer body.Close()

	payload, err := io.ReadAll(body)
	if err != nil {
		stream.err = fmt.Errorf("read coordinator response: %w", err)
		return
	}

	results, err := decodeResults(payload)
	if err != nil {
		stream.err = err
		return
	}

	select {
	case stream.events <- Event{Results: results}:
	case <-ctx.Done():
		stream.err = ctx.Err()
	}
}

func (c *HTTPClient) consumeSSE(ctx context.Context, body io.ReadCloser, stream *Stream) {
	defer close(stream.events)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, ssePrefix) {
			continue
		}
		payload := strings.TrimPrefix(line, ssePrefix)
		if payload == sseDone {
			return
		}

		results, err := decodeResults([]byte(payload))
		if err != nil {
			stream.err = err
			return
		}

		select {
		case stream.events <- Event{Results: results}:
		case <-ctx.Done():
			stream.err = ctx.Err()
			return
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			stream.err = ctx.Err()
			return
		}
		stream.err = fmt.Errorf("read coordinator stream: %w", err)
	}
}

// Detokenize implements Client.
func (c *HTTPClient) Detokenize(ctx context.Context, tokenIDs []int) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, detokenizeTimeout)
	defer cancel()

	payload := struct {
		TokenIDs []int `json:"token_ids"`
	}{TokenIDs: tokenIDs}

	var resp struct {
		TokenTexts []string `json:"token_texts"`
	}
	if err := c.postJSON(ctx, "/detokenize", payload, &resp); err != nil {
		return nil, err
	}

	if len(resp.TokenTexts) != len(tokenIDs) {
		return nil, fmt.Errorf("detokenize returned %d texts for %d token ids", len(resp.TokenTexts), len(tokenIDs))
	}
	return resp.TokenTexts, nil
}

// ApplyChatTemplate implements Client.
func (c *HTTPClient) ApplyChatTemplate(ctx context.Context, messages []Message) (string, error) {
	payload := struct {
		Messages            []Message `json:"messages"`
		AddGenerationPrompt bool      `json:"add_generation_prompt"`
	}{Messages: messages, AddGenerationPrompt: true}

	var resp struct {
		Prompt string `json:"prompt"`
	}
	if err := c.postJSON(ctx, "/apply_chat_template", payload, &resp); err != nil {
		return "", err
	}
	return resp.Prompt, nil
}

// FlushCache implements Client.
func (c *HTTPClient) FlushCache(ctx context.Context) error {
	httpReq, err := c.newRequest(ctx, http.MethodGet, c.baseURL+"/flush_cache", nil)
	if err != nil {
		return err
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("coordinator flush cache request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return parseAPIError(httpResp)
	}
	return nil
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, payload, target any) error {
	httpReq, err := c.newRequest(ctx, http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return err
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("coordinator %s request failed: %w", path, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return parseAPIError(httpResp)
	}

	decoder := json.NewDecoder(httpResp.Body)
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("decode coordinator %s response: %w", path, err)
	}
	return nil
}

func (c *HTTPClient) newRequest(ctx context.Context, method, url string, payload any) (*http.Request, error) {
	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	return req, nil
}

// decodeResults parses a coordinator payload that is either a single result
// object or an array of per-prompt results.
func decodeResults(payload []byte) ([]protocol.GenerateResult, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, errors.New("coordinator returned an empty result payload")
	}

	if trimmed[0] == '[' {
		var results []protocol.GenerateResult
		if err := json.Unmarshal(trimmed, &results); err != nil {
			return nil, fmt.Errorf("decode coordinator result batch: %w", err)
		}
		if len(results) == 0 {
			return nil, errors.New("coordinator returned an empty result batch")
		}
		return results, nil
	}

	var result protocol.GenerateResult
	if err := json.Unmarshal(trimmed, &result); err != nil {
		return nil, fmt.Errorf("decode coordinator result: %w", err)
	}
	return []protocol.GenerateResult{result}, nil
}

func parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("coordinator error status %d and failed to read body: %w", resp.StatusCode, err)
	}
	return fmt.Errorf("coordinator error status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
