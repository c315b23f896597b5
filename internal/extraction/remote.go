package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

const (
	defaultRemoteBaseURL = "https://api.openai.com"
	defaultRemoteModel   = "gpt-4o-mini"
)

// remoteGenerator talks to a network-hosted chat-completion backend over
// HTTPS, requesting JSON mode. Transient failures retry under the shared
// policy; auth and other 4xx failures do not.
type remoteGenerator struct {
	mu      sync.RWMutex
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
}

// NewRemoteGenerator creates the remote backend.
func NewRemoteGenerator(cfg Config) (Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("remote backend: API key required")
	}
	cfg = cfg.withDefaults()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultRemoteBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultRemoteModel
	}

	return &remoteGenerator{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
	}, nil
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (g *remoteGenerator) Generate(ctx context.Context, req Request) (*LLMOutput, error) {
	if len(req.Batch.Emails) > MaxBatchEmails {
		return nil, ErrBatchTooLarge
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	cfg := g.Config()
	body := chatRequest{
		Model:       cfg.Model,
		Temperature: 0.2,
		// Structured JSON mode when the backend supports it.
		ResponseFormat: &respFormat{Type: "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: instructions(req)},
			{Role: "user", Content: buildPrompt(req.Batch)},
		},
	}

	return withRetries(ctx, cfg.MaxRetries, func() (*LLMOutput, error) {
		return g.doRequest(ctx, cfg, body)
	})
}

func (g *remoteGenerator) doRequest(ctx context.Context, cfg Config, body chatRequest) (*LLMOutput, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := g.httpClient().Do(httpReq)
	if err != nil {
		return nil, retryable(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retryable(fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, retryable(fmt.Errorf("%w (429)", ErrRateLimited))
	case resp.StatusCode >= 500:
		return nil, retryable(fmt.Errorf("server error (%d): %s", resp.StatusCode, respBody))
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w (%d)", ErrBackendAuth, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		var errResp chatError
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", ErrMalformedResponse)
	}
	return normalizeOutput(chatResp.Choices[0].Message.Content)
}

// CheckHealth probes the models listing endpoint.
func (g *remoteGenerator) CheckHealth(ctx context.Context) bool {
	cfg := g.Config()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	resp, err := g.httpClient().Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (g *remoteGenerator) Config() Config {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

// httpClient snapshots the client the same way Config snapshots the
// settings; in-flight requests keep the client they started with.
func (g *remoteGenerator) httpClient() *http.Client {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.client
}

// UpdateConfig swaps in a fresh client rather than mutating the shared
// one, since http.Client reads Timeout unsynchronized during Do.
func (g *remoteGenerator) UpdateConfig(patch ConfigPatch) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg = g.cfg.apply(patch)
	g.client = &http.Client{Timeout: g.cfg.Timeout}
}

var _ Generator = (*remoteGenerator)(nil)
