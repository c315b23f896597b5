package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const (
	defaultLocalBaseURL = "http://127.0.0.1:11434"
	defaultLocalModel   = "llama3.1"

	// probeTimeout bounds the liveness probe; it must not eat into the
	// generation timeout.
	probeTimeout = 3 * time.Second
)

// localGenerator talks to a loopback-only inference daemon. A liveness
// probe must succeed before every Generate call; on probe failure the
// call fails hard with ErrBackendUnavailable and never falls back to
// the remote backend.
type localGenerator struct {
	mu     sync.RWMutex
	cfg    Config
	client *http.Client
}

// NewLocalGenerator creates the local backend. Non-loopback base URLs
// are rejected to preserve the offline guarantee.
func NewLocalGenerator(cfg Config) (Generator, error) {
	cfg = cfg.withDefaults()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultLocalBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultLocalModel
	}
	if err := requireLoopback(cfg.BaseURL); err != nil {
		return nil, err
	}

	return &localGenerator{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// requireLoopback rejects base URLs whose host is not a loopback address.
func requireLoopback(baseURL string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("local backend: invalid base URL: %w", err)
	}
	host := u.Hostname()
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("local backend: %q is not a loopback address", host)
}

type localRequest struct {
	Model  string `json:"model"`
	System string `json:"system"`
	Prompt string `json:"prompt"`
	Format string `json:"format,omitempty"`
	Stream bool   `json:"stream"`
}

type localResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (g *localGenerator) Generate(ctx context.Context, req Request) (*LLMOutput, error) {
	if len(req.Batch.Emails) > MaxBatchEmails {
		return nil, ErrBatchTooLarge
	}

	// Probe before every call; no cross-mode fallback on failure.
	if !g.CheckHealth(ctx) {
		return nil, ErrBackendUnavailable
	}

	cfg := g.Config()
	body := localRequest{
		Model:  cfg.Model,
		System: instructions(req),
		Prompt: buildPrompt(req.Batch),
		Format: "json",
		Stream: false,
	}

	return withRetries(ctx, cfg.MaxRetries, func() (*LLMOutput, error) {
		return g.doRequest(ctx, cfg, body)
	})
}

func (g *localGenerator) doRequest(ctx context.Context, cfg Config, body localRequest) (*LLMOutput, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		cfg.BaseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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
		return nil, retryable(fmt.Errorf("daemon error (%d): %s", resp.StatusCode, respBody))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("daemon error (%d): %s", resp.StatusCode, respBody)
	}

	var localResp localResponse
	if err := json.Unmarshal(respBody, &localResp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return normalizeOutput(localResp.Response)
}

// CheckHealth is the liveness probe: a lightweight GET against the
// daemon's tags endpoint.
func (g *localGenerator) CheckHealth(ctx context.Context) bool {
	cfg := g.Config()
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := g.httpClient().Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (g *localGenerator) Config() Config {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

// httpClient snapshots the client the same way Config snapshots the
// settings; in-flight requests keep the client they started with.
func (g *localGenerator) httpClient() *http.Client {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.client
}

// UpdateConfig swaps in a fresh client rather than mutating the shared
// one, since http.Client reads Timeout unsynchronized during Do.
func (g *localGenerator) UpdateConfig(patch ConfigPatch) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg = g.cfg.apply(patch)
	g.client = &http.Client{Timeout: g.cfg.Timeout}
}

var _ Generator = (*localGenerator)(nil)
