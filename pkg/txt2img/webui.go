package txt2img

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// defaultRequestTimeout bounds one WebUI generation request.
	defaultRequestTimeout = 60 * time.Second

	defaultSteps = 30

	txt2imgEndpoint = "/sdapi/v1/txt2img"
)

// StatusError is a non-2xx response from the WebUI API. The status code is
// the structured field the retry classifier keys on.
type StatusError struct {
	Status int
	URL    string
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webui %s: unexpected status %d", e.URL, e.Status)
}

func (e *StatusError) HTTPStatusCode() int { return e.Status }

// WebUIConfig configures the HTTP backend.
type WebUIConfig struct {
	BaseURL string
	Token   string

	// RateLimit is the maximum requests per second. Zero means unlimited.
	RateLimit float64
}

// WebUIBackend calls a Stable Diffusion WebUI-compatible HTTP API.
type WebUIBackend struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewWebUIBackend creates the HTTP backend. The base URL must be non-empty.
func NewWebUIBackend(cfg WebUIConfig) (*WebUIBackend, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("webui base url is required")
	}

	b := &WebUIBackend{
		baseURL: baseURL,
		token:   cfg.Token,
		client:  &http.Client{Timeout: defaultRequestTimeout},
	}
	if cfg.RateLimit > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return b, nil
}

func (b *WebUIBackend) Name() string { return "webui" }

// Generate posts one txt2img request and writes the response payload to the
// request's output path. No retry happens here; the Generator layers the
// policy on top.
func (b *WebUIBackend) Generate(ctx context.Context, req Request) (Result, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return Result{}, err
		}
	}

	steps := req.Steps
	if steps <= 0 {
		steps = defaultSteps
	}
	payload, err := json.Marshal(map[string]any{
		"prompt":          req.Prompt,
		"negative_prompt": req.NegativePrompt,
		"seed":            req.Seed,
		"steps":           steps,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal txt2img payload: %w", err)
	}

	url := b.baseURL + txt2imgEndpoint
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build txt2img request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("call webui: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read webui response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, &StatusError{Status: resp.StatusCode, URL: url, Body: tail(string(body), 2000)}
	}

	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0755); err != nil {
		return Result{}, fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(req.OutputPath, body, 0644); err != nil {
		return Result{}, fmt.Errorf("write output: %w", err)
	}

	return Result{ImagePath: req.OutputPath, Seed: req.Seed}, nil
}

func tail(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[len(s)-limit:]
}
