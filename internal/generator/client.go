package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/psantana5/modelsearch/pkg/models"
	"github.com/psantana5/modelsearch/pkg/ratelimit"
	"github.com/psantana5/modelsearch/pkg/retry"
)

// Supported providers. Both speak the OpenAI chat completions protocol.
const (
	ProviderGroq   = "groq"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Config describes how to reach the chat completions endpoint.
type Config struct {
	Provider          string        `mapstructure:"provider" yaml:"provider"`
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	Model             string        `mapstructure:"model" yaml:"model"`
	Temperature       float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
}

// DefaultConfig targets Groq's hosted llama model.
func DefaultConfig() Config {
	return Config{
		Provider:          ProviderGroq,
		BaseURL:           "https://api.groq.com/openai/v1",
		Model:             "llama-3.3-70b-versatile",
		Temperature:       0.7,
		MaxTokens:         2048,
		Timeout:           120 * time.Second,
		RequestsPerSecond: 0.5,
		Burst:             1,
		MaxRetries:        3,
		RetryBackoff:      2 * time.Second,
	}
}

// RequiresKey reports whether the provider needs an API key.
func (c Config) RequiresKey() bool {
	return c.Provider != ProviderOllama
}

// HasCredentials reports whether the client can authenticate.
func (c Config) HasCredentials() bool {
	return !c.RequiresKey() || strings.TrimSpace(c.APIKey) != ""
}

// Validate checks the fields every provider needs.
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderGroq, ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown generator provider: %q", c.Provider)
	}
	if c.BaseURL == "" {
		return fmt.Errorf("generator base_url is required")
	}
	if c.Model == "" {
		return fmt.Errorf("generator model is required")
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("generator max_tokens must be >= 1")
	}
	return nil
}

// Completer turns a system and user prompt into a model reply.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// ChatClient calls an OpenAI-compatible chat completions endpoint.
type ChatClient struct {
	cfg     Config
	http    *http.Client
	limiter *ratelimit.Limiter
	retry   retry.Config
}

// NewChatClient creates a client; the limiter may be shared between clients.
func NewChatClient(cfg Config, limiter *ratelimit.Limiter) *ChatClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if limiter == nil {
		limiter = ratelimit.NewLimiter(cfg.RequestsPerSecond, cfg.Burst)
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	return &ChatClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		retry: retry.Config{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: backoff,
			MaxBackoff:     30 * time.Second,
			Multiplier:     2.0,
			ShouldRetry:    shouldRetry,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// statusError is a non-2xx reply from the endpoint.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

func shouldRetry(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return retry.IsRetryable(err)
}

// Complete sends one chat completion request, retrying transient failures.
// Missing credentials, rejected credentials and an unreachable endpoint are
// fatal; everything else is recoverable.
func (c *ChatClient) Complete(ctx context.Context, system, user string) (string, error) {
	if !c.cfg.HasCredentials() {
		return "", models.Fatal("generator API key not configured for provider %s (set GROQ_API_KEY)", c.cfg.Provider)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", models.Fatal("failed to encode chat request: %v", err)
	}

	reply, err := retry.DoValue(ctx, c.retry, func() (string, error) {
		if err := c.limiter.Wait(ctx, c.cfg.Provider); err != nil {
			return "", err
		}
		return c.post(ctx, body)
	})
	if err == nil {
		return reply, nil
	}

	var se *statusError
	switch {
	case errors.As(err, &se) && (se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden):
		return "", &models.FatalError{Msg: fmt.Sprintf("generator rejected credentials: %v", se), Err: err}
	case retry.IsUnreachable(err):
		return "", &models.FatalError{Msg: fmt.Sprintf("generator unreachable at %s: %v", c.cfg.BaseURL, err), Err: err}
	case ctx.Err() != nil:
		return "", fmt.Errorf("generator call cancelled: %w", ctx.Err())
	}
	return "", &models.RecoverableError{Msg: fmt.Sprintf("generator call failed: %v", err), Err: err}
}

func (c *ChatClient) post(ctx context.Context, body []byte) (string, error) {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &statusError{Code: resp.StatusCode, Body: truncate(strings.TrimSpace(string(data)), 300)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("empty completion")
	}
	return parsed.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
