// Package llm provides the text-completion clients used for routing, query generation and answer composition.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/hubagent/internal/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrEmptyCompletion is returned when the provider answers without any text.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Request is a single-turn completion request.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// Client completes prompts.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	Name() string
}

// Func adapts a function to Client.
type Func func(ctx context.Context, req Request) (string, error)

// Complete calls f.
func (f Func) Complete(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

// Name returns "func".
func (f Func) Name() string { return "func" }

// New builds the client configured by cfg, wrapped with rate limiting and a per-call timeout.
// It returns nil when no provider is configured.
func New(ctx context.Context, cfg *config.LLMConfig, logger *zap.Logger) (Client, error) {
	var c Client
	switch strings.ToLower(cfg.Provider) {
	case "", "none":
		return nil, nil
	case "openai":
		c = NewOpenAI(cfg.APIBase, cfg.APIKey, cfg.Model)
	case "gemini":
		g, err := NewGemini(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		c = g
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if cfg.APIKey == "" && logger != nil {
		logger.Warn("llm api key is empty", zap.String("provider", c.Name()))
	}
	return NewLimited(c, cfg.RequestsPerSecond, cfg.Burst, cfg.Timeout, cfg.MaxTokens, cfg.Temperature), nil
}

// Limited throttles calls to an inner Client and bounds each call's duration.
// Requests without MaxTokens or Temperature inherit the configured defaults.
type Limited struct {
	inner       Client
	limiter     *rate.Limiter
	timeout     time.Duration
	maxTokens   int
	temperature float64
}

// NewLimited wraps inner. rps <= 0 disables rate limiting; timeout <= 0 disables the per-call deadline.
func NewLimited(inner Client, rps float64, burst int, timeout time.Duration, maxTokens int, temperature float64) *Limited {
	l := &Limited{inner: inner, timeout: timeout, maxTokens: maxTokens, temperature: temperature}
	if rps > 0 {
		if burst <= 0 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return l
}

// Complete waits for a rate token and calls the inner client under the timeout.
func (l *Limited) Complete(ctx context.Context, req Request) (string, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("llm rate limit: %w", err)
		}
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = l.maxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = l.temperature
	}
	out, err := l.inner.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", ErrEmptyCompletion
	}
	return out, nil
}

// Name returns the inner client's name.
func (l *Limited) Name() string { return l.inner.Name() }
