// Package llm wraps the chat-completion backends used by the revision loop.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrEmptyResponse is returned when a backend answers without any text.
	ErrEmptyResponse = errors.New("model returned no content")
	// ErrUnknownProvider is returned by New for an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown llm provider")
)

// Request is a single stateless prompt.
type Request struct {
	System      string
	User        string
	Temperature float64
}

// Response contains the result of a generation request
type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Provider turns a prompt into text. Implementations must be safe for
// concurrent use.
type Provider interface {
	Name() string
	Model() string
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// Config selects and parameterizes a provider.
type Config struct {
	Provider          string
	BaseURL           string
	Model             string
	APIKey            string
	MaxTokens         int
	Timeout           time.Duration
	RequestsPerMinute int
}

// New builds the configured provider, rate limited when RequestsPerMinute
// is positive.
func New(cfg Config, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var p Provider
	switch cfg.Provider {
	case "", "openai":
		p = NewOpenAI(cfg)
	case "anthropic":
		p = NewAnthropic(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}

	logger.Info("llm provider ready",
		zap.String("provider", p.Name()),
		zap.String("model", p.Model()),
		zap.Int("requests_per_minute", cfg.RequestsPerMinute))

	if cfg.RequestsPerMinute > 0 {
		p = NewRateLimited(p, cfg.RequestsPerMinute)
	}
	return p, nil
}
