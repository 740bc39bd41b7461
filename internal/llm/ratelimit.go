package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited gates a provider behind a token bucket. It never retries.
type RateLimited struct {
	Provider
	limiter *rate.Limiter
}

// NewRateLimited allows rpm requests per minute with a burst of one.
func NewRateLimited(p Provider, rpm int) *RateLimited {
	return &RateLimited{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
	}
}

// Invoke waits for a token, then delegates.
func (r *RateLimited) Invoke(ctx context.Context, req Request) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}
	return r.Provider.Invoke(ctx, req)
}
