// internal/llmclient/ratelimit.go
package llmclient

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// RateLimitedClient spaces out calls to the wrapped client. Waiting respects
// the caller's context.
type RateLimitedClient struct {
	next    schemas.LLMClient
	limiter *rate.Limiter
}

// NewRateLimitedClient allows perMinute requests per minute with a burst of
// one. A non-positive rate disables limiting.
func NewRateLimitedClient(next schemas.LLMClient, perMinute float64) *RateLimitedClient {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(perMinute / 60)
	}
	return &RateLimitedClient{next: next, limiter: rate.NewLimiter(limit, 1)}
}

func (c *RateLimitedClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for LLM rate limit: %w", err)
	}
	return c.next.Generate(ctx, req)
}

func (c *RateLimitedClient) Close() error { return c.next.Close() }
