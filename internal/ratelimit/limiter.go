package ratelimit

import "context"

// RateLimiter controls outbound send throughput per tenant.
type RateLimiter interface {
	Allow(ctx context.Context, tenantID string) (bool, error)
	Wait(ctx context.Context, tenantID string) error
}
