package ratelimit

import "context"

// RateLimiter throttles outbound sends per transport.
type RateLimiter interface {
	Allow(ctx context.Context, transport string) (bool, error)
	Wait(ctx context.Context, transport string) error
}

// Unlimited never throttles. It backs the CLI, which runs without Redis.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }

func (Unlimited) Wait(context.Context, string) error { return nil }
