package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const defaultClaimTTL = 24 * time.Hour

// RunClaims guards against dispatching the same run twice when the broker
// redelivers a batch message after a worker crash.
type RunClaims struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewRunClaims(client *goredis.Client, ttl time.Duration) (*RunClaims, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultClaimTTL
	}
	return &RunClaims{client: client, ttl: ttl}, nil
}

// Claim returns true when the caller is the first to claim runID.
func (c *RunClaims) Claim(ctx context.Context, runID string) (bool, error) {
	key, err := claimKey(runID)
	if err != nil {
		return false, err
	}

	ok, err := c.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim run %q: %w", runID, err)
	}
	return ok, nil
}

// Release drops a claim so a run aborted before sending can be retried.
func (c *RunClaims) Release(ctx context.Context, runID string) error {
	key, err := claimKey(runID)
	if err != nil {
		return err
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to release run %q: %w", runID, err)
	}
	return nil
}

func claimKey(runID string) (string, error) {
	trimmed := strings.TrimSpace(runID)
	if trimmed == "" {
		return "", fmt.Errorf("run id is required")
	}
	return "notify:run:" + trimmed, nil
}
