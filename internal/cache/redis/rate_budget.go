package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/venuelabs/microroute/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// RateBudget implements domain.RateBudget with a sliding window of request
// timestamps held in a Redis sorted set. Trimming, counting, and consuming
// run atomically in a single Lua script so concurrent callers never overspend
// the budget.
type RateBudget struct {
	rdb           *redis.Client
	slidingWindow *redis.Script
}

// NewRateBudget creates a RateBudget backed by the given Client.
func NewRateBudget(c *Client) *RateBudget {
	return &RateBudget{
		rdb:           c.Underlying(),
		slidingWindow: redis.NewScript(slidingWindowLua),
	}
}

func rateBudgetKey(venue string) string {
	return "ratebudget:" + venue
}

// Consume counts one request against the venue's window and reports whether
// it fit the budget plus the remaining quota.
func (rb *RateBudget) Consume(ctx context.Context, venue string, limit int, window time.Duration) (bool, int, error) {
	allowed, remaining, err := rb.run(ctx, venue, limit, window, true)
	if err != nil {
		return false, 0, err
	}
	return allowed, remaining, nil
}

// Remaining reports the unused quota without consuming any of it.
func (rb *RateBudget) Remaining(ctx context.Context, venue string, limit int, window time.Duration) (int, error) {
	_, remaining, err := rb.run(ctx, venue, limit, window, false)
	return remaining, err
}

func (rb *RateBudget) run(ctx context.Context, venue string, limit int, window time.Duration, consume bool) (bool, int, error) {
	consumeArg := "0"
	if consume {
		consumeArg = "1"
	}

	result, err := rb.slidingWindow.Run(
		ctx,
		rb.rdb,
		[]string{rateBudgetKey(venue)},
		time.Now().UnixMicro(),
		window.Microseconds(),
		limit,
		consumeArg,
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis: rate budget %s: %w", venue, err)
	}
	if len(result) < 2 {
		return false, 0, fmt.Errorf("redis: rate budget %s: unexpected result length %d", venue, len(result))
	}

	return result[0] == 1, int(result[1]), nil
}

// Compile-time interface check.
var _ domain.RateBudget = (*RateBudget)(nil)
