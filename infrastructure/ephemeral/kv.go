// Package ephemeral is a thin TTL key-value surface over Valkey with an
// in-memory fallback. Everything stored here may vanish at any time; callers
// keep durable truth in the relational store.
package ephemeral

import (
	"context"
	"time"
)

// KV is the operation set the bot needs for dedup keys, auth state, rate
// buckets, token lists and the bug-report queues.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores only when the key is absent. Returns true when this call
	// created the key.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Incr increments a counter, applying ttl when the counter is created.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// IncrBy adds n to a counter, applying ttl when the counter is created.
	IncrBy(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error)
	Delete(ctx context.Context, key string) error

	// List operations back the bug-report queues.
	ListPush(ctx context.Context, key, value string) error
	ListAll(ctx context.Context, key string) ([]string, error)
	ListRemove(ctx context.Context, key, value string) error

	// Sorted-set operations back the scheduler's execution-time queue.
	// Scores are unix seconds.
	ZAdd(ctx context.Context, key string, score float64, member string) error
	// ZDue returns members with score <= max, lowest first.
	ZDue(ctx context.Context, key string, max float64, limit int) ([]string, error)
	ZRem(ctx context.Context, key, member string) error
	// ZNext peeks the member with the lowest score.
	ZNext(ctx context.Context, key string) (member string, score float64, ok bool, err error)
}
