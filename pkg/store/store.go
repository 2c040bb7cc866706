package store

import (
	"context"
	"errors"
	"time"
)

// ErrReceiveTimeout is returned by Subscription.ReceiveMessage when the
// blocking window elapses without a message.
var ErrReceiveTimeout = errors.New("store: receive timeout")

// StreamMessage is one entry read from a shared stream.
type StreamMessage struct {
	ID     string
	Values map[string]string
}

// Subscription is a confirmed pub/sub subscription. ReceiveMessage blocks
// server-side up to timeout; Close unsubscribes.
type Subscription interface {
	ReceiveMessage(ctx context.Context, timeout time.Duration) (string, error)
	Close() error
}

// Store is the shared-store surface required for fleet-wide coordination.
// Every cross-instance mechanism in the gateway (counters, circuit state,
// cache L2, job streams, result channels) goes through this interface.
type Store interface {
	// Key/value
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	// Atomic counters and scripting
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Eval(ctx context.Context, script string, keys []string, args ...any) (any, error)

	// Sets
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error

	// Streams with consumer groups
	StreamAdd(ctx context.Context, stream string, values map[string]any) (string, error)
	StreamLen(ctx context.Context, stream string) (int64, error)
	EnsureGroup(ctx context.Context, stream, group string) error
	ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]StreamMessage, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error

	// Pub/sub
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Publish(ctx context.Context, channel, payload string) error

	// Utility
	Ping(ctx context.Context) error
	Close() error
}
