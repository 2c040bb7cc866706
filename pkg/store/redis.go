package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStore implements Store on a go-redis client. A single instance is
// shared read-only by all components of a process; the client maintains its
// own connection pool.
type redisStore struct {
	client *redis.Client
}

// Config holds redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewRedis connects to the shared store and verifies reachability.
func NewRedis(ctx context.Context, cfg Config) (Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to shared store: %w", err)
	}
	return &redisStore{client: client}, nil
}

// NewRedisFromClient wraps an existing client. Used by tests with miniredis.
func NewRedisFromClient(client *redis.Client) Store {
	return &redisStore{client: client}
}

func (s *redisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *redisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *redisStore) Del(ctx context.Context, keys ...string) error {
	return s.client.Del(ctx, keys...).Err()
}

func (s *redisStore) Incr(ctx context.Context, key string) (int64, error) {
	return s.client.Incr(ctx, key).Result()
}

func (s *redisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

func (s *redisStore) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	return s.client.Eval(ctx, script, keys, args...).Result()
}

func (s *redisStore) SAdd(ctx context.Context, key string, members ...string) error {
	vals := make([]any, len(members))
	for i, m := range members {
		vals[i] = m
	}
	return s.client.SAdd(ctx, key, vals...).Err()
}

func (s *redisStore) SRem(ctx context.Context, key string, members ...string) error {
	vals := make([]any, len(members))
	for i, m := range members {
		vals[i] = m
	}
	return s.client.SRem(ctx, key, vals...).Err()
}

func (s *redisStore) StreamAdd(ctx context.Context, stream string, values map[string]any) (string, error) {
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()
}

func (s *redisStore) StreamLen(ctx context.Context, stream string) (int64, error) {
	return s.client.XLen(ctx, stream).Result()
}

func (s *redisStore) EnsureGroup(ctx context.Context, stream, group string) error {
	err := s.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && strings.Contains(err.Error(), "BUSYGROUP") {
		return nil // group already exists
	}
	return err
}

func (s *redisStore) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]StreamMessage, error) {
	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var msgs []StreamMessage
	for _, str := range res {
		for _, m := range str.Messages {
			values := make(map[string]string, len(m.Values))
			for k, v := range m.Values {
				if sv, ok := v.(string); ok {
					values[k] = sv
				} else {
					values[k] = fmt.Sprint(v)
				}
			}
			msgs = append(msgs, StreamMessage{ID: m.ID, Values: values})
		}
	}
	return msgs, nil
}

func (s *redisStore) Ack(ctx context.Context, stream, group string, ids ...string) error {
	return s.client.XAck(ctx, stream, group, ids...).Err()
}

func (s *redisStore) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := s.client.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so a publisher racing with us
	// cannot win. Messages published after this point are delivered.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("confirm subscription to %s: %w", channel, err)
	}
	return &redisSubscription{ps: ps}, nil
}

func (s *redisStore) Publish(ctx context.Context, channel, payload string) error {
	return s.client.Publish(ctx, channel, payload).Err()
}

func (s *redisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

type redisSubscription struct {
	ps *redis.PubSub
}

func (r *redisSubscription) ReceiveMessage(ctx context.Context, timeout time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	msg, err := r.ps.ReceiveTimeout(ctx, timeout)
	if err != nil {
		// go-redis surfaces an elapsed read deadline as a net timeout.
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", ErrReceiveTimeout
		}
		return "", err
	}
	switch m := msg.(type) {
	case *redis.Message:
		return m.Payload, nil
	case *redis.Subscription:
		// Subscription bookkeeping, not a payload; treat as a timeout so
		// the caller re-blocks.
		return "", ErrReceiveTimeout
	default:
		return "", fmt.Errorf("unexpected pubsub message %T", msg)
	}
}

func (r *redisSubscription) Close() error {
	return r.ps.Close()
}
