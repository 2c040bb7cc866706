package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestGetSetDel(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, ok, err := st.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.Set(ctx, "k", "v", time.Minute))
	val, ok, err := st.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", val)

	require.NoError(t, st.Del(ctx, "k"))
	_, ok, err = st.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStreamGroupRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.EnsureGroup(ctx, "s", "g"))
	// Idempotent on an existing group.
	require.NoError(t, st.EnsureGroup(ctx, "s", "g"))

	id, err := st.StreamAdd(ctx, "s", map[string]any{"job": "payload"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs, err := st.ReadGroup(ctx, "s", "g", "c1", 1, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "payload", msgs[0].Values["job"])

	require.NoError(t, st.Ack(ctx, "s", "g", msgs[0].ID))

	// Nothing left for the group.
	msgs, err = st.ReadGroup(ctx, "s", "g", "c1", 1, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSubscribeConfirmedBeforePublish(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	sub, err := st.Subscribe(ctx, "ch")
	require.NoError(t, err)
	defer sub.Close()

	// Subscribe returned, so this publish cannot be lost.
	require.NoError(t, st.Publish(ctx, "ch", "hello"))

	payload, err := sub.ReceiveMessage(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", payload)
}

func TestReceiveMessageTimeout(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	sub, err := st.Subscribe(ctx, "quiet")
	require.NoError(t, err)
	defer sub.Close()

	_, err = sub.ReceiveMessage(ctx, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrReceiveTimeout)
}
