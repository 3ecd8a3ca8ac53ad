package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avencia/graphrun/internal/adapters/redis"
)

func newBroker(t *testing.T) *redis.Broker {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	b := redis.NewFromClient(client)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBroker_PublishReachesSubscriber(t *testing.T) {
	b := newBroker(t)
	ctx := context.Background()

	ch, cancel, err := b.Subscribe(ctx, "graph:messages")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, b.Publish(ctx, "graph:messages", []byte(`{"session_id":"s-1"}`)))

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"session_id":"s-1"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestBroker_ChannelsAreIsolated(t *testing.T) {
	b := newBroker(t)
	ctx := context.Background()

	ch, cancel, err := b.Subscribe(ctx, "sessions:a:user_input")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, b.Publish(ctx, "sessions:b:user_input", []byte("other")))
	require.NoError(t, b.Publish(ctx, "sessions:a:user_input", []byte("mine")))

	select {
	case msg := <-ch:
		assert.Equal(t, "mine", string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestBroker_CancelClosesStream(t *testing.T) {
	b := newBroker(t)
	ctx := context.Background()

	ch, cancel, err := b.Subscribe(ctx, "sessions:session_status")
	require.NoError(t, err)

	cancel()
	cancel() // idempotent

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel must be closed after cancel")
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestBroker_ContextCancelClosesStream(t *testing.T) {
	b := newBroker(t)
	ctx, stop := context.WithCancel(context.Background())

	ch, cancel, err := b.Subscribe(ctx, "graph:messages")
	require.NoError(t, err)
	defer cancel()

	stop()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after context cancellation")
	}
}

func TestBroker_PublishWithoutSubscribersIsDropped(t *testing.T) {
	b := newBroker(t)
	require.NoError(t, b.Publish(context.Background(), "graph:messages", []byte("nobody home")))
}
