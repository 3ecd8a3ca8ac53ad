// Package redis provides the Redis pub/sub transport.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	backend "github.com/redis/go-redis/v9"

	"github.com/avencia/graphrun/internal/logging"
)

// Broker implements ports.Broker over Redis channels.
type Broker struct {
	client *backend.Client
	logger *slog.Logger
}

type Option func(*Broker)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// New creates a Broker with its own client.
func New(address, password string, db int, opts ...Option) *Broker {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a Broker from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Broker {
	b := &Broker{
		client: client,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Ping verifies the connection.
func (b *Broker) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// Publish sends the payload to every current subscriber of the channel.
// Redis pub/sub is fire-and-forget: a channel with no subscribers drops
// the message silently.
func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a subscription on the channel. Messages arrive on the
// returned channel until cancel is called or ctx is done; go-redis
// re-subscribes transparently after a reconnect.
func (b *Broker) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := b.client.Subscribe(ctx, channel)

	// Receive forces the SUBSCRIBE round-trip so the caller holds a live
	// subscription before publishing anything it expects a reply to.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	out := make(chan []byte, 64)
	done := make(chan struct{})

	go func() {
		defer close(out)
		src := sub.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			if err := sub.Close(); err != nil {
				b.logger.Warn("failed to close subscription", "channel", channel, "err", err)
			}
		})
	}
	return out, cancel, nil
}

// Close closes the redis client.
func (b *Broker) Close() error {
	return b.client.Close()
}
