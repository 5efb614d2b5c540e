package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/saviobatista/atc-online/internal/types"
)

// Subscription is a dedicated pub/sub connection owned by one consumer
type Subscription interface {
	// Receive blocks until the next notification arrives or the
	// subscription is closed.
	Receive(ctx context.Context) (*types.Notification, error)
	// Close unsubscribes and releases the connection. Receive calls
	// blocked on the connection return an error.
	Close() error
}

type pubSub struct {
	ps *redis.PubSub
}

// Subscribe opens a new pub/sub connection for the channels and waits for
// the server to confirm the subscription
func (c *Client) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	ps := c.client.Subscribe(ctx, channels...)

	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %v: %w", channels, err)
	}

	return &pubSub{ps: ps}, nil
}

func (p *pubSub) Receive(ctx context.Context) (*types.Notification, error) {
	msg, err := p.ps.ReceiveMessage(ctx)
	if err != nil {
		return nil, err
	}
	return &types.Notification{Channel: msg.Channel, Payload: msg.Payload}, nil
}

func (p *pubSub) Close() error {
	return p.ps.Close()
}
