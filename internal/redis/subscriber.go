package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
)

type Subscriber struct {
	client *redis.Client
}

func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe opens a pattern subscription and waits for Redis to confirm it, so
// messages published after it returns are not missed.
func (s *Subscriber) Subscribe(ctx context.Context, patterns ...string) (*redis.PubSub, error) {
	sub := s.client.PSubscribe(ctx, patterns...)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	return sub, nil
}

// Listen hands every message on sub to handler until ctx ends or the
// subscription is closed.
func Listen(ctx context.Context, sub *redis.PubSub, handler func(channel string, payload []byte)) error {
	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			return err
		}
		handler(msg.Channel, []byte(msg.Payload))
	}
}
