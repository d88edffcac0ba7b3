package events

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"estados/internal/redis"
	"estados/pkg/logger"
)

// RedisFeed carries change events over Redis pub/sub, one channel per
// (table, estado) pair.
type RedisFeed struct {
	publisher  *redis.Publisher
	subscriber *redis.Subscriber
	logger     *logger.Logger
	buffer     int
}

func NewRedisFeed(client *goredis.Client, log *logger.Logger) *RedisFeed {
	if log == nil {
		log = logger.Nop()
	}
	return &RedisFeed{
		publisher:  redis.NewPublisher(client),
		subscriber: redis.NewSubscriber(client),
		logger:     log.Named("redis_feed"),
		buffer:     64,
	}
}

func (f *RedisFeed) Publish(ctx context.Context, ev ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}
	return f.publisher.Publish(ctx, ev.Channel(), data)
}

func (f *RedisFeed) Subscribe(ctx context.Context, table Table, estadoID string) (<-chan ChangeEvent, func(), error) {
	pattern := Pattern(table, estadoID)
	sub, err := f.subscriber.Subscribe(ctx, pattern)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe %s: %w", pattern, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan ChangeEvent, f.buffer)

	go func() {
		defer close(out)
		defer sub.Close()

		err := redis.Listen(ctx, sub, func(channel string, payload []byte) {
			var ev ChangeEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				f.logger.Warn("drop malformed change event", zap.String("channel", channel), zap.Error(err))
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		})
		if err != nil && ctx.Err() == nil {
			f.logger.Warn("change feed subscription ended", zap.String("pattern", pattern), zap.Error(err))
		}
	}()

	return out, cancel, nil
}
