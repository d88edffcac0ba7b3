package websocket

import (
	"context"

	"go.uber.org/zap"

	"estados/internal/events"
	"estados/pkg/logger"
)

// Bridge fans change-feed events out to hub subscribers. A client following
// a whole table and one estado of it receives each event once.
type Bridge struct {
	feed   events.Feed
	hub    *Hub
	logger *logger.Logger
}

func NewBridge(feed events.Feed, hub *Hub, log *logger.Logger) *Bridge {
	if log == nil {
		log = logger.Nop()
	}
	return &Bridge{feed: feed, hub: hub, logger: log.Named("ws_bridge")}
}

// Run forwards events until ctx ends or the feed closes.
func (b *Bridge) Run(ctx context.Context) error {
	ch, cancel, err := b.feed.Subscribe(ctx, "", events.AnyEstado)
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			b.forward(ev)
		}
	}
}

func (b *Bridge) forward(ev events.ChangeEvent) {
	channel := ev.Channel()
	payload := encode(ServerMessage{Type: TypeChange, Channel: channel, Data: ev})
	n := b.hub.Broadcast(payload, channel, events.Pattern(ev.Table, events.AnyEstado))
	b.logger.Debug("change forwarded", zap.String("channel", channel), zap.Int("clients", n))
}
