package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Table names a row source on the change feed.
type Table string

const (
	TableEstados   Table = "estados"
	TableViews     Table = "estado_views"
	TableReactions Table = "estado_reactions"
)

// ChangeType mirrors the row operation that produced an event.
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// ChannelPrefix namespaces change-feed channels in Redis.
const ChannelPrefix = "changes:"

// AnyEstado subscribes to every estado of a table.
const AnyEstado = "*"

// ChangeEvent is one row change as seen by subscribers.
type ChangeEvent struct {
	Table      Table           `json:"table"`
	Type       ChangeType      `json:"type"`
	EstadoID   uuid.UUID       `json:"estado_id"`
	ViewerID   uuid.UUID       `json:"viewer_id"`
	Row        json.RawMessage `json:"row,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// NewChange builds an event carrying row as its JSON payload. row may be nil.
func NewChange(table Table, typ ChangeType, estadoID, viewerID uuid.UUID, row any) (ChangeEvent, error) {
	ev := ChangeEvent{
		Table:      table,
		Type:       typ,
		EstadoID:   estadoID,
		ViewerID:   viewerID,
		OccurredAt: time.Now().UTC(),
	}
	if row != nil {
		raw, err := json.Marshal(row)
		if err != nil {
			return ChangeEvent{}, fmt.Errorf("marshal %s row: %w", table, err)
		}
		ev.Row = raw
	}
	return ev, nil
}

// Channel is the concrete channel an event for (table, estadoID) is published on.
func Channel(table Table, estadoID uuid.UUID) string {
	return fmt.Sprintf("%s%s:%s", ChannelPrefix, table, estadoID)
}

// Pattern builds a subscription pattern. An empty table or estadoID matches all.
func Pattern(table Table, estadoID string) string {
	t := string(table)
	if t == "" {
		t = "*"
	}
	if estadoID == "" {
		estadoID = AnyEstado
	}
	return ChannelPrefix + t + ":" + estadoID
}

// Channel returns the channel this event is published on.
func (e ChangeEvent) Channel() string {
	return Channel(e.Table, e.EstadoID)
}

type Publisher interface {
	Publish(ctx context.Context, ev ChangeEvent) error
}

// Feed delivers change events for a table, optionally narrowed to one estado.
// The returned cancel func releases the subscription and closes the channel.
type Feed interface {
	Subscribe(ctx context.Context, table Table, estadoID string) (<-chan ChangeEvent, func(), error)
}

// Bus is a Feed that can also be published to.
type Bus interface {
	Publisher
	Feed
}
