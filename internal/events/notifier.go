package events

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"estados/pkg/logger"
)

// Notifier publishes change events after a committed write. Publish failures are
// logged and swallowed; the row write already succeeded.
type Notifier struct {
	pub    Publisher
	logger *logger.Logger
}

// NewNotifier wraps pub. A nil pub produces a notifier that drops everything.
func NewNotifier(pub Publisher, log *logger.Logger) *Notifier {
	if log == nil {
		log = logger.Nop()
	}
	return &Notifier{pub: pub, logger: log.Named("notifier")}
}

func (n *Notifier) Notify(ctx context.Context, table Table, typ ChangeType, estadoID, viewerID uuid.UUID, row any) {
	if n == nil || n.pub == nil {
		return
	}
	ev, err := NewChange(table, typ, estadoID, viewerID, row)
	if err != nil {
		n.logger.Warn("build change event", zap.String("table", string(table)), zap.Error(err))
		return
	}
	if err := n.pub.Publish(ctx, ev); err != nil {
		n.logger.Warn("publish change event",
			zap.String("channel", ev.Channel()),
			zap.String("status_id", estadoID.String()),
			zap.Error(err),
		)
	}
}
