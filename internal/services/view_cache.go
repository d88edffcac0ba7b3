package services

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"estados/internal/domain/status"
	"estados/internal/events"
	"estados/internal/reconcile"
	"estados/internal/repository"
	"estados/internal/writebehind"
	"estados/pkg/logger"
)

// ViewState is what the view cache knows about one estado.
type ViewState struct {
	Count  int64 `json:"count"`
	Viewed bool  `json:"viewed"`
}

type viewKey struct {
	EstadoID uuid.UUID
	ViewerID uuid.UUID
}

type ViewCacheConfig struct {
	TTL        time.Duration
	FlushDelay time.Duration
}

// ViewCache holds view counts and viewed flags, counts views optimistically and
// writes them behind through a debounced queue.
type ViewCache struct {
	entries *reconcile.Cache[uuid.UUID, ViewState]
	queue   *writebehind.Queue[viewKey]
	repo    repository.ViewRepository
	clock   clock.Clock
	logger  *logger.Logger

	background sync.WaitGroup
}

func NewViewCache(ctx context.Context, repo repository.ViewRepository, cfg ViewCacheConfig, clk clock.Clock, log *logger.Logger) *ViewCache {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logger.Nop()
	}
	c := &ViewCache{
		entries: reconcile.New[uuid.UUID, ViewState](cfg.TTL, clk),
		repo:    repo,
		clock:   clk,
		logger:  log.Named("view_cache"),
	}
	c.queue = writebehind.New(ctx, cfg.FlushDelay, clk, c.flush)
	return c
}

// Get returns the cached state. A TTL-stale entry reports ok=false but still
// carries its viewed flag, which never expires.
func (c *ViewCache) Get(estadoID uuid.UUID) (ViewState, bool) {
	if st, ok := c.entries.Get(estadoID); ok {
		return st, true
	}
	if snap, ok := c.entries.Peek(estadoID); ok {
		return ViewState{Viewed: snap.Value.Viewed}, false
	}
	return ViewState{}, false
}

// Peek returns the cached state regardless of staleness.
func (c *ViewCache) Peek(estadoID uuid.UUID) (ViewState, bool) {
	snap, ok := c.entries.Peek(estadoID)
	return snap.Value, ok
}

// RecordView counts a view locally right away and queues the remote insert.
// A repeat call for an estado already marked viewed is a no-op, as is a call
// without a viewer. It reports whether the view was counted.
func (c *ViewCache) RecordView(estadoID, viewerID uuid.UUID) bool {
	if viewerID == uuid.Nil || estadoID == uuid.Nil {
		return false
	}

	counted := false
	c.entries.ApplyOptimistic(estadoID, 0, func(cur ViewState, _ bool) ViewState {
		if cur.Viewed {
			return cur
		}
		counted = true
		return ViewState{Count: cur.Count + 1, Viewed: true}
	})
	if counted {
		c.queue.Add(viewKey{EstadoID: estadoID, ViewerID: viewerID})
	}
	return counted
}

func (c *ViewCache) flush(ctx context.Context, keys []viewKey) {
	for _, k := range keys {
		log := c.logger.WithContext(ctx).With(
			zap.String("status_id", k.EstadoID.String()),
			zap.String("viewer_id", k.ViewerID.String()),
		)
		exists, err := c.repo.Exists(ctx, k.EstadoID, k.ViewerID)
		if err != nil {
			log.Warn("check view existence", zap.Error(err))
			continue
		}
		if exists {
			continue
		}
		rec := &status.ViewRecord{EstadoID: k.EstadoID, ViewerID: k.ViewerID, ViewedAt: c.clock.Now().UTC()}
		if err := c.repo.Insert(ctx, rec); err != nil {
			log.Warn("insert view", zap.Error(err))
		}
	}
}

// Flush writes pending views now instead of waiting for the quiet window.
func (c *ViewCache) Flush(ctx context.Context) {
	c.queue.Flush(ctx)
}

// Pending reports how many views await flush.
func (c *ViewCache) Pending() int {
	return len(c.queue.Pending())
}

// Fetch reconciles estadoID, plus every TTL-stale entry, against the store in one
// round trip. Counts merge upward; the viewed flag is kept.
func (c *ViewCache) Fetch(ctx context.Context, estadoID uuid.UUID) {
	ids := append([]uuid.UUID{estadoID}, c.entries.StaleKeys()...)
	stats, err := c.repo.Stats(ctx, ids, uuid.Nil)
	if err != nil {
		c.logger.WithContext(ctx).Warn("fetch views",
			zap.String("status_id", estadoID.String()),
			zap.Error(err),
		)
		return
	}
	for id, remote := range stats {
		c.entries.ApplyAuthoritative(id, func(cur ViewState, _ bool) ViewState {
			return ViewState{Count: max(cur.Count, remote.Count), Viewed: cur.Viewed}
		})
	}
}

// FetchInBackground runs Fetch without blocking the caller.
func (c *ViewCache) FetchInBackground(ctx context.Context, estadoID uuid.UUID) {
	ctx = context.WithoutCancel(ctx)
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		c.Fetch(ctx, estadoID)
	}()
}

// Refresh replaces the cached count with the store's. The viewed flag can only
// turn on.
func (c *ViewCache) Refresh(ctx context.Context, estadoID, viewerID uuid.UUID) {
	stats, err := c.repo.Stats(ctx, []uuid.UUID{estadoID}, viewerID)
	if err != nil {
		c.logger.WithContext(ctx).Warn("refresh views",
			zap.String("status_id", estadoID.String()),
			zap.String("viewer_id", viewerID.String()),
			zap.Error(err),
		)
		return
	}
	remote := stats[estadoID]
	c.entries.ApplyAuthoritative(estadoID, func(cur ViewState, _ bool) ViewState {
		return ViewState{Count: remote.Count, Viewed: cur.Viewed || remote.Viewed}
	})
}

// Prefetch loads counts and, for a non-nil viewer, seen flags for all ids at once.
func (c *ViewCache) Prefetch(ctx context.Context, estadoIDs []uuid.UUID, viewerID uuid.UUID) error {
	if len(estadoIDs) == 0 {
		return nil
	}
	stats, err := c.repo.Stats(ctx, estadoIDs, viewerID)
	if err != nil {
		c.logger.WithContext(ctx).Warn("prefetch views", zap.Int("count", len(estadoIDs)), zap.Error(err))
		return err
	}
	for id, remote := range stats {
		c.entries.ApplyAuthoritative(id, func(cur ViewState, _ bool) ViewState {
			return ViewState{Count: max(cur.Count, remote.Count), Viewed: cur.Viewed || remote.Viewed}
		})
	}
	return nil
}

// HandleChange reconciles one change-feed event. View inserts for cached
// estados trigger a fetch; everything else is ignored.
func (c *ViewCache) HandleChange(ctx context.Context, ev events.ChangeEvent) {
	if ev.Table != events.TableViews || ev.Type != events.ChangeInsert {
		return
	}
	if _, err := status.ParseViewRecord(ev.Row); err != nil {
		c.logger.WithContext(ctx).Warn("drop view change", zap.String("status_id", ev.EstadoID.String()), zap.Error(err))
		return
	}
	if _, ok := c.entries.Peek(ev.EstadoID); !ok {
		return
	}
	c.Fetch(ctx, ev.EstadoID)
}

// Clear drops every entry. Pending writes are unaffected.
func (c *ViewCache) Clear() {
	c.entries.Clear()
}

// Wait blocks until background fetches finish.
func (c *ViewCache) Wait() {
	c.background.Wait()
}

// Close flushes pending views and waits for background work.
func (c *ViewCache) Close(ctx context.Context) {
	c.queue.Close(ctx)
	c.background.Wait()
}
