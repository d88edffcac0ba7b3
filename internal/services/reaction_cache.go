package services

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"estados/internal/domain/status"
	"estados/internal/events"
	"estados/internal/reconcile"
	"estados/internal/repository"
	"estados/pkg/logger"
)

// ReactionCount is one emoji bucket of an estado's reactions.
type ReactionCount struct {
	Emoji        string   `json:"emoji"`
	Count        int      `json:"count"`
	DisplayNames []string `json:"display_names"`
}

// ReactionState is the reaction cache view of one estado.
type ReactionState struct {
	Reactions    []ReactionCount `json:"reactions"`
	UserReaction *string         `json:"user_reaction"`
	Pending      bool            `json:"pending"`
}

// Reactor identifies the signed-in viewer that owns a reaction cache.
type Reactor struct {
	ID   uuid.UUID
	Name string
}

type ReactionCacheConfig struct {
	TTL        time.Duration
	LockWindow time.Duration
	// WriteTimeout bounds each store write. Zero means 10s.
	WriteTimeout time.Duration
}

const defaultReactionWriteTimeout = 10 * time.Second

type reactionWrite struct {
	estadoID uuid.UUID
	emoji    string
}

// ReactionCache holds aggregated reactions per estado plus the owner's own
// reaction in a separate map. Optimistic changes lock an estado for
// LockWindow, during which refreshes are discarded.
type ReactionCache struct {
	mu     sync.Mutex
	mine   map[uuid.UUID]string
	closed bool

	entries *reconcile.Cache[uuid.UUID, []ReactionCount]
	repo    repository.ReactionRepository
	owner   Reactor
	lock    time.Duration
	logger  *logger.Logger

	// pending holds the latest unsaved reaction per estado, queue the order
	// estados were first queued in, unsaved the writes not yet in the store.
	pending      map[uuid.UUID]string
	queue        []uuid.UUID
	unsaved      map[uuid.UUID]int
	signal       chan struct{}
	writeTimeout time.Duration

	inflight   sync.WaitGroup
	background sync.WaitGroup
	done       chan struct{}
}

func NewReactionCache(ctx context.Context, repo repository.ReactionRepository, owner Reactor, cfg ReactionCacheConfig, clk clock.Clock, log *logger.Logger) *ReactionCache {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultReactionWriteTimeout
	}
	c := &ReactionCache{
		mine:         make(map[uuid.UUID]string),
		entries:      reconcile.New[uuid.UUID, []ReactionCount](cfg.TTL, clk),
		repo:         repo,
		owner:        owner,
		lock:         cfg.LockWindow,
		logger:       log.Named("reaction_cache"),
		pending:      make(map[uuid.UUID]string),
		unsaved:      make(map[uuid.UUID]int),
		signal:       make(chan struct{}, 1),
		writeTimeout: cfg.WriteTimeout,
		done:         make(chan struct{}),
	}
	go c.persistLoop(context.WithoutCancel(ctx))
	return c
}

// Get returns the cached reactions. ok is false when the aggregate is missing
// or stale; the owner's reaction is reported either way.
func (c *ReactionCache) Get(estadoID uuid.UUID) (ReactionState, bool) {
	st := c.ownState(estadoID)
	list, ok := c.entries.Get(estadoID)
	if ok {
		st.Reactions = cloneCounts(list)
	}
	st.Pending = c.entries.IsLocked(estadoID)
	return st, ok
}

// Peek returns the cached reactions regardless of staleness.
func (c *ReactionCache) Peek(estadoID uuid.UUID) (ReactionState, bool) {
	st := c.ownState(estadoID)
	snap, ok := c.entries.Peek(estadoID)
	if ok {
		st.Reactions = cloneCounts(snap.Value)
		st.Pending = snap.Locked
	}
	return st, ok
}

func (c *ReactionCache) ownState(estadoID uuid.UUID) ReactionState {
	c.mu.Lock()
	mine, known := c.mine[estadoID]
	c.mu.Unlock()

	st := ReactionState{Reactions: []ReactionCount{}}
	if known && mine != "" {
		st.UserReaction = &mine
	}
	return st
}

// SetOptimistic applies the owner's reaction locally and queues persistence.
// Reacting with the current emoji removes it; a different emoji replaces it.
// Without an owner it is a no-op.
func (c *ReactionCache) SetOptimistic(estadoID uuid.UUID, emoji string) (ReactionState, bool) {
	if c.owner.ID == uuid.Nil || estadoID == uuid.Nil {
		return ReactionState{Reactions: []ReactionCount{}}, false
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ReactionState{Reactions: []ReactionCount{}}, false
	}
	prev := c.mine[estadoID]
	next := emoji
	if prev == emoji {
		next = ""
	}

	list := c.entries.ApplyOptimistic(estadoID, c.lock, func(cur []ReactionCount, _ bool) []ReactionCount {
		out := cloneCounts(cur)
		if prev != "" {
			out = removeReaction(out, prev, c.owner.Name)
		}
		if next != "" {
			out = addReaction(out, next, c.owner.Name)
		}
		return out
	})
	c.mine[estadoID] = next

	if _, queued := c.pending[estadoID]; !queued {
		c.queue = append(c.queue, estadoID)
		c.unsaved[estadoID]++
		c.inflight.Add(1)
	}
	c.pending[estadoID] = next
	c.mu.Unlock()
	c.wake()

	st := ReactionState{Reactions: cloneCounts(list), Pending: c.lock > 0}
	if next != "" {
		st.UserReaction = &next
	}
	return st, true
}

func (c *ReactionCache) wake() {
	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// persistLoop stores queued reactions one at a time. Only the latest reaction
// per estado is written, so a quick toggle on and off can never land in the
// store reversed. It returns once the cache is closed and the queue drained.
func (c *ReactionCache) persistLoop(ctx context.Context) {
	defer close(c.done)
	for {
		w, ok, closed := c.nextWrite()
		if ok {
			c.persist(ctx, w)
			continue
		}
		if closed {
			return
		}
		<-c.signal
	}
}

func (c *ReactionCache) nextWrite() (reactionWrite, bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return reactionWrite{}, false, c.closed
	}
	id := c.queue[0]
	c.queue = c.queue[1:]
	w := reactionWrite{estadoID: id, emoji: c.pending[id]}
	delete(c.pending, id)
	return w, true, c.closed
}

func (c *ReactionCache) persist(ctx context.Context, w reactionWrite) {
	defer c.inflight.Done()
	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	if err := c.repo.Replace(ctx, w.estadoID, c.owner.ID, w.emoji); err != nil {
		c.logger.Warn("persist reaction",
			zap.String("status_id", w.estadoID.String()),
			zap.String("viewer_id", c.owner.ID.String()),
			zap.Error(err),
		)
	}

	c.mu.Lock()
	c.unsaved[w.estadoID]--
	if c.unsaved[w.estadoID] <= 0 {
		delete(c.unsaved, w.estadoID)
	}
	c.mu.Unlock()
}

// Fetch re-derives an estado's reactions from the store. The result is dropped
// while the estado is locked, and the owner's reaction is only filled in when
// not yet known.
func (c *ReactionCache) Fetch(ctx context.Context, estadoID uuid.UUID) {
	c.fetch(ctx, estadoID, false)
}

func (c *ReactionCache) fetch(ctx context.Context, estadoID uuid.UUID, overwriteMine bool) {
	if c.entries.IsLocked(estadoID) {
		c.logger.Debug("skip locked refresh", zap.String("status_id", estadoID.String()))
		return
	}
	rows, err := c.repo.ListByEstado(ctx, estadoID)
	if err != nil {
		c.logger.WithContext(ctx).Warn("fetch reactions", zap.String("status_id", estadoID.String()), zap.Error(err))
		return
	}
	c.applyRows(estadoID, rows, overwriteMine)
}

// FetchInBackground runs Fetch without blocking the caller.
func (c *ReactionCache) FetchInBackground(ctx context.Context, estadoID uuid.UUID) {
	ctx = context.WithoutCancel(ctx)
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		c.Fetch(ctx, estadoID)
	}()
}

// Refresh releases the estado's lock and loads it from the store, overwriting
// the owner's reaction as well.
func (c *ReactionCache) Refresh(ctx context.Context, estadoID uuid.UUID) {
	c.entries.Release(estadoID)
	rows, err := c.repo.ListByEstado(ctx, estadoID)
	if err != nil {
		c.logger.WithContext(ctx).Warn("refresh reactions", zap.String("status_id", estadoID.String()), zap.Error(err))
		return
	}
	c.applyRows(estadoID, rows, true)
}

// Prefetch loads reactions for all ids in one query. Known owner reactions are
// never replaced.
func (c *ReactionCache) Prefetch(ctx context.Context, estadoIDs []uuid.UUID) error {
	if len(estadoIDs) == 0 {
		return nil
	}
	rows, err := c.repo.ListByEstados(ctx, estadoIDs)
	if err != nil {
		c.logger.WithContext(ctx).Warn("prefetch reactions", zap.Int("count", len(estadoIDs)), zap.Error(err))
		return err
	}
	byEstado := make(map[uuid.UUID][]status.ReactionRecord, len(estadoIDs))
	for _, r := range rows {
		byEstado[r.EstadoID] = append(byEstado[r.EstadoID], r)
	}
	for _, id := range estadoIDs {
		c.applyRows(id, byEstado[id], false)
	}
	return nil
}

func (c *ReactionCache) applyRows(estadoID uuid.UUID, rows []status.ReactionRecord, overwriteMine bool) {
	list := aggregateReactions(rows)
	own := ""
	for _, r := range rows {
		if r.ViewerID == c.owner.ID {
			own = r.Emoji
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	applied := c.entries.ApplyAuthoritative(estadoID, func([]ReactionCount, bool) []ReactionCount {
		return list
	})
	if !applied || c.owner.ID == uuid.Nil {
		return
	}
	_, known := c.mine[estadoID]
	if overwriteMine && c.unsaved[estadoID] > 0 {
		// the store has not caught up with the owner's last reaction yet
		overwriteMine = false
	}
	if overwriteMine || !known {
		c.mine[estadoID] = own
	}
}

// HandleChange is the single entry point for reaction change events. A change
// to the owner's own row, made from another device, replaces the owner's
// reaction once no local write for the estado is outstanding.
func (c *ReactionCache) HandleChange(ctx context.Context, ev events.ChangeEvent) {
	if ev.Table != events.TableReactions {
		return
	}
	if ev.Type == events.ChangeInsert {
		if _, err := status.ParseReactionRecord(ev.Row); err != nil {
			c.logger.WithContext(ctx).Warn("drop reaction change", zap.String("status_id", ev.EstadoID.String()), zap.Error(err))
			return
		}
	}
	if _, ok := c.entries.Peek(ev.EstadoID); !ok {
		return
	}
	c.fetch(ctx, ev.EstadoID, c.owner.ID != uuid.Nil && ev.ViewerID == c.owner.ID)
}

// Clear drops every entry and the owner's reactions.
func (c *ReactionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Clear()
	c.mine = make(map[uuid.UUID]string)
}

// Wait blocks until queued writes and background fetches finish.
func (c *ReactionCache) Wait() {
	c.inflight.Wait()
	c.background.Wait()
}

// Close stops accepting reactions and waits for queued writes.
func (c *ReactionCache) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.wake()

	<-c.done
	c.background.Wait()
}

func aggregateReactions(rows []status.ReactionRecord) []ReactionCount {
	out := []ReactionCount{}
	for _, r := range rows {
		out = addReaction(out, r.Emoji, r.ViewerName)
	}
	return out
}

func addReaction(list []ReactionCount, emoji, name string) []ReactionCount {
	for i := range list {
		if list[i].Emoji == emoji {
			list[i].Count++
			if name != "" {
				list[i].DisplayNames = append(list[i].DisplayNames, name)
			}
			return list
		}
	}
	rc := ReactionCount{Emoji: emoji, Count: 1, DisplayNames: []string{}}
	if name != "" {
		rc.DisplayNames = append(rc.DisplayNames, name)
	}
	return append(list, rc)
}

func removeReaction(list []ReactionCount, emoji, name string) []ReactionCount {
	for i := range list {
		if list[i].Emoji != emoji {
			continue
		}
		list[i].Count--
		if j := slices.Index(list[i].DisplayNames, name); j >= 0 {
			list[i].DisplayNames = slices.Delete(list[i].DisplayNames, j, j+1)
		}
		if list[i].Count <= 0 {
			return slices.Delete(list, i, i+1)
		}
		return list
	}
	return list
}

func cloneCounts(list []ReactionCount) []ReactionCount {
	out := make([]ReactionCount, len(list))
	for i, rc := range list {
		rc.DisplayNames = slices.Clone(rc.DisplayNames)
		if rc.DisplayNames == nil {
			rc.DisplayNames = []string{}
		}
		out[i] = rc
	}
	return out
}
