// Package repotest provides in-memory repositories with the same uniqueness
// semantics as the Postgres schema.
package repotest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"estados/internal/domain/status"
	"estados/internal/events"
	"estados/internal/repository"
	estados_errors "estados/pkg/errors"
)

type pair struct {
	estado uuid.UUID
	viewer uuid.UUID
}

type contactLink struct {
	owner   uuid.UUID
	contact uuid.UUID
}

// Store holds every table. Each accessor returns a view implementing one
// repository interface over the shared state.
type Store struct {
	mu        sync.Mutex
	statuses  map[uuid.UUID]status.Status
	views     map[pair]status.ViewRecord
	reactions map[pair]status.ReactionRecord
	profiles  map[uuid.UUID]status.Profile
	contacts  map[contactLink]struct{}

	notifier *events.Notifier

	// Fail, when set, is returned by every call whose op name it accepts.
	Fail func(op string) error
	// Calls counts invocations per op name.
	Calls map[string]int
}

func NewStore(notifier *events.Notifier) *Store {
	return &Store{
		statuses:  make(map[uuid.UUID]status.Status),
		views:     make(map[pair]status.ViewRecord),
		reactions: make(map[pair]status.ReactionRecord),
		profiles:  make(map[uuid.UUID]status.Profile),
		contacts:  make(map[contactLink]struct{}),
		notifier:  notifier,
		Calls:     make(map[string]int),
	}
}

func (s *Store) enter(op string) error {
	s.mu.Lock()
	s.Calls[op]++
	fail := s.Fail
	s.mu.Unlock()
	if fail != nil {
		return fail(op)
	}
	return nil
}

// CallCount reports how many times op ran.
func (s *Store) CallCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Calls[op]
}

func (s *Store) Statuses() repository.StatusRepository    { return statusRepo{s} }
func (s *Store) Views() repository.ViewRepository         { return viewRepo{s} }
func (s *Store) Reactions() repository.ReactionRepository { return reactionRepo{s} }
func (s *Store) Profiles() repository.ProfileRepository   { return profileRepo{s} }

// SeedReaction inserts a reaction row directly, bypassing Replace and its events.
func (s *Store) SeedReaction(estadoID, viewerID uuid.UUID, emoji string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reactions[pair{estadoID, viewerID}] = status.ReactionRecord{
		ID: uuid.New(), EstadoID: estadoID, ViewerID: viewerID, Emoji: emoji, CreatedAt: time.Now(),
	}
}

// SeedView inserts a view row directly.
func (s *Store) SeedView(estadoID, viewerID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views[pair{estadoID, viewerID}] = status.ViewRecord{
		ID: uuid.New(), EstadoID: estadoID, ViewerID: viewerID, ViewedAt: time.Now(),
	}
}

type statusRepo struct{ s *Store }

func (r statusRepo) Create(ctx context.Context, st *status.Status) error {
	if err := r.s.enter("status.create"); err != nil {
		return err
	}
	r.s.mu.Lock()
	if st.ID == uuid.Nil {
		st.ID = uuid.New()
	}
	if _, ok := r.s.statuses[st.ID]; ok {
		r.s.mu.Unlock()
		return estados_errors.ErrAlreadyExists
	}
	r.s.statuses[st.ID] = *st
	r.s.mu.Unlock()

	r.s.notifier.Notify(ctx, events.TableEstados, events.ChangeInsert, st.ID, uuid.Nil, st)
	return nil
}

func (r statusRepo) GetByID(_ context.Context, id uuid.UUID) (status.Status, error) {
	if err := r.s.enter("status.get"); err != nil {
		return status.Status{}, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.statuses[id]
	if !ok {
		return status.Status{}, estados_errors.ErrNotFound
	}
	return st, nil
}

func (r statusRepo) Deactivate(ctx context.Context, id uuid.UUID) error {
	if err := r.s.enter("status.deactivate"); err != nil {
		return err
	}
	r.s.mu.Lock()
	st, ok := r.s.statuses[id]
	if !ok {
		r.s.mu.Unlock()
		return estados_errors.ErrNotFound
	}
	st.IsActive = false
	r.s.statuses[id] = st
	r.s.mu.Unlock()

	r.s.notifier.Notify(ctx, events.TableEstados, events.ChangeUpdate, id, uuid.Nil, st)
	return nil
}

func (r statusRepo) ListVisibleTo(_ context.Context, viewerID uuid.UUID, now time.Time) ([]status.Status, error) {
	if err := r.s.enter("status.list"); err != nil {
		return nil, err
	}
	return r.filter(func(st status.Status) bool {
		if !st.IsActive || !st.ExpiresAt.After(now) || st.AuthorID == viewerID {
			return false
		}
		switch st.Visibility {
		case status.VisibilityEveryone:
			return true
		case status.VisibilityContacts:
			_, ok := r.s.contacts[contactLink{owner: st.AuthorID, contact: viewerID}]
			return ok
		}
		return false
	}), nil
}

func (r statusRepo) ListByAuthor(_ context.Context, authorID uuid.UUID, now time.Time) ([]status.Status, error) {
	if err := r.s.enter("status.list_author"); err != nil {
		return nil, err
	}
	return r.filter(func(st status.Status) bool {
		return st.AuthorID == authorID && st.IsActive && st.ExpiresAt.After(now)
	}), nil
}

func (r statusRepo) filter(keep func(status.Status) bool) []status.Status {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []status.Status
	for _, st := range r.s.statuses {
		if keep(st) {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

type viewRepo struct{ s *Store }

func (r viewRepo) Exists(_ context.Context, estadoID, viewerID uuid.UUID) (bool, error) {
	if err := r.s.enter("view.exists"); err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.views[pair{estadoID, viewerID}]
	return ok, nil
}

func (r viewRepo) Insert(ctx context.Context, v *status.ViewRecord) error {
	if err := r.s.enter("view.insert"); err != nil {
		return err
	}
	r.s.mu.Lock()
	key := pair{v.EstadoID, v.ViewerID}
	if _, dup := r.s.views[key]; dup {
		r.s.mu.Unlock()
		return nil
	}
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	r.s.views[key] = *v
	r.s.mu.Unlock()

	r.s.notifier.Notify(ctx, events.TableViews, events.ChangeInsert, v.EstadoID, v.ViewerID, v)
	return nil
}

func (r viewRepo) Count(_ context.Context, estadoID uuid.UUID) (int64, error) {
	if err := r.s.enter("view.count"); err != nil {
		return 0, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for k := range r.s.views {
		if k.estado == estadoID {
			n++
		}
	}
	return n, nil
}

func (r viewRepo) Stats(_ context.Context, estadoIDs []uuid.UUID, viewerID uuid.UUID) (map[uuid.UUID]repository.ViewStats, error) {
	if err := r.s.enter("view.stats"); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[uuid.UUID]repository.ViewStats, len(estadoIDs))
	for _, id := range estadoIDs {
		out[id] = repository.ViewStats{}
	}
	for k := range r.s.views {
		st, ok := out[k.estado]
		if !ok {
			continue
		}
		st.Count++
		if viewerID != uuid.Nil && k.viewer == viewerID {
			st.Viewed = true
		}
		out[k.estado] = st
	}
	return out, nil
}

type reactionRepo struct{ s *Store }

func (r reactionRepo) ListByEstado(_ context.Context, estadoID uuid.UUID) ([]status.ReactionRecord, error) {
	if err := r.s.enter("reaction.list"); err != nil {
		return nil, err
	}
	return r.list(map[uuid.UUID]bool{estadoID: true}), nil
}

func (r reactionRepo) ListByEstados(_ context.Context, estadoIDs []uuid.UUID) ([]status.ReactionRecord, error) {
	if err := r.s.enter("reaction.list_many"); err != nil {
		return nil, err
	}
	want := make(map[uuid.UUID]bool, len(estadoIDs))
	for _, id := range estadoIDs {
		want[id] = true
	}
	return r.list(want), nil
}

func (r reactionRepo) list(want map[uuid.UUID]bool) []status.ReactionRecord {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []status.ReactionRecord
	for k, rec := range r.s.reactions {
		if !want[k.estado] {
			continue
		}
		rec.ViewerName = r.s.profiles[k.viewer].DisplayName
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r reactionRepo) Replace(ctx context.Context, estadoID, viewerID uuid.UUID, emoji string) error {
	if err := r.s.enter("reaction.replace"); err != nil {
		return err
	}
	key := pair{estadoID, viewerID}

	r.s.mu.Lock()
	_, had := r.s.reactions[key]
	delete(r.s.reactions, key)
	var rec status.ReactionRecord
	if emoji != "" {
		rec = status.ReactionRecord{
			ID: uuid.New(), EstadoID: estadoID, ViewerID: viewerID, Emoji: emoji, CreatedAt: time.Now(),
		}
		r.s.reactions[key] = rec
	}
	r.s.mu.Unlock()

	if had {
		r.s.notifier.Notify(ctx, events.TableReactions, events.ChangeDelete, estadoID, viewerID, nil)
	}
	if emoji != "" {
		r.s.notifier.Notify(ctx, events.TableReactions, events.ChangeInsert, estadoID, viewerID, rec)
	}
	return nil
}

type profileRepo struct{ s *Store }

func (r profileRepo) GetByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]status.Profile, error) {
	if err := r.s.enter("profile.get"); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[uuid.UUID]status.Profile, len(ids))
	for _, id := range ids {
		if p, ok := r.s.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (r profileRepo) Upsert(_ context.Context, p *status.Profile) error {
	if err := r.s.enter("profile.upsert"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.profiles[p.ID] = *p
	return nil
}

func (r profileRepo) AddContact(_ context.Context, ownerID, contactID uuid.UUID) error {
	if err := r.s.enter("profile.add_contact"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.contacts[contactLink{ownerID, contactID}] = struct{}{}
	return nil
}
