package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"estados/internal/domain/status"
	"estados/internal/repository"
	"estados/internal/viewer"
	estados_errors "estados/pkg/errors"
	"estados/pkg/logger"
)

// MaxImages bounds the image references of one estado.
const MaxImages = 10

// Feed is the grouped list a viewer sees. Mine holds the viewer's own estados,
// which also lead Groups.
type Feed struct {
	Groups []status.UserStatusGroup `json:"groups"`
	Mine   []status.Status          `json:"mine"`
}

type CreateInput struct {
	Text             string
	ImageURLs        []string
	Visibility       status.Visibility
	ShareToMessaging bool
	ShareToSocial    bool
}

type StatusService struct {
	statuses repository.StatusRepository
	profiles repository.ProfileRepository
	sessions *SessionManager
	lifetime time.Duration
	clock    clock.Clock
	logger   *logger.Logger
}

func NewStatusService(statuses repository.StatusRepository, profiles repository.ProfileRepository, sessions *SessionManager, lifetime time.Duration, clk clock.Clock, log *logger.Logger) *StatusService {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logger.Nop()
	}
	if lifetime <= 0 {
		lifetime = status.DefaultLifetime
	}
	return &StatusService{
		statuses: statuses,
		profiles: profiles,
		sessions: sessions,
		lifetime: lifetime,
		clock:    clk,
		logger:   log.Named("status_service"),
	}
}

// List builds the viewer's feed: active estados the viewer may see, filtered
// by source, grouped by author. For a signed-in viewer, view and reaction
// state for every listed estado is prefetched and the viewer's groups are
// replaced. The viewer's own estados are listed for every source. Malformed
// rows are logged and dropped.
func (s *StatusService) List(ctx context.Context, viewerID uuid.UUID, source status.Source) (Feed, error) {
	now := s.clock.Now()

	var others, mine []status.Status
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		others, err = s.statuses.ListVisibleTo(gctx, viewerID, now)
		return err
	})
	if viewerID != uuid.Nil {
		g.Go(func() error {
			var err error
			mine, err = s.statuses.ListByAuthor(gctx, viewerID, now)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Feed{}, fmt.Errorf("list estados: %w", err)
	}

	kept := make([]status.Status, 0, len(mine)+len(others))
	kept = append(kept, s.validRows(ctx, status.Active(mine, now))...)
	for _, st := range s.validRows(ctx, status.Active(others, now)) {
		if st.MatchesSource(source) {
			kept = append(kept, st)
		}
	}

	groups := status.GroupByAuthor(kept, viewerID, s.loadProfiles(ctx, kept))
	feed := Feed{Groups: groups, Mine: []status.Status{}}
	if len(groups) > 0 && viewerID != uuid.Nil && groups[0].AuthorID == viewerID {
		feed.Mine = groups[0].Statuses
	}

	if viewerID == uuid.Nil {
		status.MarkUnread(feed.Groups, func(uuid.UUID) bool { return false })
		return feed, nil
	}

	sess, err := s.sessions.Get(ctx, viewerID)
	if err != nil {
		return Feed{}, err
	}
	s.prefetch(ctx, sess, kept)
	status.MarkUnread(feed.Groups, func(id uuid.UUID) bool {
		st, _ := sess.Views.Get(id)
		return st.Viewed
	})
	sess.Viewer.SetGroups(feed.Groups)
	return feed, nil
}

func (s *StatusService) validRows(ctx context.Context, rows []status.Status) []status.Status {
	out := rows[:0]
	for _, st := range rows {
		if err := st.Validate(); err != nil {
			s.logger.WithContext(ctx).Warn("drop malformed estado", zap.String("status_id", st.ID.String()), zap.Error(err))
			continue
		}
		out = append(out, st)
	}
	return out
}

func (s *StatusService) loadProfiles(ctx context.Context, rows []status.Status) map[uuid.UUID]status.Profile {
	if s.profiles == nil || len(rows) == 0 {
		return nil
	}
	authors := make([]uuid.UUID, 0, len(rows))
	for _, st := range rows {
		authors = append(authors, st.AuthorID)
	}
	profiles, err := s.profiles.GetByIDs(ctx, authors)
	if err != nil {
		s.logger.WithContext(ctx).Warn("load author profiles", zap.Int("count", len(authors)), zap.Error(err))
		return nil
	}
	return profiles
}

// prefetch loads views and reactions concurrently. Both caches log their own
// failures, so errors only end the wait.
func (s *StatusService) prefetch(ctx context.Context, sess *Session, rows []status.Status) {
	if len(rows) == 0 {
		return
	}
	ids := make([]uuid.UUID, len(rows))
	for i, st := range rows {
		ids[i] = st.ID
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sess.Views.Prefetch(gctx, ids, sess.ViewerID)
	})
	g.Go(func() error {
		return sess.Reactions.Prefetch(gctx, ids)
	})
	if err := g.Wait(); err != nil {
		s.logger.WithContext(ctx).Debug("prefetch incomplete", zap.String("viewer_id", sess.ViewerID.String()), zap.Error(err))
	}
}

// Create publishes a new estado that expires after the configured lifetime.
func (s *StatusService) Create(ctx context.Context, authorID uuid.UUID, in CreateInput) (status.Status, error) {
	if authorID == uuid.Nil {
		return status.Status{}, estados_errors.ErrUnauthorized
	}

	visibility := in.Visibility
	if visibility == "" {
		visibility = status.VisibilityEveryone
	}
	if !visibility.Valid() {
		return status.Status{}, fmt.Errorf("%w: unknown visibility %q", estados_errors.ErrInvalidInput, in.Visibility)
	}

	images := make(status.ImageList, 0, len(in.ImageURLs))
	for _, u := range in.ImageURLs {
		if u = strings.TrimSpace(u); u != "" {
			images = append(images, u)
		}
	}
	if len(images) > MaxImages {
		return status.Status{}, fmt.Errorf("%w: at most %d images", estados_errors.ErrInvalidInput, MaxImages)
	}

	text := strings.TrimSpace(in.Text)
	if text == "" && len(images) == 0 {
		return status.Status{}, fmt.Errorf("%w: text or image required", estados_errors.ErrInvalidInput)
	}

	now := s.clock.Now().UTC()
	st := status.Status{
		ID:               uuid.New(),
		AuthorID:         authorID,
		ImageURLs:        images,
		Visibility:       visibility,
		ShareToMessaging: in.ShareToMessaging,
		ShareToSocial:    in.ShareToSocial,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.lifetime),
		IsActive:         true,
	}
	if text != "" {
		st.Text = &text
	}

	if err := s.statuses.Create(ctx, &st); err != nil {
		return status.Status{}, fmt.Errorf("create estado: %w", err)
	}
	s.logger.WithContext(ctx).Info("estado created",
		zap.String("status_id", st.ID.String()),
		zap.String("visibility", string(st.Visibility)),
	)
	return st, nil
}

// Delete soft-deactivates an estado. Only its author may do so; deleting an
// already inactive estado succeeds.
func (s *StatusService) Delete(ctx context.Context, authorID, estadoID uuid.UUID) error {
	if authorID == uuid.Nil {
		return estados_errors.ErrUnauthorized
	}
	st, err := s.statuses.GetByID(ctx, estadoID)
	if err != nil {
		return err
	}
	if st.AuthorID != authorID {
		return estados_errors.ErrForbidden
	}
	if !st.IsActive {
		return nil
	}
	if err := s.statuses.Deactivate(ctx, estadoID); err != nil {
		return fmt.Errorf("deactivate estado: %w", err)
	}
	s.logger.WithContext(ctx).Info("estado deactivated", zap.String("status_id", estadoID.String()))
	return nil
}

// RegisterView counts a view for the viewer. Without a viewer it is a no-op.
func (s *StatusService) RegisterView(ctx context.Context, viewerID, estadoID uuid.UUID) (ViewState, error) {
	if viewerID == uuid.Nil {
		return ViewState{}, nil
	}
	sess, err := s.sessions.Get(ctx, viewerID)
	if err != nil {
		return ViewState{}, err
	}
	sess.Views.RecordView(estadoID, viewerID)
	st, _ := sess.Views.Get(estadoID)
	return st, nil
}

// AddReaction applies the viewer's reaction optimistically. Reacting again
// with the same emoji removes it.
func (s *StatusService) AddReaction(ctx context.Context, viewerID, estadoID uuid.UUID, emoji string) (ReactionState, error) {
	if err := status.ValidateEmoji(emoji); err != nil {
		return ReactionState{}, fmt.Errorf("%w: %v", estados_errors.ErrInvalidInput, err)
	}
	if viewerID == uuid.Nil {
		return ReactionState{Reactions: []ReactionCount{}}, nil
	}
	sess, err := s.sessions.Get(ctx, viewerID)
	if err != nil {
		return ReactionState{}, err
	}
	st, ok := sess.Reactions.SetOptimistic(estadoID, emoji)
	if !ok {
		return ReactionState{}, estados_errors.ErrSessionClosed
	}
	return st, nil
}

// ViewState returns the cached view state. A stale entry is returned as is
// and refreshed in the background; a missing one is loaded first.
func (s *StatusService) ViewState(ctx context.Context, viewerID, estadoID uuid.UUID) (ViewState, error) {
	if viewerID == uuid.Nil {
		return ViewState{}, nil
	}
	sess, err := s.sessions.Get(ctx, viewerID)
	if err != nil {
		return ViewState{}, err
	}
	if st, ok := sess.Views.Get(estadoID); ok {
		return st, nil
	}
	if st, ok := sess.Views.Peek(estadoID); ok {
		sess.Views.FetchInBackground(ctx, estadoID)
		return st, nil
	}
	_ = sess.Views.Prefetch(ctx, []uuid.UUID{estadoID}, viewerID)
	st, _ := sess.Views.Get(estadoID)
	return st, nil
}

// ReactionState returns the cached reactions. A stale entry is returned as is
// and refreshed in the background; a missing one is loaded first.
func (s *StatusService) ReactionState(ctx context.Context, viewerID, estadoID uuid.UUID) (ReactionState, error) {
	if viewerID == uuid.Nil {
		return ReactionState{Reactions: []ReactionCount{}}, nil
	}
	sess, err := s.sessions.Get(ctx, viewerID)
	if err != nil {
		return ReactionState{}, err
	}
	if st, ok := sess.Reactions.Get(estadoID); ok {
		return st, nil
	}
	if st, ok := sess.Reactions.Peek(estadoID); ok {
		sess.Reactions.FetchInBackground(ctx, estadoID)
		return st, nil
	}
	sess.Reactions.Fetch(ctx, estadoID)
	st, _ := sess.Reactions.Get(estadoID)
	return st, nil
}

func (s *StatusService) RefreshViews(ctx context.Context, viewerID, estadoID uuid.UUID) (ViewState, error) {
	if viewerID == uuid.Nil {
		return ViewState{}, nil
	}
	sess, err := s.sessions.Get(ctx, viewerID)
	if err != nil {
		return ViewState{}, err
	}
	sess.Views.Refresh(ctx, estadoID, viewerID)
	st, _ := sess.Views.Get(estadoID)
	return st, nil
}

func (s *StatusService) RefreshReactions(ctx context.Context, viewerID, estadoID uuid.UUID) (ReactionState, error) {
	if viewerID == uuid.Nil {
		return ReactionState{Reactions: []ReactionCount{}}, nil
	}
	sess, err := s.sessions.Get(ctx, viewerID)
	if err != nil {
		return ReactionState{}, err
	}
	sess.Reactions.Refresh(ctx, estadoID)
	st, _ := sess.Reactions.Get(estadoID)
	return st, nil
}

// OpenViewer reloads the viewer's feed for source and opens the viewer on it.
func (s *StatusService) OpenViewer(ctx context.Context, viewerID uuid.UUID, source status.Source, userIdx, statusIdx int) (viewer.State, error) {
	if viewerID == uuid.Nil {
		return viewer.State{}, estados_errors.ErrUnauthorized
	}
	if _, err := s.List(ctx, viewerID, source); err != nil {
		return viewer.State{}, err
	}
	v, err := s.Viewer(ctx, viewerID)
	if err != nil {
		return viewer.State{}, err
	}
	if err := v.Open(userIdx, statusIdx); err != nil {
		return viewer.State{}, ViewerError(err)
	}
	return v.Snapshot(), nil
}

// Viewer returns the signed-in viewer's status viewer.
func (s *StatusService) Viewer(ctx context.Context, viewerID uuid.UUID) (*viewer.Viewer, error) {
	sess, err := s.sessions.Get(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	return sess.Viewer, nil
}

// ViewerError maps viewer errors onto the service error set.
func ViewerError(err error) error {
	switch {
	case errors.Is(err, viewer.ErrOutOfRange):
		return fmt.Errorf("%w: %v", estados_errors.ErrInvalidInput, err)
	case errors.Is(err, viewer.ErrClosed):
		return fmt.Errorf("%w: %v", estados_errors.ErrConflict, err)
	}
	return err
}
