package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"estados/internal/domain/status"
	"estados/internal/repository/repotest"
	estados_errors "estados/pkg/errors"
	"estados/pkg/logger"
)

type statusFixture struct {
	store   *repotest.Store
	clock   *clock.Mock
	svc     *StatusService
	viewer  uuid.UUID
	authorB uuid.UUID
	authorC uuid.UUID
}

func newStatusFixture(t *testing.T) *statusFixture {
	t.Helper()
	store := repotest.NewStore(nil)
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	log := logger.Wrap(zaptest.NewLogger(t))
	sessions := newTestSessions(t, store, nil, clk)
	return &statusFixture{
		store:   store,
		clock:   clk,
		svc:     NewStatusService(store.Statuses(), store.Profiles(), sessions, 24*time.Hour, clk, log),
		viewer:  uuid.New(),
		authorB: uuid.New(),
		authorC: uuid.New(),
	}
}

// seed stores an estado created age ago with the normal lifetime.
func (f *statusFixture) seed(t *testing.T, author uuid.UUID, age time.Duration, mutate func(*status.Status)) status.Status {
	t.Helper()
	created := f.clock.Now().Add(-age)
	text := "hola"
	st := status.Status{
		ID:               uuid.New(),
		AuthorID:         author,
		Text:             &text,
		Visibility:       status.VisibilityEveryone,
		ShareToMessaging: true,
		CreatedAt:        created,
		ExpiresAt:        created.Add(24 * time.Hour),
		IsActive:         true,
	}
	if mutate != nil {
		mutate(&st)
	}
	if err := f.store.Statuses().Create(context.Background(), &st); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return st
}

func authorsOf(groups []status.UserStatusGroup) []uuid.UUID {
	out := make([]uuid.UUID, len(groups))
	for i, g := range groups {
		out[i] = g.AuthorID
	}
	return out
}

func TestListOrdersOwnGroupFirstThenNewest(t *testing.T) {
	f := newStatusFixture(t)
	f.seed(t, f.viewer, 5*time.Hour, nil)
	f.seed(t, f.authorC, 3*time.Hour, nil)
	f.seed(t, f.authorB, 2*time.Hour, nil)
	f.seed(t, f.authorB, 10*time.Hour, nil)

	feed, err := f.svc.List(context.Background(), f.viewer, status.SourceAll)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := authorsOf(feed.Groups)
	want := []uuid.UUID{f.viewer, f.authorB, f.authorC}
	if len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Fatalf("group order %v, want %v", got, want)
	}
	if len(feed.Mine) != 1 || feed.Mine[0].AuthorID != f.viewer {
		t.Fatalf("mine = %+v", feed.Mine)
	}
	if b := feed.Groups[1]; b.Count != 2 || !b.Statuses[0].CreatedAt.After(b.Statuses[1].CreatedAt) {
		t.Fatalf("group statuses must be newest first: %+v", b.Statuses)
	}
}

func TestListExcludesExpiredRegardlessOfActiveFlag(t *testing.T) {
	f := newStatusFixture(t)
	f.seed(t, f.authorB, 25*time.Hour, nil)
	f.seed(t, f.authorC, time.Hour, func(s *status.Status) { s.IsActive = false })
	live := f.seed(t, f.authorC, time.Hour, nil)

	feed, err := f.svc.List(context.Background(), f.viewer, status.SourceAll)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(feed.Groups) != 1 || feed.Groups[0].Count != 1 || feed.Groups[0].Statuses[0].ID != live.ID {
		t.Fatalf("expected only the live estado, got %+v", feed.Groups)
	}

	f.clock.Add(23 * time.Hour)
	feed, _ = f.svc.List(context.Background(), f.viewer, status.SourceAll)
	if len(feed.Groups) != 0 {
		t.Fatalf("estado past its expiry still listed: %+v", feed.Groups)
	}
}

func TestListEnforcesVisibilityAndSource(t *testing.T) {
	f := newStatusFixture(t)
	ctx := context.Background()
	public := f.seed(t, f.authorB, time.Hour, nil)
	f.seed(t, f.authorB, time.Hour, func(s *status.Status) { s.Visibility = status.VisibilityPrivate })
	contactsOnly := f.seed(t, f.authorC, time.Hour, func(s *status.Status) { s.Visibility = status.VisibilityContacts })
	social := f.seed(t, f.authorC, 2*time.Hour, func(s *status.Status) {
		s.ShareToMessaging, s.ShareToSocial = false, true
	})
	ownPrivate := f.seed(t, f.viewer, time.Hour, func(s *status.Status) {
		s.Visibility = status.VisibilityPrivate
		s.ShareToMessaging = false
	})

	ids := func(feed Feed) map[uuid.UUID]bool {
		out := map[uuid.UUID]bool{}
		for _, g := range feed.Groups {
			for _, s := range g.Statuses {
				out[s.ID] = true
			}
		}
		return out
	}

	feed, _ := f.svc.List(ctx, f.viewer, status.SourceAll)
	if got := ids(feed); len(got) != 3 || !got[public.ID] || !got[social.ID] || !got[ownPrivate.ID] {
		t.Fatalf("non-contact sees %v", got)
	}

	f.store.Profiles().AddContact(ctx, f.authorC, f.viewer)
	feed, _ = f.svc.List(ctx, f.viewer, status.SourceAll)
	if got := ids(feed); len(got) != 4 || !got[contactsOnly.ID] {
		t.Fatalf("contact sees %v", got)
	}

	feed, _ = f.svc.List(ctx, f.viewer, status.SourceMessaging)
	if got := ids(feed); len(got) != 3 || got[social.ID] || !got[ownPrivate.ID] {
		t.Fatalf("messaging source shows %v", got)
	}

	feed, _ = f.svc.List(ctx, f.viewer, status.SourceSocial)
	if got := ids(feed); len(got) != 2 || !got[social.ID] || !got[ownPrivate.ID] {
		t.Fatalf("social source shows %v", got)
	}
}

func TestListPrefetchesAndMarksUnread(t *testing.T) {
	f := newStatusFixture(t)
	ctx := context.Background()
	seen := f.seed(t, f.authorB, time.Hour, nil)
	f.seed(t, f.authorC, time.Hour, nil)
	f.store.SeedView(seen.ID, f.viewer)
	f.store.SeedReaction(seen.ID, f.authorC, "😂")

	feed, err := f.svc.List(ctx, f.viewer, status.SourceAll)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if f.store.CallCount("view.stats") != 1 || f.store.CallCount("reaction.list_many") != 1 {
		t.Fatalf("expected one batched prefetch per cache")
	}
	for _, g := range feed.Groups {
		if g.AuthorID == f.authorB && g.Unread {
			t.Fatalf("fully viewed group marked unread")
		}
		if g.AuthorID == f.authorC && !g.Unread {
			t.Fatalf("unviewed group not marked unread")
		}
	}

	rs, _ := f.svc.ReactionState(ctx, f.viewer, seen.ID)
	if countOf(rs, "😂") != 1 || f.store.CallCount("reaction.list") != 0 {
		t.Fatalf("reaction state must come from the prefetch: %+v", rs)
	}
}

func TestCreateValidatesAndSetsExpiry(t *testing.T) {
	f := newStatusFixture(t)
	ctx := context.Background()

	st, err := f.svc.Create(ctx, f.viewer, CreateInput{Text: "  buenos días ", ShareToSocial: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if st.Visibility != status.VisibilityEveryone || !st.IsActive || *st.Text != "buenos días" {
		t.Fatalf("unexpected estado %+v", st)
	}
	if !st.ExpiresAt.Equal(st.CreatedAt.Add(24 * time.Hour)) {
		t.Fatalf("expiry %v for creation %v", st.ExpiresAt, st.CreatedAt)
	}
	if _, err := f.store.Statuses().GetByID(ctx, st.ID); err != nil {
		t.Fatalf("estado not stored: %v", err)
	}

	cases := []struct {
		name   string
		author uuid.UUID
		in     CreateInput
		want   error
	}{
		{"anonymous", uuid.Nil, CreateInput{Text: "x"}, estados_errors.ErrUnauthorized},
		{"empty", f.viewer, CreateInput{Text: "  ", ImageURLs: []string{" "}}, estados_errors.ErrInvalidInput},
		{"bad visibility", f.viewer, CreateInput{Text: "x", Visibility: "friends"}, estados_errors.ErrInvalidInput},
		{"too many images", f.viewer, CreateInput{ImageURLs: strings.Split(strings.Repeat("a.png,", MaxImages+1), ",")[:MaxImages+1]}, estados_errors.ErrInvalidInput},
	}
	for _, tc := range cases {
		if _, err := f.svc.Create(ctx, tc.author, tc.in); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}

	img, err := f.svc.Create(ctx, f.viewer, CreateInput{ImageURLs: []string{"estados/a.png"}, Visibility: status.VisibilityContacts})
	if err != nil || img.Text != nil || len(img.ImageURLs) != 1 {
		t.Fatalf("image-only estado: %+v, %v", img, err)
	}
}

func TestDeleteIsAuthorOnly(t *testing.T) {
	f := newStatusFixture(t)
	ctx := context.Background()
	st := f.seed(t, f.authorB, time.Hour, nil)

	if err := f.svc.Delete(ctx, f.viewer, st.ID); !errors.Is(err, estados_errors.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := f.svc.Delete(ctx, f.authorB, uuid.New()); !errors.Is(err, estados_errors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := f.svc.Delete(ctx, f.authorB, st.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := f.svc.Delete(ctx, f.authorB, st.ID); err != nil {
		t.Fatalf("second delete must succeed: %v", err)
	}
	if f.store.CallCount("status.deactivate") != 1 {
		t.Fatalf("deactivate ran %d times", f.store.CallCount("status.deactivate"))
	}

	feed, _ := f.svc.List(ctx, f.viewer, status.SourceAll)
	if len(feed.Groups) != 0 {
		t.Fatalf("deactivated estado still listed")
	}
}

func TestViewAndReactionOperations(t *testing.T) {
	f := newStatusFixture(t)
	ctx := context.Background()
	st := f.seed(t, f.authorB, time.Hour, nil)

	vs, err := f.svc.RegisterView(ctx, f.viewer, st.ID)
	if err != nil || vs.Count != 1 || !vs.Viewed {
		t.Fatalf("register view: %+v, %v", vs, err)
	}
	if vs, _ := f.svc.RegisterView(ctx, uuid.Nil, st.ID); vs != (ViewState{}) {
		t.Fatalf("anonymous view must be a no-op: %+v", vs)
	}

	if _, err := f.svc.AddReaction(ctx, f.viewer, st.ID, " "); !errors.Is(err, estados_errors.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	rs, err := f.svc.AddReaction(ctx, f.viewer, st.ID, "❤️")
	if err != nil || userReaction(rs) != "❤️" || !rs.Pending {
		t.Fatalf("add reaction: %+v, %v", rs, err)
	}

	f.store.SeedView(st.ID, uuid.New())
	f.store.SeedView(st.ID, f.viewer)
	vs, _ = f.svc.RefreshViews(ctx, f.viewer, st.ID)
	if vs.Count != 2 || !vs.Viewed {
		t.Fatalf("refresh views: %+v", vs)
	}

	sess, _ := f.svc.sessions.Get(ctx, f.viewer)
	sess.Reactions.Wait()
	rs, _ = f.svc.RefreshReactions(ctx, f.viewer, st.ID)
	if userReaction(rs) != "❤️" || rs.Pending || countOf(rs, "❤️") != 1 {
		t.Fatalf("refresh reactions: %+v", rs)
	}
}

func TestOpenViewerLoadsFeed(t *testing.T) {
	f := newStatusFixture(t)
	ctx := context.Background()
	st := f.seed(t, f.authorB, time.Hour, nil)

	if _, err := f.svc.OpenViewer(ctx, f.viewer, status.SourceAll, 3, 0); !errors.Is(err, estados_errors.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	state, err := f.svc.OpenViewer(ctx, f.viewer, status.SourceAll, 0, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !state.Open || state.CurrentStatus == nil || state.CurrentStatus.ID != st.ID {
		t.Fatalf("unexpected state %+v", state)
	}
	if vs, _ := f.svc.ViewState(ctx, f.viewer, st.ID); !vs.Viewed {
		t.Fatalf("opening the viewer must register a view")
	}
}

func TestListDropsMalformedRows(t *testing.T) {
	f := newStatusFixture(t)
	ctx := context.Background()
	good := f.seed(t, f.authorB, time.Hour, nil)
	own := f.seed(t, f.viewer, time.Hour, nil)
	f.seed(t, f.authorC, time.Hour, func(s *status.Status) {
		s.CreatedAt = f.clock.Now().Add(2 * time.Hour)
		s.ExpiresAt = f.clock.Now().Add(time.Hour)
	})
	f.seed(t, f.viewer, time.Hour, func(s *status.Status) { s.Visibility = "bogus" })

	feed, err := f.svc.List(ctx, f.viewer, status.SourceAll)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(feed.Groups) != 2 || feed.Groups[0].Count != 1 || feed.Groups[1].Count != 1 {
		t.Fatalf("malformed rows must be dropped: %+v", feed.Groups)
	}
	if feed.Mine[0].ID != own.ID || feed.Groups[1].Statuses[0].ID != good.ID {
		t.Fatalf("unexpected feed: %+v", feed.Groups)
	}
	if f.store.CallCount("status.list_author") != 1 {
		t.Fatalf("own estados must be loaded by author")
	}
}

func TestStaleStateServedWhileRefreshing(t *testing.T) {
	f := newStatusFixture(t)
	ctx := context.Background()
	st := f.seed(t, f.authorB, time.Hour, nil)
	if _, err := f.svc.List(ctx, f.viewer, status.SourceAll); err != nil {
		t.Fatalf("list: %v", err)
	}
	f.store.SeedView(st.ID, f.authorC)
	f.store.SeedReaction(st.ID, f.authorC, "😂")
	f.clock.Add(time.Minute)

	vs, _ := f.svc.ViewState(ctx, f.viewer, st.ID)
	if vs.Count != 0 {
		t.Fatalf("stale view state must be served as cached: %+v", vs)
	}
	rs, _ := f.svc.ReactionState(ctx, f.viewer, st.ID)
	if countOf(rs, "😂") != 0 {
		t.Fatalf("stale reactions must be served as cached: %+v", rs)
	}

	sess, _ := f.svc.sessions.Get(ctx, f.viewer)
	sess.Views.Wait()
	sess.Reactions.Wait()
	if vs, ok := sess.Views.Get(st.ID); !ok || vs.Count != 1 {
		t.Fatalf("background view fetch did not land: %+v %v", vs, ok)
	}
	if rs, ok := sess.Reactions.Get(st.ID); !ok || countOf(rs, "😂") != 1 {
		t.Fatalf("background reaction fetch did not land: %+v %v", rs, ok)
	}
}
