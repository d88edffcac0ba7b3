package status

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newStatus(author uuid.UUID, created time.Time) Status {
	return Status{
		ID:         uuid.New(),
		AuthorID:   author,
		Visibility: VisibilityEveryone,
		CreatedAt:  created,
		ExpiresAt:  created.Add(DefaultLifetime),
		IsActive:   true,
	}
}

func TestGroupByAuthorOrdersViewerFirstThenRecency(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	rows := []Status{
		newStatus(c, now.Add(-3*time.Hour)),
		newStatus(a, now.Add(-5*time.Hour)),
		newStatus(b, now.Add(-1*time.Hour)),
		newStatus(c, now.Add(-2*time.Hour)),
	}

	groups := GroupByAuthor(rows, a, map[uuid.UUID]Profile{b: {ID: b, DisplayName: "Beto"}})
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}
	want := []uuid.UUID{a, b, c}
	for i, id := range want {
		if groups[i].AuthorID != id {
			t.Fatalf("group %d: got author %s, want %s", i, groups[i].AuthorID, id)
		}
	}
	if groups[1].Author.DisplayName != "Beto" {
		t.Fatalf("profile snapshot not attached: %+v", groups[1].Author)
	}
	if groups[0].Author.ID != a {
		t.Fatalf("missing profile should fall back to id-only snapshot")
	}

	cg := groups[2]
	if cg.Count != 2 || len(cg.Statuses) != 2 {
		t.Fatalf("group c count = %d", cg.Count)
	}
	if !cg.Statuses[0].CreatedAt.After(cg.Statuses[1].CreatedAt) {
		t.Fatalf("statuses in a group must be newest first")
	}
	if !cg.Latest().Equal(now.Add(-2 * time.Hour)) {
		t.Fatalf("latest = %v", cg.Latest())
	}
}

func TestActiveExcludesExpiredAndInactive(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	author := uuid.New()

	live := newStatus(author, now.Add(-time.Hour))
	expired := newStatus(author, now.Add(-25*time.Hour))
	inactive := newStatus(author, now.Add(-time.Hour))
	inactive.IsActive = false

	got := Active([]Status{live, expired, inactive}, now)
	if len(got) != 1 || got[0].ID != live.ID {
		t.Fatalf("expected only the live status, got %+v", got)
	}
	if expired.IsVisibleAt(now) {
		t.Fatalf("expired status must not be visible even when active")
	}
}

func TestMarkUnread(t *testing.T) {
	now := time.Now()
	a, b := uuid.New(), uuid.New()
	sa := newStatus(a, now)
	sb := newStatus(b, now)

	groups := GroupByAuthor([]Status{sa, sb}, a, nil)
	MarkUnread(groups, func(id uuid.UUID) bool { return id == sa.ID })

	if groups[0].Unread {
		t.Fatalf("group with all statuses viewed must not be unread")
	}
	if !groups[1].Unread {
		t.Fatalf("group with an unseen status must be unread")
	}
}

func TestParseRowsRejectMalformed(t *testing.T) {
	if _, err := ParseReactionRecord(json.RawMessage(`{"estado_id":"` + uuid.NewString() + `","viewer_id":"` + uuid.NewString() + `","emoji":""}`)); err == nil {
		t.Fatalf("empty emoji must be rejected")
	}
	if _, err := ParseViewRecord(json.RawMessage(`{"estado_id":"` + uuid.NewString() + `"}`)); err == nil {
		t.Fatalf("missing viewer must be rejected")
	}
	if _, err := ParseStatus(json.RawMessage(`not json`)); err == nil {
		t.Fatalf("garbage must be rejected")
	}

	s := newStatus(uuid.New(), time.Now().UTC())
	s.Visibility = "friends-of-friends"
	raw, _ := json.Marshal(s)
	if _, err := ParseStatus(raw); err == nil {
		t.Fatalf("unknown visibility must be rejected")
	}

	s.Visibility = VisibilityContacts
	raw, _ = json.Marshal(s)
	parsed, err := ParseStatus(raw)
	if err != nil {
		t.Fatalf("valid row rejected: %v", err)
	}
	if parsed.ID != s.ID || parsed.Visibility != VisibilityContacts {
		t.Fatalf("round trip mismatch: %+v", parsed)
	}
}

func TestParseSource(t *testing.T) {
	cases := map[string]Source{"": SourceAll, "ALL": SourceAll, "messaging": SourceMessaging, " social ": SourceSocial}
	for in, want := range cases {
		got, err := ParseSource(in)
		if err != nil || got != want {
			t.Fatalf("ParseSource(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseSource("tiktok"); err == nil {
		t.Fatalf("unknown source accepted")
	}
}
