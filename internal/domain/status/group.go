package status

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// UserStatusGroup is derived on every fetch and never persisted.
type UserStatusGroup struct {
	AuthorID uuid.UUID `json:"author_id"`
	Author   Profile   `json:"author"`
	Statuses []Status  `json:"statuses"`
	Unread   bool      `json:"unread"`
	Count    int       `json:"count"`
	latest   time.Time
}

// Latest returns the creation time of the group's newest status.
func (g UserStatusGroup) Latest() time.Time {
	return g.latest
}

// Active keeps the statuses eligible for display at now, preserving order.
func Active(rows []Status, now time.Time) []Status {
	out := make([]Status, 0, len(rows))
	for _, s := range rows {
		if s.IsVisibleAt(now) {
			out = append(out, s)
		}
	}
	return out
}

// GroupByAuthor builds one group per author. The viewer's own group sorts first,
// the rest by their newest status, newest first. Statuses inside a group are
// ordered newest first. profiles may miss authors; those groups get an id-only profile.
func GroupByAuthor(rows []Status, viewerID uuid.UUID, profiles map[uuid.UUID]Profile) []UserStatusGroup {
	index := make(map[uuid.UUID]int, len(rows))
	groups := make([]UserStatusGroup, 0)

	for _, s := range rows {
		i, ok := index[s.AuthorID]
		if !ok {
			author, found := profiles[s.AuthorID]
			if !found {
				author = Profile{ID: s.AuthorID}
			}
			groups = append(groups, UserStatusGroup{AuthorID: s.AuthorID, Author: author})
			i = len(groups) - 1
			index[s.AuthorID] = i
		}
		g := &groups[i]
		g.Statuses = append(g.Statuses, s)
		g.Count++
		if s.CreatedAt.After(g.latest) {
			g.latest = s.CreatedAt
		}
	}

	for i := range groups {
		sort.SliceStable(groups[i].Statuses, func(a, b int) bool {
			return groups[i].Statuses[a].CreatedAt.After(groups[i].Statuses[b].CreatedAt)
		})
	}

	sort.SliceStable(groups, func(a, b int) bool {
		if groups[a].AuthorID == viewerID {
			return groups[b].AuthorID != viewerID
		}
		if groups[b].AuthorID == viewerID {
			return false
		}
		return groups[a].latest.After(groups[b].latest)
	})
	return groups
}

// MarkUnread sets Unread on every group holding a status the viewer has not seen.
func MarkUnread(groups []UserStatusGroup, viewed func(statusID uuid.UUID) bool) {
	for i := range groups {
		groups[i].Unread = false
		for _, s := range groups[i].Statuses {
			if !viewed(s.ID) {
				groups[i].Unread = true
				break
			}
		}
	}
}
