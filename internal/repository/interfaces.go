package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"estados/internal/domain/status"
)

// ViewStats is the aggregate view state of one estado, optionally for one viewer.
type ViewStats struct {
	Count  int64
	Viewed bool
}

type StatusRepository interface {
	Create(ctx context.Context, s *status.Status) error
	GetByID(ctx context.Context, id uuid.UUID) (status.Status, error)
	Deactivate(ctx context.Context, id uuid.UUID) error

	// ListVisibleTo returns other authors' active rows with expires_at after now
	// that viewerID may see, newest first: everyone rows, plus contacts rows of
	// authors that have viewerID as a contact.
	ListVisibleTo(ctx context.Context, viewerID uuid.UUID, now time.Time) ([]status.Status, error)
	// ListByAuthor returns the author's active rows, newest first.
	ListByAuthor(ctx context.Context, authorID uuid.UUID, now time.Time) ([]status.Status, error)
}

type ViewRepository interface {
	Exists(ctx context.Context, estadoID, viewerID uuid.UUID) (bool, error)
	// Insert is idempotent: a duplicate (estado, viewer) pair is not an error.
	Insert(ctx context.Context, v *status.ViewRecord) error
	Count(ctx context.Context, estadoID uuid.UUID) (int64, error)
	// Stats fetches counts for all ids, and per-viewer seen flags when viewerID is
	// not uuid.Nil, in one round trip. Ids without views are present with zero count.
	Stats(ctx context.Context, estadoIDs []uuid.UUID, viewerID uuid.UUID) (map[uuid.UUID]ViewStats, error)
}

type ReactionRepository interface {
	ListByEstado(ctx context.Context, estadoID uuid.UUID) ([]status.ReactionRecord, error)
	ListByEstados(ctx context.Context, estadoIDs []uuid.UUID) ([]status.ReactionRecord, error)
	// Replace deletes the viewer's existing reaction and, when emoji is not empty,
	// inserts the new one, atomically.
	Replace(ctx context.Context, estadoID, viewerID uuid.UUID, emoji string) error
}

type ProfileRepository interface {
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]status.Profile, error)
	Upsert(ctx context.Context, p *status.Profile) error
	AddContact(ctx context.Context, ownerID, contactID uuid.UUID) error
}
