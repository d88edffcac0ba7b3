package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"estados/internal/domain/status"
	"estados/internal/events"
	estados_errors "estados/pkg/errors"
)

type PostgresStatusRepository struct {
	db       *gorm.DB
	notifier *events.Notifier
}

func NewStatusRepository(db *gorm.DB, notifier *events.Notifier) StatusRepository {
	return &PostgresStatusRepository{db: db, notifier: notifier}
}

func (r *PostgresStatusRepository) Create(ctx context.Context, s *status.Status) error {
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		return mapError(err)
	}
	r.notifier.Notify(ctx, events.TableEstados, events.ChangeInsert, s.ID, uuid.Nil, s)
	return nil
}

func (r *PostgresStatusRepository) GetByID(ctx context.Context, id uuid.UUID) (status.Status, error) {
	var s status.Status
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if err != nil {
		return status.Status{}, mapError(err)
	}
	return s, nil
}

func (r *PostgresStatusRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	var s status.Status
	res := r.db.WithContext(ctx).
		Model(&s).
		Clauses(clause.Returning{}).
		Where("id = ?", id).
		Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return estados_errors.ErrNotFound
	}
	r.notifier.Notify(ctx, events.TableEstados, events.ChangeUpdate, id, uuid.Nil, s)
	return nil
}

func (r *PostgresStatusRepository) ListVisibleTo(ctx context.Context, viewerID uuid.UUID, now time.Time) ([]status.Status, error) {
	var rows []status.Status
	err := visibleTo(r.db.WithContext(ctx), viewerID, now).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *PostgresStatusRepository) ListByAuthor(ctx context.Context, authorID uuid.UUID, now time.Time) ([]status.Status, error) {
	var rows []status.Status
	err := r.db.WithContext(ctx).
		Where("author_id = ? AND is_active = ? AND expires_at > ?", authorID, true, now).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// visibleTo selects other authors' live estados: everyone rows, and contacts
// rows whose author lists viewerID as a contact.
func visibleTo(db *gorm.DB, viewerID uuid.UUID, now time.Time) *gorm.DB {
	contacts := db.Session(&gorm.Session{NewDB: true}).
		Model(&status.ProfileContact{}).
		Select("1").
		Where("profile_contacts.owner_id = estados.author_id AND profile_contacts.contact_id = ?", viewerID)
	audience := db.Session(&gorm.Session{NewDB: true}).
		Where("visibility = ?", status.VisibilityEveryone).
		Or("visibility = ? AND EXISTS (?)", status.VisibilityContacts, contacts)

	return db.
		Model(&status.Status{}).
		Where("is_active = ? AND expires_at > ? AND author_id <> ?", true, now, viewerID).
		Where(audience).
		Order("created_at DESC")
}
