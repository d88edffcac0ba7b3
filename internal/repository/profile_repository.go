package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"estados/internal/domain/status"
)

type PostgresProfileRepository struct {
	db *gorm.DB
}

func NewProfileRepository(db *gorm.DB) ProfileRepository {
	return &PostgresProfileRepository{db: db}
}

func (r *PostgresProfileRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]status.Profile, error) {
	ids = uniqueIDs(ids)
	out := make(map[uuid.UUID]status.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []status.Profile
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, p := range rows {
		out[p.ID] = p
	}
	return out, nil
}

func (r *PostgresProfileRepository) Upsert(ctx context.Context, p *status.Profile) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"display_name", "avatar_url"}),
		}).
		Create(p).Error
}

func (r *PostgresProfileRepository) AddContact(ctx context.Context, ownerID, contactID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&status.ProfileContact{OwnerID: ownerID, ContactID: contactID}).Error
}
