package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"estados/internal/domain/status"
	"estados/internal/events"
)

type PostgresReactionRepository struct {
	db       *gorm.DB
	notifier *events.Notifier
}

func NewReactionRepository(db *gorm.DB, notifier *events.Notifier) ReactionRepository {
	return &PostgresReactionRepository{db: db, notifier: notifier}
}

func (r *PostgresReactionRepository) withNames(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("estado_reactions AS er").
		Select("er.id, er.estado_id, er.viewer_id, er.emoji, er.created_at, COALESCE(p.display_name, '') AS viewer_name").
		Joins("LEFT JOIN profiles p ON p.id = er.viewer_id")
}

func (r *PostgresReactionRepository) ListByEstado(ctx context.Context, estadoID uuid.UUID) ([]status.ReactionRecord, error) {
	var rows []status.ReactionRecord
	err := r.withNames(ctx).
		Where("er.estado_id = ?", estadoID).
		Order("er.created_at ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *PostgresReactionRepository) ListByEstados(ctx context.Context, estadoIDs []uuid.UUID) ([]status.ReactionRecord, error) {
	ids := uniqueIDs(estadoIDs)
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []status.ReactionRecord
	err := r.withNames(ctx).
		Where("er.estado_id IN ?", ids).
		Order("er.created_at ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *PostgresReactionRepository) Replace(ctx context.Context, estadoID, viewerID uuid.UUID, emoji string) error {
	var (
		deleted  int64
		inserted *status.ReactionRecord
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("estado_id = ? AND viewer_id = ?", estadoID, viewerID).
			Delete(&status.ReactionRecord{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected

		if emoji == "" {
			return nil
		}
		rec := &status.ReactionRecord{
			EstadoID:  estadoID,
			ViewerID:  viewerID,
			Emoji:     emoji,
			CreatedAt: time.Now().UTC(),
		}
		res = insertReaction(tx, rec)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			inserted = rec
		}
		return nil
	})
	if err != nil {
		return err
	}

	if deleted > 0 {
		r.notifier.Notify(ctx, events.TableReactions, events.ChangeDelete, estadoID, viewerID, nil)
	}
	if inserted != nil {
		r.notifier.Notify(ctx, events.TableReactions, events.ChangeInsert, estadoID, viewerID, inserted)
	}
	return nil
}

// insertReaction skips the insert when a concurrent replace for the same pair
// won it. The conflict never aborts the surrounding transaction, so the
// delete still commits.
func insertReaction(tx *gorm.DB, rec *status.ReactionRecord) *gorm.DB {
	return tx.Omit("viewer_name").
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "estado_id"}, {Name: "viewer_id"}},
			DoNothing: true,
		}).
		Create(rec)
}
