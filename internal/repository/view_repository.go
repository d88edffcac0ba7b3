package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"estados/internal/domain/status"
	"estados/internal/events"
)

type PostgresViewRepository struct {
	db       *gorm.DB
	notifier *events.Notifier
}

func NewViewRepository(db *gorm.DB, notifier *events.Notifier) ViewRepository {
	return &PostgresViewRepository{db: db, notifier: notifier}
}

func (r *PostgresViewRepository) Exists(ctx context.Context, estadoID, viewerID uuid.UUID) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&status.ViewRecord{}).
		Where("estado_id = ? AND viewer_id = ?", estadoID, viewerID).
		Limit(1).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresViewRepository) Insert(ctx context.Context, v *status.ViewRecord) error {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "estado_id"}, {Name: "viewer_id"}},
			DoNothing: true,
		}).
		Create(v)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return nil
		}
		return res.Error
	}
	if res.RowsAffected > 0 {
		r.notifier.Notify(ctx, events.TableViews, events.ChangeInsert, v.EstadoID, v.ViewerID, v)
	}
	return nil
}

func (r *PostgresViewRepository) Count(ctx context.Context, estadoID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&status.ViewRecord{}).
		Where("estado_id = ?", estadoID).
		Count(&n).Error
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *PostgresViewRepository) Stats(ctx context.Context, estadoIDs []uuid.UUID, viewerID uuid.UUID) (map[uuid.UUID]ViewStats, error) {
	ids := uniqueIDs(estadoIDs)
	out := make(map[uuid.UUID]ViewStats, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []struct {
		EstadoID uuid.UUID
		Count    int64
		Viewed   bool
	}
	err := r.db.WithContext(ctx).
		Model(&status.ViewRecord{}).
		Select("estado_id, COUNT(*) AS count, BOOL_OR(viewer_id = ?) AS viewed", viewerID).
		Where("estado_id IN ?", ids).
		Group("estado_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		out[id] = ViewStats{}
	}
	for _, row := range rows {
		out[row.EstadoID] = ViewStats{Count: row.Count, Viewed: row.Viewed && viewerID != uuid.Nil}
	}
	return out, nil
}
