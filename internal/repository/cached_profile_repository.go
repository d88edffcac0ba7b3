package repository

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"estados/internal/domain/status"
	"estados/pkg/logger"
)

// ProfileCache is satisfied by redis.CacheStore.
type ProfileCache interface {
	GetProfiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]status.Profile, error)
	SetProfiles(ctx context.Context, profiles map[uuid.UUID]status.Profile) error
	InvalidateProfile(ctx context.Context, id uuid.UUID) error
}

// CachedProfileRepository serves profile lookups from cache first. Cache
// failures fall through to the wrapped repository.
type CachedProfileRepository struct {
	ProfileRepository
	cache  ProfileCache
	logger *logger.Logger
}

func NewCachedProfileRepository(inner ProfileRepository, cache ProfileCache, log *logger.Logger) ProfileRepository {
	if log == nil {
		log = logger.Nop()
	}
	return &CachedProfileRepository{ProfileRepository: inner, cache: cache, logger: log.Named("profile_cache")}
}

func (r *CachedProfileRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]status.Profile, error) {
	found, err := r.cache.GetProfiles(ctx, ids)
	if err != nil {
		r.logger.Warn("profile cache read", zap.Error(err))
		found = map[uuid.UUID]status.Profile{}
	}

	var missing []uuid.UUID
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return found, nil
	}

	loaded, err := r.ProfileRepository.GetByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	if err := r.cache.SetProfiles(ctx, loaded); err != nil {
		r.logger.Warn("profile cache write", zap.Error(err))
	}
	for id, p := range loaded {
		found[id] = p
	}
	return found, nil
}

func (r *CachedProfileRepository) Upsert(ctx context.Context, p *status.Profile) error {
	if err := r.ProfileRepository.Upsert(ctx, p); err != nil {
		return err
	}
	if err := r.cache.InvalidateProfile(ctx, p.ID); err != nil {
		r.logger.Warn("profile cache invalidate", zap.String("profile_id", p.ID.String()), zap.Error(err))
	}
	return nil
}
