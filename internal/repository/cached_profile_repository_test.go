package repository_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"estados/internal/domain/status"
	"estados/internal/repository"
	"estados/internal/repository/repotest"
	"estados/pkg/logger"
)

type mapCache struct {
	entries map[uuid.UUID]status.Profile
	failGet bool
}

func (c *mapCache) GetProfiles(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]status.Profile, error) {
	if c.failGet {
		return nil, errors.New("cache down")
	}
	out := map[uuid.UUID]status.Profile{}
	for _, id := range ids {
		if p, ok := c.entries[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (c *mapCache) SetProfiles(_ context.Context, profiles map[uuid.UUID]status.Profile) error {
	for id, p := range profiles {
		c.entries[id] = p
	}
	return nil
}

func (c *mapCache) InvalidateProfile(_ context.Context, id uuid.UUID) error {
	delete(c.entries, id)
	return nil
}

func TestCachedProfilesLoadOnlyMisses(t *testing.T) {
	ctx := context.Background()
	store := repotest.NewStore(nil)
	cache := &mapCache{entries: map[uuid.UUID]status.Profile{}}
	repo := repository.NewCachedProfileRepository(store.Profiles(), cache, logger.Wrap(zaptest.NewLogger(t)))

	a := status.Profile{ID: uuid.New(), DisplayName: "Ana"}
	b := status.Profile{ID: uuid.New(), DisplayName: "Beto"}
	_ = store.Profiles().Upsert(ctx, &a)
	_ = store.Profiles().Upsert(ctx, &b)

	got, err := repo.GetByIDs(ctx, []uuid.UUID{a.ID, b.ID})
	if err != nil || len(got) != 2 {
		t.Fatalf("first lookup: %v %v", got, err)
	}
	if _, err := repo.GetByIDs(ctx, []uuid.UUID{a.ID, b.ID}); err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if n := store.CallCount("profile.get"); n != 1 {
		t.Fatalf("store hit %d times, want 1", n)
	}

	a.DisplayName = "Ana María"
	if err := repo.Upsert(ctx, &a); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, _ = repo.GetByIDs(ctx, []uuid.UUID{a.ID})
	if got[a.ID].DisplayName != "Ana María" {
		t.Fatalf("stale profile after upsert: %+v", got[a.ID])
	}
}

func TestCachedProfilesFallThroughOnCacheError(t *testing.T) {
	ctx := context.Background()
	store := repotest.NewStore(nil)
	p := status.Profile{ID: uuid.New(), DisplayName: "Caro"}
	_ = store.Profiles().Upsert(ctx, &p)

	repo := repository.NewCachedProfileRepository(store.Profiles(), &mapCache{entries: map[uuid.UUID]status.Profile{}, failGet: true}, nil)
	got, err := repo.GetByIDs(ctx, []uuid.UUID{p.ID})
	if err != nil || got[p.ID].DisplayName != "Caro" {
		t.Fatalf("lookup with broken cache: %v %v", got, err)
	}
}
