package cache

import (
	"context"
	"errors"

	"maps-workers/internal/common/logger"
	"maps-workers/internal/models"
)

// Tiered reads through a local tier in front of the shared Redis tier. A
// shared-tier hit is copied into the local tier. Invalidations reach the local
// tiers of other workers once Follow is running.
type Tiered struct {
	local  *LocalCache
	shared *RedisCache
	logger logger.Logger
}

func NewTiered(local *LocalCache, shared *RedisCache, log logger.Logger) *Tiered {
	return &Tiered{local: local, shared: shared, logger: log}
}

func (t *Tiered) Get(ctx context.Context, id string) (*models.SavedMap, bool, error) {
	m, ok, err := t.local.Get(ctx, id)
	if err != nil {
		t.logger.Warn("local map cache read failed", map[string]interface{}{"mapId": id, "error": err})
	} else if ok {
		return m, true, nil
	}

	localGen, _ := t.local.Generation(ctx, id)
	m, ok, err = t.shared.Get(ctx, id)
	if err != nil || !ok {
		return nil, false, err
	}
	if err := t.local.Set(ctx, m, localGen); err != nil && !errors.Is(err, ErrStale) {
		observe(tierLocal, "error")
		t.logger.Warn("local map cache write failed", map[string]interface{}{"mapId": id, "error": err})
	}
	return m, true, nil
}

// Generation is the shared generation; Redis decides whether a load is stale.
func (t *Tiered) Generation(ctx context.Context, id string) (uint64, error) {
	return t.shared.Generation(ctx, id)
}

func (t *Tiered) Set(ctx context.Context, m *models.SavedMap, generation uint64) error {
	localGen, _ := t.local.Generation(ctx, m.ID)
	if err := t.shared.Set(ctx, m, generation); err != nil {
		return err
	}
	return t.local.Set(ctx, m, localGen)
}

// Invalidate clears the shared tier before the local one so a concurrent
// Set cannot leave a stale local copy behind.
func (t *Tiered) Invalidate(ctx context.Context, ids ...string) error {
	sharedErr := t.shared.Invalidate(ctx, ids...)
	return errors.Join(sharedErr, t.local.Invalidate(ctx, ids...))
}

// Follow drops local entries whenever any worker invalidates them, until ctx
// is done.
func (t *Tiered) Follow(ctx context.Context) error {
	return t.shared.Subscribe(ctx,
		func(ids []string) {
			_ = t.local.Invalidate(ctx, ids...)
		},
		func(err error) {
			t.logger.Warn("malformed cache invalidation message", map[string]interface{}{"error": err})
		},
	)
}
