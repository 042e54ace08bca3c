package windowstore

import (
	"context"
	"fmt"

	"gatekeeper/internal/models"
)

// NewStore creates the backend named by cfg.Type. In-process stores are
// returned with their sweeper already running.
func NewStore(ctx context.Context, cfg models.WindowStoreConfig) (Store, error) {
	switch cfg.Type {
	case models.WindowStoreTypeRedis:
		client, err := NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(client, cfg.KeyPrefix, cfg.OpTimeout), nil
	case models.WindowStoreTypeMemory:
		store := NewMemoryStore()
		store.Start(cfg.SweepInterval)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported window store type: %s", cfg.Type)
	}
}
