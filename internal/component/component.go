// Package component selects backend implementations by configured type.
package component

import (
	"context"

	"crucible/internal/cache"
	"crucible/internal/cache/freecache"
	"crucible/internal/queue"
	qmem "crucible/internal/queue/memory"
	"crucible/internal/queue/jetstream"
	"crucible/internal/storage"
	smem "crucible/internal/storage/memory"
	"crucible/internal/storage/minio"
	"crucible/internal/store"
	stmem "crucible/internal/store/memory"
	"crucible/internal/store/postgres"
)

func GetStore(ctx context.Context, storeType string) (store.Store, error) {
	switch storeType {
	case "postgres":
		return postgres.NewPostgresStore(ctx)
	default:
		return stmem.NewMemoryStore(), nil
	}
}

func GetQueue(qType string) (queue.Queue, error) {
	switch qType {
	case "jetstream":
		return jetstream.NewJetStreamQueue()
	default:
		return qmem.NewMemoryQueue(), nil
	}
}

func GetStorage(storageType string) (storage.Storage, error) {
	switch storageType {
	case "minio":
		return minio.NewMinioClient()
	default:
		return smem.NewMemoryStorage(), nil
	}
}

func GetCache(ctx context.Context) (cache.Cache, error) {
	return freecache.NewFreeCache()
}
