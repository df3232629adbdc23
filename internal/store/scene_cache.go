package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/aksenmi/wegrim/internal/app"
)

// SceneCache keeps the latest scene snapshot per room in redis so joining
// clients don't hit postgres for every room load. Entries expire; postgres
// stays the source of truth.
type SceneCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

// NewSceneCache connects to redis and verifies connectivity
func NewSceneCache(ctx context.Context, cfg app.Config, log *slog.Logger) (*SceneCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &SceneCache{rdb: rdb, ttl: cfg.SnapshotTTL, log: log}, nil
}

// Get returns the cached scene for a room, if any
func (c *SceneCache) Get(ctx context.Context, roomID int64) (Scene, bool) {
	raw, err := c.rdb.Get(ctx, sceneKey(roomID)).Bytes()
	if err != nil {
		return Scene{}, false
	}
	var s Scene
	if err := json.Unmarshal(raw, &s); err != nil {
		return Scene{}, false
	}
	return s, true
}

// Put caches a scene snapshot with the configured TTL; best effort
func (c *SceneCache) Put(ctx context.Context, roomID int64, s Scene) {
	raw, _ := json.Marshal(s)
	if err := c.rdb.Set(ctx, sceneKey(roomID), raw, c.ttl).Err(); err != nil {
		c.log.Warn("scene.cache.put", "roomId", roomID, "err", err)
	}
}

// Invalidate drops the cached snapshot (room deleted)
func (c *SceneCache) Invalidate(ctx context.Context, roomID int64) {
	if err := c.rdb.Del(ctx, sceneKey(roomID)).Err(); err != nil {
		c.log.Warn("scene.cache.del", "roomId", roomID, "err", err)
	}
}

// Ping reports whether redis is reachable.
func (c *SceneCache) Ping(ctx context.Context) error { return c.rdb.Ping(ctx).Err() }

// Close shuts down the redis connection
func (c *SceneCache) Close() { _ = c.rdb.Close() }

// key namespacing for scene snapshots
func sceneKey(roomID int64) string { return fmt.Sprintf("scene:%d", roomID) }
