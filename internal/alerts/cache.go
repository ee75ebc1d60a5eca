package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cafetrace/cafetrace/internal/shared"
)

// ErrNoSnapshot indicates no evaluation has been cached yet.
var ErrNoSnapshot = errors.New("alerts: no cached snapshot")

// SnapshotCache keeps the latest evaluation in redis so dashboards read
// alerts without driving a fresh scan.
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSnapshotCache builds SnapshotCache. A zero ttl keeps snapshots until
// the next Store.
func NewSnapshotCache(rdb *redis.Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{rdb: rdb, ttl: ttl}
}

// Store replaces the cached snapshot.
func (c *SnapshotCache) Store(ctx context.Context, snapshot Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, shared.AlertSnapshotKey, payload, c.ttl).Err()
}

// Load returns the cached snapshot.
func (c *SnapshotCache) Load(ctx context.Context) (Snapshot, error) {
	payload, err := c.rdb.Get(ctx, shared.AlertSnapshotKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, ErrNoSnapshot
		}
		return Snapshot{}, err
	}
	var snapshot Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}
