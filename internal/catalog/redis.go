package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces catalog snapshots in Redis.
// Example: "brokkr:catalog:app:123e4567"
const keyPrefix = "brokkr:catalog"

// RedisStore implements SnapshotStore on Redis. Snapshots let a restarted
// or newly scaled instance serve its first webhook from a recent catalog
// instead of paying an upstream fetch.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// snapshotDoc is the stored wire format. FetchedAt travels with the images
// so the adopting cache can age the snapshot exactly as if it had fetched
// the catalog itself.
type snapshotDoc struct {
	FetchedAt time.Time `json:"fetched_at"`
	Images    []Image   `json:"images"`
}

// NewRedisStore creates a snapshot store. Keys expire after ttl; an expired
// snapshot would be rejected by the adopting cache anyway, so there is no
// point keeping it around.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("catalog: redis client cannot be nil")
	}
	if ttl <= 0 {
		panic("catalog: snapshot ttl must be positive")
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Save stores the catalog under the project's key, replacing any previous
// snapshot.
func (s *RedisStore) Save(ctx context.Context, projectUID string, cat *Catalog, fetchedAt time.Time) error {
	doc := snapshotDoc{
		FetchedAt: fetchedAt,
		Images:    cat.Images(),
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode catalog snapshot: %w", err)
	}

	if err := s.client.Set(ctx, snapshotKey(projectUID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store catalog snapshot for project %s: %w", projectUID, err)
	}
	return nil
}

// Load returns the stored catalog and its fetch time, or ErrSnapshotMiss
// when the project has no snapshot.
func (s *RedisStore) Load(ctx context.Context, projectUID string) (*Catalog, time.Time, error) {
	payload, err := s.client.Get(ctx, snapshotKey(projectUID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, time.Time{}, ErrSnapshotMiss
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to load catalog snapshot for project %s: %w", projectUID, err)
	}

	var doc snapshotDoc
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to decode catalog snapshot for project %s: %w", projectUID, err)
	}

	return NewCatalog(doc.Images), doc.FetchedAt, nil
}

// Delete drops the project's snapshot. Operators use this to purge a bad
// snapshot without waiting for the key to expire; deleting a key that does
// not exist is not an error.
func (s *RedisStore) Delete(ctx context.Context, projectUID string) error {
	if err := s.client.Del(ctx, snapshotKey(projectUID)).Err(); err != nil {
		return fmt.Errorf("failed to delete catalog snapshot for project %s: %w", projectUID, err)
	}
	return nil
}

func snapshotKey(projectUID string) string {
	return fmt.Sprintf("%s:%s", keyPrefix, projectUID)
}
