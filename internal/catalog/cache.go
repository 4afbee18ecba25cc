package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/brokkr-labs/brokkr/internal/config"
	"github.com/brokkr-labs/brokkr/internal/observability"
	"github.com/brokkr-labs/brokkr/internal/validation"
)

// ErrStaleServe marks a soft failure: the refresh behind an expired entry
// failed, and the value returned alongside this error is the previous,
// stale catalog. Callers that can tolerate staleness check for it with
// errors.Is and carry on; everyone else treats it as the failure it wraps.
var ErrStaleServe = errors.New("serving stale catalog")

// SnapshotStore persists fetched catalogs outside process memory so a
// restarting instance (or another replica) can answer from a recent copy
// without an upstream call. Load returns ErrSnapshotMiss when no snapshot
// exists.
type SnapshotStore interface {
	Load(ctx context.Context, projectUID string) (*Catalog, time.Time, error)
	Save(ctx context.Context, projectUID string, cat *Catalog, fetchedAt time.Time) error
}

// ErrSnapshotMiss is returned by SnapshotStore.Load when no snapshot is
// stored for the project.
var ErrSnapshotMiss = errors.New("catalog snapshot not found")

// Cache keeps one catalog per project and refreshes it on demand.
//
// Refreshes are coalesced per project: however many goroutines hit the same
// expired entry at once, exactly one upstream fetch runs and every waiter
// shares its outcome. The fetch runs on its own detached context, bounded
// only by the configured refresh timeout, so a caller that gives up waiting
// does not kill the refresh for everyone behind it.
type Cache struct {
	logger         *slog.Logger
	fetch          FetchFunc
	snapshots      SnapshotStore // optional; nil disables the shared layer
	ttl            time.Duration
	refreshTimeout time.Duration

	// now is the clock; tests swap it to age entries without sleeping.
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]entry

	group singleflight.Group
}

type entry struct {
	catalog   *Catalog
	fetchedAt time.Time
}

// NewCache creates a catalog cache backed by the given fetch function.
// snapshots may be nil; every other dependency is mandatory.
func NewCache(logger *slog.Logger, cfg *config.CatalogConfig, fetch FetchFunc, snapshots SnapshotStore) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	validation.AssertNotNil(cfg, "catalog config")
	if fetch == nil {
		panic("catalog: fetch function cannot be nil")
	}

	return &Cache{
		logger:         logger,
		fetch:          fetch,
		snapshots:      snapshots,
		ttl:            cfg.TTL,
		refreshTimeout: cfg.RefreshTimeout,
		now:            time.Now,
		entries:        make(map[string]entry),
	}
}

// Get returns the catalog for a project, refreshing it first if the cached
// copy is missing or older than the TTL.
//
// The returned error is nil for a fresh catalog, wraps ErrStaleServe when
// an expired catalog is returned because its refresh failed, and is a hard
// error only when there is nothing to serve at all. ctx bounds the caller's
// wait, not the refresh: on ctx expiry the caller gets the stale copy (or
// the ctx error) while the refresh keeps running for later callers.
func (c *Cache) Get(ctx context.Context, projectUID string) (*Catalog, error) {
	if cat, ok := c.freshEntry(projectUID); ok {
		observability.CatalogHits.Inc()
		return cat, nil
	}
	observability.CatalogMisses.Inc()

	ch := c.group.DoChan(projectUID, func() (any, error) {
		return c.refresh(projectUID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return c.degrade(projectUID, res.Err)
		}
		return res.Val.(*Catalog), nil

	case <-ctx.Done():
		// Abandon the wait. The refresh is detached and finishes on its
		// own; whatever it produces serves the next caller.
		return c.degrade(projectUID, ctx.Err())
	}
}

// Invalidate drops the cached entry for a project. The next Get pays for a
// full refresh.
func (c *Cache) Invalidate(projectUID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, projectUID)
}

// refresh performs one upstream fetch and replaces the cached entry
// wholesale on success. It runs inside the per-project singleflight group,
// detached from every waiting caller.
func (c *Cache) refresh(projectUID string) (*Catalog, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.refreshTimeout)
	defer cancel()

	// 1. On a cold start, a recent snapshot from the shared store stands in
	// for an upstream fetch.
	if cat, ok := c.adoptSnapshot(ctx, projectUID); ok {
		return cat, nil
	}

	// 2. Fetch from the platform.
	start := time.Now()
	cat, err := c.fetch(ctx, projectUID)
	observability.CatalogRefreshDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		observability.CatalogRefreshFailures.Inc()
		return nil, fmt.Errorf("failed to fetch catalog for project %s: %w", projectUID, err)
	}

	// 3. Replace the entry wholesale. No merging: the platform's answer is
	// the whole truth about what is published.
	fetchedAt := c.now()
	c.storeEntry(projectUID, cat, fetchedAt)

	c.logger.Debug("firmware catalog refreshed",
		slog.String("project_uid", projectUID),
		slog.Int("images", cat.Len()),
	)

	// 4. Push the fresh copy to the shared store, best-effort.
	if c.snapshots != nil {
		if err := c.snapshots.Save(ctx, projectUID, cat, fetchedAt); err != nil {
			c.logger.Warn("failed to save catalog snapshot",
				slog.String("project_uid", projectUID),
				slog.Any("error", err),
			)
		}
	}

	return cat, nil
}

// adoptSnapshot pulls a fresh-enough catalog from the shared store on a
// cold local miss. Any store failure is soft: the upstream fetch is the
// fallback, not the other way around.
func (c *Cache) adoptSnapshot(ctx context.Context, projectUID string) (*Catalog, bool) {
	if c.snapshots == nil {
		return nil, false
	}
	if _, _, ok := c.peekEntry(projectUID); ok {
		// A local entry exists (stale or not); refreshing it upstream is
		// the only way to make progress.
		return nil, false
	}

	cat, fetchedAt, err := c.snapshots.Load(ctx, projectUID)
	if err != nil {
		if !errors.Is(err, ErrSnapshotMiss) {
			c.logger.Warn("failed to load catalog snapshot",
				slog.String("project_uid", projectUID),
				slog.Any("error", err),
			)
		}
		return nil, false
	}
	if c.now().Sub(fetchedAt) >= c.ttl {
		return nil, false
	}

	c.storeEntry(projectUID, cat, fetchedAt)
	c.logger.Debug("firmware catalog adopted from snapshot",
		slog.String("project_uid", projectUID),
		slog.Int("images", cat.Len()),
	)
	return cat, true
}

// degrade resolves a failed or abandoned refresh: serve the previous
// catalog as a soft failure if one exists, otherwise surface the cause.
func (c *Cache) degrade(projectUID string, cause error) (*Catalog, error) {
	cat, fetchedAt, ok := c.peekEntry(projectUID)
	if !ok {
		return nil, fmt.Errorf("no catalog available for project %s: %w", projectUID, cause)
	}

	observability.CatalogStaleServes.Inc()
	c.logger.Warn("serving stale firmware catalog",
		slog.String("project_uid", projectUID),
		slog.Duration("age", c.now().Sub(fetchedAt)),
		slog.Any("error", cause),
	)
	return cat, fmt.Errorf("catalog refresh for project %s failed (%v): %w", projectUID, cause, ErrStaleServe)
}

// freshEntry returns the cached catalog when it is younger than the TTL.
func (c *Cache) freshEntry(projectUID string) (*Catalog, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[projectUID]
	if !ok || c.now().Sub(e.fetchedAt) >= c.ttl {
		return nil, false
	}
	return e.catalog, true
}

// peekEntry returns the cached catalog regardless of age.
func (c *Cache) peekEntry(projectUID string) (*Catalog, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[projectUID]
	if !ok {
		return nil, time.Time{}, false
	}
	return e.catalog, e.fetchedAt, true
}

func (c *Cache) storeEntry(projectUID string, cat *Catalog, fetchedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[projectUID] = entry{catalog: cat, fetchedAt: fetchedAt}
}
