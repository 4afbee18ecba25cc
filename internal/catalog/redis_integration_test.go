//go:build integration

package catalog_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brokkr-labs/brokkr/internal/catalog"
	"github.com/brokkr-labs/brokkr/internal/testsupport"
)

func TestRedisStore_Integration(t *testing.T) {
	// 1. Infrastructure Setup
	ctx := context.Background()

	redisCtr, err := testsupport.StartRedisContainer(ctx)
	require.NoError(t, err)
	defer redisCtr.Terminate(ctx)

	store := catalog.NewRedisStore(redisCtr.Client, time.Hour)

	projectUID := "app:123e4567-e89b-12d3-a456-426614174000"
	images := []catalog.Image{
		{Target: "notecard", Version: "8.1.3.17074", Filename: "notecard-8.1.3.17074.bin"},
		{Target: "host", Version: "3.1.2", Filename: "host-3.1.2.bin"},
	}
	fetchedAt := time.Now().UTC().Truncate(time.Second)

	t.Run("Should miss before any snapshot is saved", func(t *testing.T) {
		_, _, err := store.Load(ctx, projectUID)
		assert.ErrorIs(t, err, catalog.ErrSnapshotMiss)
	})

	t.Run("Should round-trip a catalog with its fetch time", func(t *testing.T) {
		err := store.Save(ctx, projectUID, catalog.NewCatalog(images), fetchedAt)
		require.NoError(t, err)

		loaded, loadedAt, err := store.Load(ctx, projectUID)
		require.NoError(t, err)

		assert.True(t, loadedAt.Equal(fetchedAt))
		assert.Equal(t, 2, loaded.Len())

		filename, err := loaded.Filename("notecard", "8.1.3.17074")
		require.NoError(t, err)
		assert.Equal(t, "notecard-8.1.3.17074.bin", filename)
	})

	t.Run("Should replace the previous snapshot on save", func(t *testing.T) {
		replacement := []catalog.Image{
			{Target: "notecard", Version: "9.0.0", Filename: "notecard-9.0.0.bin"},
		}
		err := store.Save(ctx, projectUID, catalog.NewCatalog(replacement), fetchedAt.Add(time.Minute))
		require.NoError(t, err)

		loaded, loadedAt, err := store.Load(ctx, projectUID)
		require.NoError(t, err)

		assert.Equal(t, 1, loaded.Len())
		assert.True(t, loaded.Has("notecard", "9.0.0"))
		assert.False(t, loaded.Has("notecard", "8.1.3.17074"))
		assert.True(t, loadedAt.After(fetchedAt))
	})

	t.Run("Should keep snapshots per project", func(t *testing.T) {
		otherProject := "app:other"
		err := store.Save(ctx, otherProject, catalog.NewCatalog(images), fetchedAt)
		require.NoError(t, err)

		mine, _, err := store.Load(ctx, otherProject)
		require.NoError(t, err)
		assert.Equal(t, 2, mine.Len())

		theirs, _, err := store.Load(ctx, projectUID)
		require.NoError(t, err)
		assert.Equal(t, 1, theirs.Len())
	})

	t.Run("Should delete a snapshot on demand", func(t *testing.T) {
		purged := "app:purged"
		err := store.Save(ctx, purged, catalog.NewCatalog(images), fetchedAt)
		require.NoError(t, err)

		require.NoError(t, store.Delete(ctx, purged))

		_, _, err = store.Load(ctx, purged)
		assert.ErrorIs(t, err, catalog.ErrSnapshotMiss)

		// Deleting again is a no-op, not an error.
		assert.NoError(t, store.Delete(ctx, purged))
	})

	t.Run("Should expire snapshots after the store TTL", func(t *testing.T) {
		shortLived := catalog.NewRedisStore(redisCtr.Client, time.Second)
		expiring := "app:expiring"

		err := shortLived.Save(ctx, expiring, catalog.NewCatalog(images), fetchedAt)
		require.NoError(t, err)

		_, _, err = shortLived.Load(ctx, expiring)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			_, _, err := shortLived.Load(ctx, expiring)
			return err != nil
		}, 5*time.Second, 200*time.Millisecond, "snapshot should expire")
	})

	t.Run("Health checker should report the live connection as up", func(t *testing.T) {
		checker := catalog.NewHealthChecker(redisCtr.Client)

		assert.Equal(t, "redis", checker.Name())
		assert.NoError(t, checker.Check(ctx))
	})
}
