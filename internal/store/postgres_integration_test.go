//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/punchamoorthee/pkrsettle/internal/store"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newPostgres starts a fresh PostgreSQL container, applies the embedded
// migrations and returns a connected store. Everything is cleaned up when
// the test ends.
func newPostgres(t *testing.T) store.Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("pkrsettle_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pg, err := store.NewPostgres(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pg.Close)

	require.NoError(t, pg.Migrate())
	// A second run is a no-op.
	require.NoError(t, pg.Migrate())
	return pg
}

func TestPostgres(t *testing.T) {
	runStoreTests(t, newPostgres)
}
