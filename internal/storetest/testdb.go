// Package storetest provides the shared testcontainers-backed Postgres
// fixture used by integration tests across internal/store,
// internal/services, and internal/sync. Grounded on the teacher's
// test/database/testdb.go (testcontainers-go's postgres module),
// adapted from ent's sql.Open wiring to store.Open's pgx
// config.DatabaseConfig.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tampadevs/communityevents/internal/config"
	"github.com/tampadevs/communityevents/internal/store"
)

// NewTestStore starts a disposable Postgres container, opens a Store
// against it (running every embedded migration), and registers cleanup
// for both when the test ends.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("communityevents_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := config.DatabaseConfig{
		Host:         host,
		Port:         port.Int(),
		User:         "test",
		Password:     "test",
		Database:     "communityevents_test",
		SSLMode:      "disable",
		MaxOpenConns: 10,
		MaxIdleConns: 2,
	}

	st, err := store.Open(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}
