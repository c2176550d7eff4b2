//go:build integration

package migration

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestRunMigrationsPostgres(t *testing.T) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("auditfile_test"),
		postgres.WithUsername("auditfile"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, RunMigrations(db))
	require.NoError(t, RunMigrations(db), "second run is a no-op")

	version, dirty, err := Version(db)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.EqualValues(t, 4, version)

	insert := `INSERT INTO reports (id, client_id, filer_tax_id, filer_name, kind, year, month, period_key)
		VALUES ($1, 'client-1', '5213017228', 'Acme', 'JPK_V7M', 2024, 3, '2024-03')`
	_, err = db.ExecContext(ctx, insert, 1)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, insert, 2)
	assert.Error(t, err, "second first filing for the same period")
}
