package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/davidroman0O/pipelite/internal/clock"
	"github.com/davidroman0O/pipelite/internal/persistence/repository"
	"github.com/davidroman0O/pipelite/internal/persistence/repository/repositorytest"
	"github.com/davidroman0O/pipelite/internal/types"
)

func TestRebind(t *testing.T) {
	pg := &Store{dialect: DialectPostgres}
	assert.Equal(t,
		"UPDATE x SET a = $1 WHERE id = $2 AND b IN ($3, $4)",
		pg.rebind("UPDATE x SET a = ? WHERE id = ? AND b IN (?, ?)"))

	lite := &Store{dialect: DialectSQLite}
	assert.Equal(t, "SELECT ? FROM x", lite.rebind("SELECT ? FROM x"))

	assert.Equal(t, "?, ?, ?", placeholders(3))
}

func TestSQLiteRepository(t *testing.T) {
	repositorytest.Run(t, func(t *testing.T) repository.Repository {
		s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "pipelite.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "pipelite.db")
	start := time.Date(2024, 5, 1, 8, 0, 0, 123456789, time.UTC)

	s, err := OpenSQLite(ctx, path, WithClock(clock.NewStepClock(start, time.Second)))
	require.NoError(t, err)
	p, err := s.Pipelines().Create(ctx, &types.Pipeline{
		Name:             "extract",
		DockerImageURL:   "alpine",
		RepositorySSHURL: "git@example.com:org/extract.git",
		RepositoryBranch: "master",
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Pipelines().Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "extract", got.Name)
	assert.True(t, start.Equal(got.CreatedAt), "nanosecond timestamps survive a round trip")
}

func TestPostgresRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("postgres container test skipped in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("pipelite"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	repositorytest.Run(t, func(t *testing.T) repository.Repository {
		s, err := OpenPostgres(ctx, connStr)
		require.NoError(t, err)
		require.NoError(t, s.write(ctx, func(q *tx) error {
			_, err := q.exec(ctx, `TRUNCATE workflow_pipeline_runs, workflow_runs, pipeline_run_artifacts,
				pipeline_run_inputs, pipeline_run_states, pipeline_runs, workflow_pipeline_dependencies,
				workflow_pipelines, workflows, pipelines`)
			return err
		}))
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
