// Package sqlstore implements the repository over database/sql. SQLite goes
// through comfylite3, Postgres through the pgx stdlib adapter. Every write
// starts by updating the parent row it protects, so the database row lock
// (or the SQLite write lock) serializes concurrent guarded writes.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/davidroman0O/comfylite3"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/sethvargo/go-retry"

	"github.com/davidroman0O/pipelite/internal/clock"
	"github.com/davidroman0O/pipelite/internal/logs"
	"github.com/davidroman0O/pipelite/internal/persistence/repository"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

type Option func(*Store)

func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

func WithLogger(l logs.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithMaxRetries bounds how many times a transaction hitting a serialization
// failure or a busy database is replayed.
func WithMaxRetries(n uint64) Option {
	return func(s *Store) {
		s.maxRetries = n
	}
}

type Store struct {
	db         *sql.DB
	dialect    Dialect
	clock      clock.Clock
	logger     logs.Logger
	maxRetries uint64
	closers    []func()

	pipelines         *pipelineRepository
	workflows         *workflowRepository
	workflowPipelines *workflowPipelineRepository
	dependencies      *dependencyRepository
	pipelineRuns      *pipelineRunRepository
	workflowRuns      *workflowRunRepository
}

var _ repository.Repository = (*Store)(nil)

// OpenSQLite opens (or creates) the database at path. An empty path keeps
// the database in memory.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*Store, error) {
	optsComfy := []comfylite3.ComfyOption{}
	if path == "" {
		optsComfy = append(optsComfy, comfylite3.WithMemory())
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		optsComfy = append(optsComfy, comfylite3.WithPath(path))
	}

	comfy, err := comfylite3.New(optsComfy...)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	db := comfylite3.OpenDB(
		comfy,
		comfylite3.WithOption("_fk=1"),
		comfylite3.WithOption("cache=shared"),
		comfylite3.WithOption("mode=rwc"),
		comfylite3.WithForeignKeys(),
	)

	s, err := New(ctx, db, DialectSQLite, opts...)
	if err != nil {
		db.Close()
		comfy.Close()
		return nil, err
	}
	s.closers = append(s.closers, func() { comfy.Close() })
	return s, nil
}

// OpenPostgres connects to dsn through a pgx pool.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	s, err := New(ctx, db, DialectPostgres, opts...)
	if err != nil {
		db.Close()
		pool.Close()
		return nil, err
	}
	s.closers = append(s.closers, pool.Close)
	return s, nil
}

// New wraps an open database and creates the schema when missing.
func New(ctx context.Context, db *sql.DB, dialect Dialect, opts ...Option) (*Store, error) {
	s := &Store{
		db:         db,
		dialect:    dialect,
		clock:      clock.System(),
		logger:     logs.Default(),
		maxRetries: 20,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(ctx); err != nil {
		return nil, err
	}

	s.pipelines = &pipelineRepository{s}
	s.workflows = &workflowRepository{s}
	s.workflowPipelines = &workflowPipelineRepository{s}
	s.dependencies = &dependencyRepository{s}
	s.pipelineRuns = &pipelineRunRepository{s}
	s.workflowRuns = &workflowRunRepository{s}

	return s, nil
}

func (s *Store) Pipelines() repository.PipelineRepository {
	return s.pipelines
}

func (s *Store) Workflows() repository.WorkflowRepository {
	return s.workflows
}

func (s *Store) WorkflowPipelines() repository.WorkflowPipelineRepository {
	return s.workflowPipelines
}

func (s *Store) Dependencies() repository.DependencyRepository {
	return s.dependencies
}

func (s *Store) PipelineRuns() repository.PipelineRunRepository {
	return s.pipelineRuns
}

func (s *Store) WorkflowRuns() repository.WorkflowRunRepository {
	return s.workflowRuns
}

func (s *Store) Close() error {
	err := s.db.Close()
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	return err
}

func (s *Store) now() time.Time {
	return s.clock.Now()
}

// rebind turns ? placeholders into $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// tx is a transaction whose statements are written with ? placeholders.
type tx struct {
	*sql.Tx
	s *Store
}

func (t *tx) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return t.ExecContext(ctx, t.s.rebind(query), args...)
}

func (t *tx) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return t.QueryContext(ctx, t.s.rebind(query), args...)
}

func (t *tx) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return t.QueryRowContext(ctx, t.s.rebind(query), args...)
}

// each runs query and calls fn for every row. The rows are closed before
// each returns so the next statement can reuse the connection.
func (t *tx) each(ctx context.Context, fn func(rows *sql.Rows) error, query string, args ...interface{}) error {
	rows, err := t.query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// touch runs an update expected to hit exactly one row and reports
// notFound otherwise.
func (t *tx) touch(ctx context.Context, notFound error, query string, args ...interface{}) error {
	res, err := t.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func (s *Store) runTx(ctx context.Context, fn func(t *tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&tx{Tx: sqlTx, s: s}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return sqlTx.Commit()
}

// write runs fn in a transaction, replaying it while the database reports a
// serialization failure or a lock timeout.
func (s *Store) write(ctx context.Context, fn func(t *tx) error) error {
	backoff := retry.WithMaxRetries(
		s.maxRetries,
		retry.WithCappedDuration(250*time.Millisecond, retry.NewExponential(5*time.Millisecond)),
	)

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := s.runTx(ctx, fn)
		if err != nil && s.retryable(err) {
			s.logger.Debug(ctx, "transaction conflict, retrying", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && s.retryable(err) {
		return errors.Join(repository.ErrConflict, err)
	}
	return err
}

func (s *Store) read(ctx context.Context, fn func(t *tx) error) error {
	return s.write(ctx, fn)
}

func (s *Store) retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

func unixNano(t time.Time) int64 {
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

type scanner interface {
	Scan(dest ...interface{}) error
}
