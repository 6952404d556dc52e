// Package pipelite catalogs pipelines, arranges them into acyclic workflows
// and tracks their runs through a small state machine.
package pipelite

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/davidroman0O/pipelite/internal/callback"
	"github.com/davidroman0O/pipelite/internal/clock"
	"github.com/davidroman0O/pipelite/internal/engine/artifacts"
	"github.com/davidroman0O/pipelite/internal/engine/propagation"
	"github.com/davidroman0O/pipelite/internal/engine/runs"
	"github.com/davidroman0O/pipelite/internal/engine/workflows"
	"github.com/davidroman0O/pipelite/internal/logs"
	"github.com/davidroman0O/pipelite/internal/persistence/memstore"
	"github.com/davidroman0O/pipelite/internal/persistence/repository"
	"github.com/davidroman0O/pipelite/internal/persistence/sqlstore"
	"github.com/davidroman0O/pipelite/internal/storage"
)

type Pipelite struct {
	db        repository.Repository
	workflows *workflows.Service
	runs      *runs.Service
	resolver  *propagation.Resolver
	artifacts *artifacts.Service
	notifier  *callback.Notifier

	ctx    context.Context
	cancel context.CancelFunc
	logger Logger
}

func New(ctx context.Context, opts ...Option) (*Pipelite, error) {
	cfg := pipeliteConfig{
		kind:   storeMemory,
		clock:  clock.System(),
		bucket: artifacts.DefaultBucket,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logs.Default()
	} else {
		logs.SetDefault(cfg.logger)
	}

	db, err := openRepository(ctx, &cfg)
	if err != nil {
		return nil, err
	}

	store := cfg.objectStore
	switch {
	case store != nil:
		cfg.logger.Debug(ctx, "Object store provided")
	case cfg.storageRoot != "":
		cfg.logger.Debug(ctx, "Keeping artifacts on disk", "path", cfg.storageRoot)
		store = storage.NewOSFilesystem(cfg.storageRoot)
	default:
		cfg.logger.Debug(ctx, "Keeping artifacts in memory")
		store = storage.NewMemFilesystem()
	}

	notifierOpts := []callback.Option{callback.WithLogger(cfg.logger)}
	if cfg.callbackTimeout > 0 {
		notifierOpts = append(notifierOpts, callback.WithTimeout(cfg.callbackTimeout))
	}
	if cfg.transport != nil {
		notifierOpts = append(notifierOpts, callback.WithTransport(cfg.transport))
	}
	notifier := callback.New(notifierOpts...)

	ctx, cancel := context.WithCancel(ctx)
	p := &Pipelite{
		db:        db,
		workflows: workflows.New(db),
		runs:      runs.New(db, runs.WithNotifier(notifier)),
		resolver:  propagation.New(db),
		artifacts: artifacts.New(db, store, cfg.bucket),
		notifier:  notifier,
		ctx:       ctx,
		cancel:    cancel,
		logger:    cfg.logger,
	}

	cfg.logger.Debug(ctx, "Pipelite ready", "bucket", cfg.bucket, "callback.timeout", notifier.Timeout())
	return p, nil
}

func openRepository(ctx context.Context, cfg *pipeliteConfig) (repository.Repository, error) {
	switch cfg.kind {
	case storeCustom:
		if cfg.repository == nil {
			return nil, errors.New("nil repository")
		}
		cfg.logger.Debug(ctx, "Repository provided")
		return cfg.repository, nil

	case storeSQLite:
		cfg.logger.Debug(ctx, "Database got a path", "path", cfg.path)
		if cfg.destructive && cfg.path != "" {
			cfg.logger.Debug(ctx, "Destructive option triggered", "path", cfg.path)
			if err := os.Remove(cfg.path); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("removing database: %w", err)
			}
		}
		cfg.logger.Debug(ctx, "Opening/Creating database")
		return sqlstore.OpenSQLite(ctx, cfg.path, sqlstore.WithClock(cfg.clock), sqlstore.WithLogger(cfg.logger))

	case storePostgres:
		cfg.logger.Debug(ctx, "Connecting to postgres")
		return sqlstore.OpenPostgres(ctx, cfg.dsn, sqlstore.WithClock(cfg.clock), sqlstore.WithLogger(cfg.logger))

	default:
		cfg.logger.Debug(ctx, "Memory database option")
		return memstore.New(memstore.WithClock(cfg.clock))
	}
}

func (p *Pipelite) Close() error {
	p.logger.Debug(p.ctx, "Closing Pipelite")
	p.cancel()
	return p.db.Close()
}

// Repository exposes the underlying store.
func (p *Pipelite) Repository() repository.Repository {
	return p.db
}
