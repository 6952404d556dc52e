package pipelite

import (
	"net/http"
	"time"

	"github.com/davidroman0O/pipelite/internal/clock"
	"github.com/davidroman0O/pipelite/internal/persistence/repository"
	"github.com/davidroman0O/pipelite/internal/storage"
)

type storeKind int

const (
	storeMemory storeKind = iota
	storeSQLite
	storePostgres
	storeCustom
)

type pipeliteConfig struct {
	kind        storeKind
	path        string
	dsn         string
	repository  repository.Repository
	destructive bool
	clock       clock.Clock
	logger      Logger

	objectStore     storage.ObjectStore
	storageRoot     string
	bucket          string
	callbackTimeout time.Duration
	transport       http.RoundTripper
}

// Option configures New.
type Option func(*pipeliteConfig)

func WithLogger(logger Logger) Option {
	return func(c *pipeliteConfig) {
		c.logger = logger
	}
}

// WithMemory keeps everything in process memory. It is the default.
func WithMemory() Option {
	return func(c *pipeliteConfig) {
		c.kind = storeMemory
	}
}

// WithPath stores the records in the SQLite database at path.
func WithPath(path string) Option {
	return func(c *pipeliteConfig) {
		c.kind = storeSQLite
		c.path = path
	}
}

func WithPostgres(dsn string) Option {
	return func(c *pipeliteConfig) {
		c.kind = storePostgres
		c.dsn = dsn
	}
}

// WithRepository plugs an already opened repository. Close still closes it.
func WithRepository(repo repository.Repository) Option {
	return func(c *pipeliteConfig) {
		c.kind = storeCustom
		c.repository = repo
	}
}

// WithDestructive removes the SQLite file given to WithPath before opening it.
func WithDestructive() Option {
	return func(c *pipeliteConfig) {
		c.destructive = true
	}
}

func WithClock(clk clock.Clock) Option {
	return func(c *pipeliteConfig) {
		c.clock = clk
	}
}

func WithObjectStore(store storage.ObjectStore) Option {
	return func(c *pipeliteConfig) {
		c.objectStore = store
	}
}

// WithStorageRoot keeps artifacts on the local disk under dir.
func WithStorageRoot(dir string) Option {
	return func(c *pipeliteConfig) {
		c.storageRoot = dir
	}
}

func WithBucket(bucket string) Option {
	return func(c *pipeliteConfig) {
		c.bucket = bucket
	}
}

// WithCallbackTimeout bounds every callback delivery, 5s by default.
func WithCallbackTimeout(d time.Duration) Option {
	return func(c *pipeliteConfig) {
		c.callbackTimeout = d
	}
}

func WithCallbackTransport(rt http.RoundTripper) Option {
	return func(c *pipeliteConfig) {
		c.transport = rt
	}
}
