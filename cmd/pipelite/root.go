package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/k0kubun/pp/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/davidroman0O/pipelite"
	"github.com/davidroman0O/pipelite/internal/config"
	"github.com/davidroman0O/pipelite/internal/logs"
	"github.com/davidroman0O/pipelite/internal/storage"
)

type app struct {
	v       *viper.Viper
	cfgFile string
	pretty  bool

	out    io.Writer
	errOut io.Writer

	cfg *config.Config
	p   *pipelite.Pipelite
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{v: config.New(), out: out, errOut: errOut}

	root := &cobra.Command{
		Use:           "pipelite",
		Short:         "Catalog pipelines, wire them into workflows and track their runs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default ./pipelite.yaml)")
	flags.BoolVar(&a.pretty, "pretty", false, "print results for humans instead of JSON")
	flags.String("log-level", "info", "debug, info, warn or error")
	flags.String("database-driver", "sqlite", "memory, sqlite or postgres")
	flags.String("database-path", "./data/pipelite.db", "sqlite database file")
	flags.String("database-dsn", "", "postgres connection string")
	flags.String("storage-root", "./data/objects", "directory of the filesystem object store")

	for key, flag := range map[string]string{
		"log.level":       "log-level",
		"database.driver": "database-driver",
		"database.path":   "database-path",
		"database.dsn":    "database-dsn",
		"storage.root":    "storage-root",
	} {
		if err := a.v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	root.AddCommand(
		newPipelineCmd(a),
		newWorkflowCmd(a),
		newRunCmd(a),
		newArtifactCmd(a),
		newApplyCmd(a),
	)
	return root
}

func (a *app) open(ctx context.Context) error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger := logs.NewLogger(a.errOut, logs.ParseLevel(cfg.Log.Level), logs.LogFormat(cfg.Log.Format))
	options, err := a.options(ctx, logger)
	if err != nil {
		return err
	}
	p, err := pipelite.New(ctx, options...)
	if err != nil {
		return fmt.Errorf("opening pipelite: %w", err)
	}
	a.p = p
	return nil
}

func (a *app) close() error {
	if a.p == nil {
		return nil
	}
	err := a.p.Close()
	a.p = nil
	return err
}

// print writes v as indented JSON, or through pp with --pretty.
func (a *app) print(v interface{}) error {
	if a.pretty {
		printer := pp.New()
		printer.SetOutput(a.out)
		printer.SetColoringEnabled(false)
		_, err := printer.Println(v)
		return err
	}
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newS3(ctx context.Context, cfg *config.Config) (*storage.S3, error) {
	return storage.NewS3(ctx, storage.S3Config{
		Region:          cfg.Storage.Region,
		Endpoint:        cfg.Storage.Endpoint,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		UsePathStyle:    cfg.Storage.UsePathStyle,
	})
}

func (a *app) options(ctx context.Context, logger logs.Logger) ([]pipelite.Option, error) {
	cfg := a.cfg
	opts := []pipelite.Option{
		pipelite.WithLogger(logger),
		pipelite.WithBucket(cfg.Storage.Bucket),
		pipelite.WithCallbackTimeout(cfg.Callback.Timeout),
	}

	switch cfg.Database.Driver {
	case "memory":
		opts = append(opts, pipelite.WithMemory())
	case "postgres":
		opts = append(opts, pipelite.WithPostgres(cfg.Database.DSN))
	default:
		opts = append(opts, pipelite.WithPath(cfg.Database.Path))
	}

	switch cfg.Storage.Backend {
	case "s3":
		store, err := newS3(ctx, cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipelite.WithObjectStore(store))
	default:
		opts = append(opts, pipelite.WithStorageRoot(cfg.Storage.Root))
	}
	return opts, nil
}
