package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/scratchpad/internal/config"
	"github.com/roach88/scratchpad/internal/connector"
	"github.com/roach88/scratchpad/internal/engine"
	"github.com/roach88/scratchpad/internal/gitbackup"
	"github.com/roach88/scratchpad/internal/ir"
	"github.com/roach88/scratchpad/internal/reconcile"
	"github.com/roach88/scratchpad/internal/store"
)

// fileService is the connector name the JSON file connector is always
// registered under.
const fileService = "file"

// app is the wiring shared by commands that touch the store.
type app struct {
	cfg        *config.Config
	store      *store.Store
	connectors *connector.Registry
	remote     connector.Connector
	engine     *engine.Engine
}

func openStore(ctx context.Context, cfg config.StoreConfig) (*store.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		slog.Debug("opening database", "driver", cfg.Driver)
		return store.OpenPostgres(ctx, cfg.DSN)
	default:
		slog.Debug("opening database", "driver", cfg.Driver, "path", cfg.Path)
		return store.Open(cfg.Path)
	}
}

// openApp opens the configured store and builds the engine around it.
func openApp(ctx context.Context, cfg *config.Config, opts ...engine.EngineOption) (*app, error) {
	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var remote connector.Connector = connector.NewFileConnector(cfg.Connectors.FileDir)
	if cfg.Connectors.Breaker.Enabled {
		remote = connector.NewBreaker(fileService, remote, cfg.BreakerSettings())
	}

	a := &app{
		cfg:        cfg,
		store:      st,
		connectors: connector.NewRegistry(),
		remote:     remote,
	}
	a.connectors.Register(fileService, remote)

	// Tables name their connector service; every service is served by the
	// file connector.
	infos, err := st.ListWorkbooks(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}
	for _, info := range infos {
		spec, err := st.GetWorkbook(ctx, info.ID)
		if err != nil {
			st.Close()
			return nil, err
		}
		a.bindConnectors(spec)
	}

	opts = append([]engine.EngineOption{
		engine.WithBackups(gitbackup.NewBuckets(cfg.Backup.Root), gitbackup.WithBucket(cfg.Backup.Bucket)),
		engine.WithInjectFallbackAppend(cfg.Edit.InjectFallbackAppend),
	}, opts...)
	a.engine, err = engine.New(ctx, st, a.connectors, opts...)
	if err != nil {
		st.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) bindConnectors(spec ir.WorkbookSpec) {
	for _, t := range spec.Tables {
		a.connectors.Register(t.Connector, a.remote)
	}
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// withApp opens the app for the duration of fn. Failing to open is a
// command error; errors returned by fn are reported through the formatter.
func withApp(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, a *app, f *OutputFormatter) error) error {
	f := newFormatter(opts, cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := openApp(ctx, opts.Config, engine.WithProgress(progressLog{f}))
	if err != nil {
		_ = f.Error("STORE", err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer a.Close()

	if err := fn(ctx, a, f); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return err
		}
		return reportError(f, err)
	}
	return nil
}

// progressLog reports table progress of sync jobs in verbose mode.
type progressLog struct{ f *OutputFormatter }

func (p progressLog) TableStarted(st reconcile.TableStatus) {
	p.f.VerboseLog("syncing %s/%s", st.WorkbookID, st.TableID)
}

func (p progressLog) TableFinished(st reconcile.TableStatus) {
	p.f.VerboseLog("%s/%s %s: %d created, %d updated, %d deleted",
		st.WorkbookID, st.TableID, st.State, st.Counts.Creates, st.Counts.Updates, st.Counts.Deletes)
}
