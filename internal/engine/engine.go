package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/scratchpad/internal/compiler"
	"github.com/roach88/scratchpad/internal/connector"
	"github.com/roach88/scratchpad/internal/gitbackup"
	"github.com/roach88/scratchpad/internal/ir"
	"github.com/roach88/scratchpad/internal/snapshot"
	"github.com/roach88/scratchpad/internal/store"
)

// lockBucket is the WriteLock bucket that serializes snapshot mutations.
// Git backups use their own bucket names, so the two never contend.
const lockBucket = "snapshot"

// Engine is the service layer over the snapshot store.
//
// Every mutating operation runs as a read-modify-write of whole records:
// load the affected rows, apply the pure functions of the snapshot,
// reconcile or publish packages, and persist the changed rows in one store
// transaction. Mutations of one workbook are serialized through a
// WriteLock keyed by workbook id; different workbooks proceed concurrently.
//
// Thread-safety model:
//   - all exported methods are safe to call from any goroutine
//   - reads (GetPublishSummary, LoadWorkbook) do not take the lock
type Engine struct {
	store      *store.Store
	connectors *connector.Registry
	clock      SeqSource
	ids        IDGenerator
	locks      *gitbackup.WriteLock
	backuper   *gitbackup.Backuper
	buckets    *gitbackup.Buckets
	backupOpts []gitbackup.Option
	progress   Progress
	inject     snapshot.InjectOptions
	now        func() time.Time
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithClock sets the seq source. The clock is used as given and not
// reseeded from the store.
func WithClock(c SeqSource) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithIDGenerator sets the generator for wsIds and job ids.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithWriteLock shares a WriteLock with other components, typically the
// backuper.
func WithWriteLock(l *gitbackup.WriteLock) EngineOption {
	return func(e *Engine) {
		e.locks = l
	}
}

// WithBackups enables BackupWorkbookToRepo. The backuper reads workbooks
// through the engine and shares its WriteLock.
func WithBackups(buckets *gitbackup.Buckets, opts ...gitbackup.Option) EngineOption {
	return func(e *Engine) {
		e.buckets = buckets
		e.backupOpts = opts
	}
}

// WithProgress sets the sync progress callback.
func WithProgress(p Progress) EngineOption {
	return func(e *Engine) {
		e.progress = p
	}
}

// WithInjectFallbackAppend makes InjectFieldValue append the value when the
// target token is missing, instead of failing.
func WithInjectFallbackAppend(enabled bool) EngineOption {
	return func(e *Engine) {
		e.inject.FallbackAppend = enabled
	}
}

// WithNow sets the wall clock used for status timestamps.
func WithNow(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an Engine over s. Unless WithClock is given, the record clock
// resumes after the highest seq already stored.
func New(ctx context.Context, s *store.Store, connectors *connector.Registry, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		store:      s,
		connectors: connectors,
		ids:        UUIDv7Generator{},
		locks:      gitbackup.NewWriteLock(),
		progress:   nopProgress{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.buckets != nil {
		bopts := append([]gitbackup.Option{gitbackup.WithNow(e.now)}, e.backupOpts...)
		bopts = append(bopts, gitbackup.WithWriteLock(e.locks))
		e.backuper = gitbackup.NewBackuper(e, e.buckets, bopts...)
	}

	if e.clock == nil {
		maxSeq, err := s.MaxSeq(ctx)
		if err != nil {
			return nil, fmt.Errorf("seed record clock: %w", err)
		}
		e.clock = NewClockAt(maxSeq)
	}
	return e, nil
}

// Store returns the underlying store.
func (e *Engine) Store() *store.Store { return e.store }

// Backuper returns the configured backuper, or nil.
func (e *Engine) Backuper() *gitbackup.Backuper { return e.backuper }

// NextWsID implements snapshot.IDSource.
func (e *Engine) NextWsID() string {
	return "ws_" + e.ids.Generate()
}

// NextSeq implements snapshot.IDSource.
func (e *Engine) NextSeq() int64 {
	return e.clock.Next()
}

func (e *Engine) newJobID() string {
	return "job_" + e.ids.Generate()
}

// RegisterWorkbook validates spec and stores it, replacing any earlier
// definition with the same id. Records of tables that still exist are kept.
func (e *Engine) RegisterWorkbook(ctx context.Context, spec ir.WorkbookSpec) error {
	if err := compiler.ValidateWorkbook(spec); err != nil {
		return err
	}
	for _, t := range spec.Tables {
		if _, err := e.connectors.Get(t.Connector); err != nil {
			slog.Warn("table uses an unregistered connector",
				"workbook", spec.ID, "table", t.ID, "connector", t.Connector)
		}
	}
	if err := e.store.SaveWorkbook(ctx, spec); err != nil {
		return err
	}
	hash, err := ir.WorkbookSpecHash(spec)
	if err != nil {
		return err
	}
	slog.Info("workbook registered", "workbook", spec.ID, "tables", len(spec.Tables),
		"spec_hash", hash)
	return nil
}

// LoadWorkbook implements gitbackup.Source.
func (e *Engine) LoadWorkbook(ctx context.Context, workbookID string) (gitbackup.Snapshot, error) {
	spec, err := e.store.GetWorkbook(ctx, workbookID)
	if err != nil {
		return gitbackup.Snapshot{}, err
	}
	records, err := e.store.LoadWorkbookRecords(ctx, workbookID)
	if err != nil {
		return gitbackup.Snapshot{}, err
	}
	return gitbackup.Snapshot{Spec: spec, Records: records}, nil
}

// BackupWorkbookToRepo commits the workbook's current snapshot to its
// backup branch. Failures are reported in the result as well as the error.
func (e *Engine) BackupWorkbookToRepo(ctx context.Context, workbookID, actor string) (gitbackup.Result, error) {
	if e.backuper == nil {
		err := errors.New("backups are not configured")
		return gitbackup.Result{Message: err.Error()}, err
	}
	return e.backuper.BackupWorkbook(ctx, workbookID, actor)
}

// withWorkbook runs fn while holding the workbook's write lock.
func (e *Engine) withWorkbook(ctx context.Context, workbookID string, fn func(context.Context) error) error {
	return e.locks.Do(ctx, gitbackup.LockKey{Bucket: lockBucket, Ref: workbookID}, fn)
}

// table returns the workbook definition and one of its tables.
func (e *Engine) table(ctx context.Context, workbookID, tableID string) (ir.WorkbookSpec, ir.TableSpec, error) {
	spec, err := e.store.GetWorkbook(ctx, workbookID)
	if err != nil {
		return ir.WorkbookSpec{}, ir.TableSpec{}, err
	}
	t, ok := spec.Table(tableID)
	if !ok {
		return ir.WorkbookSpec{}, ir.TableSpec{}, snapshot.NewNotFoundError("", "", fmt.Sprintf("table %q not in workbook %q", tableID, workbookID))
	}
	return spec, t, nil
}

// selectTables returns the tables named by ids in workbook order, or every
// table when ids is empty. Unknown ids are a not-found error.
func selectTables(spec ir.WorkbookSpec, ids []string) ([]ir.TableSpec, error) {
	if len(ids) == 0 {
		return spec.Tables, nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := spec.Table(id); !ok {
			return nil, snapshot.NewNotFoundError("", "", fmt.Sprintf("table %q not in workbook %q", id, spec.ID))
		}
		want[id] = true
	}
	out := make([]ir.TableSpec, 0, len(want))
	for _, t := range spec.Tables {
		if want[t.ID] {
			out = append(out, t)
		}
	}
	return out, nil
}
