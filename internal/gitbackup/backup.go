// Package gitbackup persists workbook snapshots into git repositories.
//
// Each workbook is a branch ("workbooks/<id>") inside a bucket repository.
// Writes to one (bucket, branch) pair are serialized through a WriteLock;
// writes to different pairs run concurrently. Diverged branches are merged
// file by file with a line-based three-way merge whose conflicts are
// reported, never auto-resolved.
package gitbackup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/roach88/scratchpad/internal/ir"
	"github.com/roach88/scratchpad/internal/metrics"
	"github.com/roach88/scratchpad/internal/snapshot"
)

// DefaultBucket is used when no bucket is configured.
const DefaultBucket = "default"

// Snapshot is the state of one workbook at backup time.
type Snapshot struct {
	Spec    ir.WorkbookSpec
	Records map[string][]snapshot.Record // by table ID
}

// Source loads workbooks for backup.
type Source interface {
	LoadWorkbook(ctx context.Context, workbookID string) (Snapshot, error)
}

// Result is the outcome reported to the caller of a backup.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Commit  string `json:"commit,omitempty"`
	Changed bool   `json:"changed"`
}

// Backuper writes workbook snapshots to git.
type Backuper struct {
	source  Source
	buckets *Buckets
	lock    *WriteLock
	bucket  string
	now     func() time.Time
}

// Option configures a Backuper.
type Option func(*Backuper)

// WithBucket sets the bucket backups are written to.
func WithBucket(bucket string) Option {
	return func(b *Backuper) { b.bucket = bucket }
}

// WithNow overrides the commit timestamp source.
func WithNow(now func() time.Time) Option {
	return func(b *Backuper) { b.now = now }
}

// WithWriteLock shares a write lock between backupers.
func WithWriteLock(l *WriteLock) Option {
	return func(b *Backuper) { b.lock = l }
}

// NewBackuper creates a Backuper reading from source and writing into buckets.
func NewBackuper(source Source, buckets *Buckets, opts ...Option) *Backuper {
	b := &Backuper{
		source:  source,
		buckets: buckets,
		lock:    NewWriteLock(),
		bucket:  DefaultBucket,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Bucket returns the configured bucket name.
func (b *Backuper) Bucket() string { return b.bucket }

// Buckets returns the repository table.
func (b *Backuper) Buckets() *Buckets { return b.buckets }

// WriteLock returns the lock serializing writes.
func (b *Backuper) WriteLock() *WriteLock { return b.lock }

// WorkbookRef returns the branch a workbook is backed up to.
func WorkbookRef(workbookID string) string {
	return "workbooks/" + workbookID
}

// BackupWorkbook commits the current state of a workbook.
//
// A failed backup is reported both as Result{Success: false} and as the
// returned error. An unchanged workbook succeeds without a new commit.
func (b *Backuper) BackupWorkbook(ctx context.Context, workbookID, actor string) (Result, error) {
	start := time.Now()
	res, err := b.backup(ctx, workbookID, actor)
	metrics.BackupDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BackupCommits.WithLabelValues("failed").Inc()
		slog.Error("workbook backup failed", "workbook", workbookID, "bucket", b.bucket, "error", err)
		return Result{Success: false, Message: err.Error()}, err
	}
	outcome := "unchanged"
	if res.Changed {
		outcome = "committed"
	}
	metrics.BackupCommits.WithLabelValues(outcome).Inc()
	slog.Info("workbook backed up", "workbook", workbookID, "bucket", b.bucket, "commit", res.Commit, "changed", res.Changed)
	return res, nil
}

func (b *Backuper) backup(ctx context.Context, workbookID, actor string) (Result, error) {
	repo, err := b.buckets.Repo(b.bucket)
	if err != nil {
		return Result{}, err
	}
	ref := WorkbookRef(workbookID)

	var res Result
	err = b.lock.Do(ctx, LockKey{Bucket: b.bucket, Ref: ref}, func(ctx context.Context) error {
		// Load inside the lock so the committed tree reflects the state at
		// the time this write runs, not when it was queued.
		snap, err := b.source.LoadWorkbook(ctx, workbookID)
		if err != nil {
			return fmt.Errorf("load workbook %s: %w", workbookID, err)
		}
		files, err := RenderFiles(snap)
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		hash, changed, err := repo.Commit(ref, files, commitMessage(snap.Spec, actor), b.now().UTC())
		if err != nil {
			return err
		}
		res = Result{Success: true, Commit: hash.String(), Changed: changed}
		if changed {
			res.Message = fmt.Sprintf("backed up workbook %s to %s@%s", workbookID, b.bucket, ref)
		} else {
			res.Message = fmt.Sprintf("workbook %s unchanged since last backup", workbookID)
		}
		return nil
	})
	return res, err
}

func commitMessage(spec ir.WorkbookSpec, actor string) string {
	name := spec.Name
	if name == "" {
		name = spec.ID
	}
	if actor == "" {
		actor = "system"
	}
	return fmt.Sprintf("Backup workbook %s\n\nRequested-by: %s\n", name, actor)
}

// File layout of a backed-up workbook.
const (
	ManifestFile = "workbook.json"
	tablesDir    = "tables"
)

// SchemaPath returns the path of a table's schema file.
func SchemaPath(tableID string) string {
	return path.Join(tablesDir, tableID, "schema.json")
}

// RecordPath returns the path of a record file.
func RecordPath(tableID, wsID string) string {
	return path.Join(tablesDir, tableID, "records", wsID+".json")
}

// RenderFiles lays out a snapshot as files: a manifest, one schema per table
// and one file per record. Every file is canonical JSON, indented one key per
// line so that line merges work at field granularity.
func RenderFiles(snap Snapshot) (map[string][]byte, error) {
	files := map[string][]byte{}

	tableIDs := make([]any, len(snap.Spec.Tables))
	for i, t := range snap.Spec.Tables {
		tableIDs[i] = t.ID
	}
	manifest := map[string]any{
		"id":             snap.Spec.ID,
		"name":           snap.Spec.Name,
		"tables":         tableIDs,
		"ir_version":     ir.IRVersion,
		"engine_version": ir.EngineVersion,
	}
	if err := putJSON(files, ManifestFile, manifest); err != nil {
		return nil, err
	}

	for _, t := range snap.Spec.Tables {
		cols := make([]any, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = map[string]any{
				"id":        c.ID,
				"name":      c.Name,
				"type":      string(c.Type),
				"read_only": c.ReadOnly,
			}
		}
		schema := map[string]any{
			"id":           t.ID,
			"name":         t.Name,
			"connector":    t.Connector,
			"remote_id":    t.RemoteID,
			"title_column": t.TitleColumn,
			"columns":      cols,
		}
		if err := putJSON(files, SchemaPath(t.ID), schema); err != nil {
			return nil, err
		}

		for _, rec := range snap.Records[t.ID] {
			doc := map[string]any{
				"ws_id": rec.WsID,
				"seq":   rec.Seq,
				"row":   rec.ToRow(),
			}
			if err := putJSON(files, RecordPath(t.ID, rec.WsID), doc); err != nil {
				return nil, err
			}
		}
	}
	return files, nil
}

func putJSON(files map[string][]byte, name string, v any) error {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	buf.WriteByte('\n')
	files[name] = buf.Bytes()
	return nil
}
