package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/scratchpad/internal/ir"
)

// FileConnector stores each remote table as a JSON array of records in
// <dir>/<table>.json. The table file name is the table's RemoteID, or its ID
// when no RemoteID is configured.
type FileConnector struct {
	dir   string
	newID func() string
	mu    sync.Mutex
}

// FileOption configures a FileConnector.
type FileOption func(*FileConnector)

// WithIDFunc sets the generator for remote ids assigned to created records.
func WithIDFunc(fn func() string) FileOption {
	return func(c *FileConnector) {
		c.newID = fn
	}
}

// NewFileConnector creates a connector rooted at dir.
func NewFileConnector(dir string, opts ...FileOption) *FileConnector {
	c := &FileConnector{
		dir: dir,
		newID: func() string {
			return "rec_" + uuid.Must(uuid.NewV7()).String()
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Path returns the file backing table.
func (c *FileConnector) Path(table ir.TableSpec) string {
	name := table.RemoteID
	if name == "" {
		name = table.ID
	}
	return filepath.Join(c.dir, name+".json")
}

// PullRecords implements Connector.
func (c *FileConnector) PullRecords(ctx context.Context, table ir.TableSpec) ([]RemoteRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.load(table)
	if err != nil {
		return nil, &Error{Service: "file", Table: table.ID, Op: "pull", Err: err}
	}
	return records, nil
}

// PushRecords implements Connector. Ops are applied in order; an op that
// targets a missing record fails on its own without affecting the others.
func (c *FileConnector) PushRecords(ctx context.Context, table ir.TableSpec, ops []Op) ([]OpResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.load(table)
	if err != nil {
		return nil, &Error{Service: "file", Table: table.ID, Op: "push", Err: err}
	}

	index := make(map[string]int, len(records))
	for i, r := range records {
		index[r.RemoteID] = i
	}

	results := make([]OpResult, 0, len(ops))
	removed := map[string]bool{}
	for _, op := range ops {
		res := OpResult{WsID: op.WsID, RemoteID: op.RemoteID}
		i, exists := index[op.RemoteID]
		if exists && removed[op.RemoteID] {
			exists = false
		}

		switch op.Kind {
		case OpCreate:
			rec := RemoteRecord{RemoteID: c.newID(), Fields: op.Fields.Clone(), Metadata: op.Metadata.Clone()}
			if rec.Fields == nil {
				rec.Fields = ir.Fields{}
			}
			index[rec.RemoteID] = len(records)
			records = append(records, rec)
			res.RemoteID, res.OK, res.Fields = rec.RemoteID, true, rec.Fields.Clone()
		case OpUpdate:
			if !exists {
				res.Error = "record not found"
				break
			}
			if records[i].Fields == nil {
				records[i].Fields = ir.Fields{}
			}
			for k, v := range op.Fields {
				records[i].Fields[k] = ir.CloneValue(v)
			}
			res.OK, res.Fields = true, records[i].Fields.Clone()
		case OpDelete:
			if !exists {
				res.Error = "record not found"
				break
			}
			removed[op.RemoteID] = true
			res.OK = true
		default:
			res.Error = fmt.Sprintf("unsupported op kind %q", op.Kind)
		}
		results = append(results, res)
	}

	kept := records[:0]
	for _, r := range records {
		if !removed[r.RemoteID] {
			kept = append(kept, r)
		}
	}
	if err := c.save(table, kept); err != nil {
		return nil, &Error{Service: "file", Table: table.ID, Op: "push", Err: err}
	}
	return results, nil
}

// Seed writes records as the full content of table, replacing any previous
// file. Used by fixtures and the CLI.
func (c *FileConnector) Seed(table ir.TableSpec, records []RemoteRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.save(table, records)
}

type fileRecord struct {
	ID       string         `json:"id"`
	Fields   map[string]any `json:"fields"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (c *FileConnector) load(table ir.TableSpec) ([]RemoteRecord, error) {
	data, err := os.ReadFile(c.Path(table))
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw []fileRecord
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.Path(table), err)
	}

	records := make([]RemoteRecord, len(raw))
	for i, r := range raw {
		fields, err := ir.NormalizeFields(r.Fields)
		if err != nil {
			return nil, fmt.Errorf("record %q: %w", r.ID, err)
		}
		meta, err := ir.NormalizeFields(r.Metadata)
		if err != nil {
			return nil, fmt.Errorf("record %q metadata: %w", r.ID, err)
		}
		records[i] = RemoteRecord{RemoteID: r.ID, Fields: fields, Metadata: meta}
	}
	return records, nil
}

func (c *FileConnector) save(table ir.TableSpec, records []RemoteRecord) error {
	raw := make([]fileRecord, len(records))
	for i, r := range records {
		raw[i] = fileRecord{ID: r.RemoteID, Fields: r.Fields, Metadata: r.Metadata}
		if raw[i].Fields == nil {
			raw[i].Fields = map[string]any{}
		}
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(c.Path(table), append(data, '\n'), 0o644)
}
