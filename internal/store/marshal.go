package store

import (
	"fmt"
	"time"

	"github.com/roach88/scratchpad/internal/ir"
	"github.com/roach88/scratchpad/internal/snapshot"
)

// marshalFields converts Fields to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON so identical records store identical bytes.
// nil is stored as "{}" so the column is never NULL.
func marshalFields(f ir.Fields) (string, error) {
	if f == nil {
		return "{}", nil
	}
	data, err := ir.MarshalCanonical(f)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	return string(data), nil
}

// unmarshalFields parses JSON TEXT to Fields, always returning a non-nil map.
// Integers are decoded as int64 to avoid float64 precision loss above 2^53.
func unmarshalFields(data string) (ir.Fields, error) {
	if data == "" || data == "{}" {
		return ir.Fields{}, nil
	}
	f, err := ir.DecodeFields([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	if f == nil {
		f = ir.Fields{}
	}
	return f, nil
}

// marshalConflicts stores conflict markers as {column: {base, local, remote}}.
func marshalConflicts(c map[string]snapshot.Conflict) (string, error) {
	if len(c) == 0 {
		return "{}", nil
	}
	obj := make(map[string]any, len(c))
	for col, conflict := range c {
		obj[col] = map[string]any{
			"base":   conflict.Base,
			"local":  conflict.Local,
			"remote": conflict.Remote,
		}
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal conflicts: %w", err)
	}
	return string(data), nil
}

// unmarshalConflicts parses conflict markers. No conflicts decode to nil.
func unmarshalConflicts(data string) (map[string]snapshot.Conflict, error) {
	raw, err := unmarshalFields(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal conflicts: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]snapshot.Conflict, len(raw))
	for col, v := range raw {
		entry, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unmarshal conflicts: %q must be an object", col)
		}
		out[col] = snapshot.Conflict{Column: col, Base: entry["base"], Local: entry["local"], Remote: entry["remote"]}
	}
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// formatTime stores timestamps as RFC 3339 text; nil stays NULL.
func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v *string) (*time.Time, error) {
	if v == nil || *v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, *v)
	if err != nil {
		return nil, fmt.Errorf("parse time %q: %w", *v, err)
	}
	return &t, nil
}
