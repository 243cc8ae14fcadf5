// Package reconcile merges freshly pulled remote records into local snapshot
// rows and tracks the per-table sync status.
//
// The field-level conflict policy lives in Resolve and nowhere else:
// remote changes win on untouched fields, pending local edits always win
// and the collision is flagged unless the remote reached the edited value.
package reconcile

import "github.com/roach88/scratchpad/internal/ir"

// Decision is the outcome of resolving one field against a pulled value.
type Decision int

const (
	// Unchanged means the remote value equals the baseline and there is no
	// local edit. Nothing to do.
	Unchanged Decision = iota

	// RemoteWins means the remote changed a field without a pending edit:
	// fields and original both take the remote value.
	RemoteWins

	// KeepLocal means the remote did not change a field that carries a
	// pending edit. The edit stays as is.
	KeepLocal

	// Conflict means the remote changed a field that carries a pending edit.
	// The edit is kept, original advances to the remote value and the
	// collision is recorded.
	Conflict

	// Converged means the remote changed a field to the value of its pending
	// edit. Original advances and the edit is dropped; there is nothing to
	// publish and nothing to flag.
	Converged
)

func (d Decision) String() string {
	switch d {
	case RemoteWins:
		return "remote_wins"
	case KeepLocal:
		return "keep_local"
	case Conflict:
		return "conflict"
	case Converged:
		return "converged"
	default:
		return "unchanged"
	}
}

// FieldState is the local side of one field going into Resolve.
type FieldState struct {
	Original    any
	HasOriginal bool
	Edited      any
	HasEdit     bool
}

// Resolve applies the reconciliation policy to one field.
//
// A field is considered changed remotely when the pulled value differs from
// the stored baseline. A field missing from the baseline is treated as a
// change unless the pulled value is null.
func Resolve(local FieldState, remote any) Decision {
	changed := !ir.Equal(local.Original, remote)
	if !local.HasOriginal && remote == nil {
		changed = false
	}
	switch {
	case !changed && !local.HasEdit:
		return Unchanged
	case !changed:
		return KeepLocal
	case !local.HasEdit:
		return RemoteWins
	case ir.Equal(local.Edited, remote):
		return Converged
	default:
		return Conflict
	}
}
