package snapshot

import (
	"strings"

	"github.com/roach88/scratchpad/internal/ir"
)

// DefaultInjectTarget is the placeholder token inline edits are injected at.
const DefaultInjectTarget = "@@"

// InjectOptions configures InjectFieldValue.
type InjectOptions struct {
	// TargetKey is the insertion point token. Empty means DefaultInjectTarget.
	TargetKey string

	// FallbackAppend appends the value when TargetKey is absent instead of
	// failing with a validation error.
	FallbackAppend bool
}

// AcceptCellValue moves the pending suggestion for column into the edited
// map, updates the effective value and marks the record dirty.
//
// Accepting a sentinel column (__deleted, __created) accepts the record-level
// suggestion without touching business fields.
//
// Returns a not-found error when the cell has no suggestion.
func AcceptCellValue(r Record, column string) (Record, error) {
	value, ok := r.SuggestedValues[column]
	if !ok {
		return r, NewNotFoundError(r.WsID, column, "no suggested value to accept")
	}

	out := r.Clone()
	delete(out.SuggestedValues, column)
	if out.EditedFields == nil {
		out.EditedFields = ir.Fields{}
	}
	out.EditedFields[column] = value
	if !IsSentinel(column) {
		if out.Fields == nil {
			out.Fields = ir.Fields{}
		}
		out.Fields[column] = ir.CloneValue(value)
	}
	out.Dirty = true
	return out, nil
}

// RejectCellValue discards the pending suggestion for column. Accepted edits
// are left untouched.
//
// Returns a not-found error when the cell has no suggestion.
func RejectCellValue(r Record, column string) (Record, error) {
	if !r.SuggestedValues.Has(column) {
		return r, NewNotFoundError(r.WsID, column, "no suggested value to reject")
	}

	out := r.Clone()
	delete(out.SuggestedValues, column)
	return out, nil
}

// SuggestValue records a suggestion for column. A suggestion equal to the
// current effective value carries no information and clears any stale
// suggestion instead.
func SuggestValue(r Record, column string, value any) (Record, error) {
	if IsReserved(column) && !IsSentinel(column) {
		return r, NewValidationError(r.WsID, column, "cannot suggest a value for a reserved column")
	}
	normalized, err := ir.NormalizeValue(value)
	if err != nil {
		return r, NewValidationError(r.WsID, column, err.Error())
	}

	out := r.Clone()
	if !IsSentinel(column) && out.Fields.Has(column) && ir.Equal(out.Fields[column], normalized) {
		delete(out.SuggestedValues, column)
		return out, nil
	}
	if out.SuggestedValues == nil {
		out.SuggestedValues = ir.Fields{}
	}
	out.SuggestedValues[column] = normalized
	return out, nil
}

// SetFieldValue applies a direct user edit. Setting a published record's
// column back to its original value reverts the edit. A pending suggestion
// equal to the new value is consumed; a different one stays for review.
func SetFieldValue(r Record, column string, value any) (Record, error) {
	if IsReserved(column) {
		return r, NewValidationError(r.WsID, column, "cannot edit a reserved column")
	}
	normalized, err := ir.NormalizeValue(value)
	if err != nil {
		return r, NewValidationError(r.WsID, column, err.Error())
	}

	out := r.Clone()
	setEdit(&out, column, normalized)
	if s, ok := out.SuggestedValues[column]; ok && ir.Equal(s, normalized) {
		delete(out.SuggestedValues, column)
	}
	return out, nil
}

// InjectFieldValue inserts value at the first occurrence of the target token
// in the column's current text. Used for inline agent edits that reference a
// placeholder.
//
// Returns a validation error when the current content is not text, or when
// the token is missing and FallbackAppend is not set.
func InjectFieldValue(r Record, column, value string, opts InjectOptions) (Record, error) {
	if IsReserved(column) {
		return r, NewValidationError(r.WsID, column, "cannot edit a reserved column")
	}
	target := opts.TargetKey
	if target == "" {
		target = DefaultInjectTarget
	}

	current, ok := ir.AsString(r.Fields[column])
	if !ok {
		return r, NewValidationError(r.WsID, column, "field content is not text")
	}

	var next string
	switch {
	case strings.Contains(current, target):
		next = strings.Replace(current, target, value, 1)
	case opts.FallbackAppend:
		next = current + value
	default:
		return r, NewValidationError(r.WsID, column, "target key "+target+" not found in field content")
	}

	out := r.Clone()
	setEdit(&out, column, next)
	out.Dirty = true
	return out, nil
}

// AppendFieldValue concatenates value to the column's current content.
// Non-text content is rendered as text first, so the operation always
// succeeds on business columns.
func AppendFieldValue(r Record, column, value string) (Record, error) {
	if IsReserved(column) {
		return r, NewValidationError(r.WsID, column, "cannot edit a reserved column")
	}
	current, ok := ir.AsString(r.Fields[column])
	if !ok {
		current = ir.DisplayString(r.Fields[column])
	}

	out := r.Clone()
	setEdit(&out, column, current+value)
	out.Dirty = true
	return out, nil
}

// ResolveConflict clears the conflict marker on column. The local edit stays
// in place; to take the remote value instead, callers set the column to
// Original[column] first, which reverts the edit.
func ResolveConflict(r Record, column string) (Record, error) {
	if _, ok := r.Conflicts[column]; !ok {
		return r, NewNotFoundError(r.WsID, column, "no conflict to resolve")
	}
	out := r.Clone()
	delete(out.Conflicts, column)
	return out, nil
}

// setEdit writes value as the effective and edited value of column. On a
// published record an edit equal to the original reverts the cell.
func setEdit(r *Record, column string, value any) {
	if r.Fields == nil {
		r.Fields = ir.Fields{}
	}
	if r.EditedFields == nil {
		r.EditedFields = ir.Fields{}
	}
	r.Fields[column] = value

	if !r.IsCreated() && r.Original.Has(column) && ir.Equal(r.Original[column], value) {
		delete(r.EditedFields, column)
		delete(r.Conflicts, column)
	} else {
		r.EditedFields[column] = ir.CloneValue(value)
	}
	r.Dirty = r.HasPendingChanges()
}
