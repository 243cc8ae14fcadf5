package snapshot

// Provenance identifies where a cell's value comes from.
type Provenance int

const (
	// ProvenanceOriginal means the cell still holds the last-pulled value.
	ProvenanceOriginal Provenance = iota
	// ProvenanceEdited means the cell holds an accepted, unpublished edit.
	ProvenanceEdited
	// ProvenanceSuggested means a suggestion is waiting on the cell.
	ProvenanceSuggested
)

// String returns the provenance name used in API payloads.
func (p Provenance) String() string {
	switch p {
	case ProvenanceEdited:
		return "edited"
	case ProvenanceSuggested:
		return "suggested"
	default:
		return "original"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Provenance) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// CellState is the tagged view of a single cell.
// A pending suggestion takes precedence over an edit when reporting
// provenance: it is what the user still has to act on.
type CellState struct {
	Column     string     `json:"column"`
	Provenance Provenance `json:"provenance"`

	// Value is the current effective value (fields[column]).
	Value any `json:"value"`

	// Original is the last-pulled remote value.
	Original any `json:"original"`

	// Edited is the accepted edit when HasEdit is set.
	Edited  any  `json:"edited,omitempty"`
	HasEdit bool `json:"has_edit"`

	// Suggested is the pending suggestion when HasSuggestion is set.
	Suggested     any  `json:"suggested,omitempty"`
	HasSuggestion bool `json:"has_suggestion"`

	// Conflict is set when a remote change collided with the edit.
	Conflict *Conflict `json:"conflict,omitempty"`
}

// CellStateOf returns the provenance view of a record cell.
func CellStateOf(r Record, column string) CellState {
	cs := CellState{
		Column:   column,
		Value:    r.Fields[column],
		Original: r.Original[column],
	}
	if v, ok := r.EditedFields[column]; ok {
		cs.Edited, cs.HasEdit = v, true
		cs.Provenance = ProvenanceEdited
	}
	if v, ok := r.SuggestedValues[column]; ok {
		cs.Suggested, cs.HasSuggestion = v, true
		cs.Provenance = ProvenanceSuggested
	}
	if c, ok := r.Conflicts[column]; ok {
		cs.Conflict = &c
	}
	return cs
}
