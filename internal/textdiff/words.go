// Package textdiff holds the text diff primitives: a word-level diff for
// reviewing suggested edits and a line-based three-way merge for backups.
package textdiff

import (
	"unicode"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/roach88/scratchpad/internal/ir"
)

// Segment is one piece of a word diff. At most one of Added and Removed is
// set; neither means the text is common to both sides.
type Segment struct {
	Value   string `json:"value"`
	Added   bool   `json:"added,omitempty"`
	Removed bool   `json:"removed,omitempty"`
}

// DiffWords diffs original against suggested at word granularity.
// Whitespace runs are tokens of their own, so spacing changes show up in the
// output. Within a change, removed text precedes added text and adjacent
// segments of the same kind are merged.
func DiffWords(original, suggested string) []Segment {
	if original == suggested {
		if original == "" {
			return nil
		}
		return []Segment{{Value: original}}
	}

	enc := newTokenEncoder()
	a := enc.encode(tokenize(original))
	b := enc.encode(tokenize(suggested))

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMainRunes(a, b, false)

	var out []Segment
	var removed, added []rune
	flush := func() {
		if len(removed) > 0 {
			out = appendSegment(out, Segment{Value: enc.decode(removed), Removed: true})
			removed = nil
		}
		if len(added) > 0 {
			out = appendSegment(out, Segment{Value: enc.decode(added), Added: true})
			added = nil
		}
	}
	for _, d := range diffs {
		runes := []rune(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			removed = append(removed, runes...)
		case diffmatchpatch.DiffInsert:
			added = append(added, runes...)
		default:
			flush()
			out = appendSegment(out, Segment{Value: enc.decode(runes)})
		}
	}
	flush()
	return out
}

// DiffValues is DiffWords over cell values. nil is treated as empty text and
// non-text values are compared in their display form.
func DiffValues(original, suggested any) []Segment {
	return DiffWords(ir.DisplayString(original), ir.DisplayString(suggested))
}

// Apply rebuilds one side of a diff: the original when added is false, the
// suggested text otherwise.
func Apply(segments []Segment, added bool) string {
	var n int
	for _, s := range segments {
		n += len(s.Value)
	}
	buf := make([]byte, 0, n)
	for _, s := range segments {
		switch {
		case s.Added && !added, s.Removed && added:
			continue
		}
		buf = append(buf, s.Value...)
	}
	return string(buf)
}

func appendSegment(out []Segment, s Segment) []Segment {
	if s.Value == "" {
		return out
	}
	if n := len(out); n > 0 && out[n-1].Added == s.Added && out[n-1].Removed == s.Removed {
		out[n-1].Value += s.Value
		return out
	}
	return append(out, s)
}

// tokenize splits s into alternating runs of whitespace and non-whitespace.
func tokenize(s string) []string {
	var tokens []string
	start := 0
	var inSpace bool
	for i, r := range s {
		space := unicode.IsSpace(r)
		if i > start && space != inSpace {
			tokens = append(tokens, s[start:i])
			start = i
		}
		inSpace = space
	}
	if start < len(s) {
		tokens = append(tokens, s[start:])
	}
	return tokens
}

// tokenEncoder maps each distinct token to a single rune so the character
// diff runs over words. Codes start in the private use area and continue
// above the BMP, skipping surrogates.
type tokenEncoder struct {
	codes  map[string]rune
	tokens []string
}

const (
	privateUseStart = 0xE000
	privateUseSize  = 0xF8FF - 0xE000 + 1
	supplementStart = 0x10000
)

func newTokenEncoder() *tokenEncoder {
	return &tokenEncoder{codes: make(map[string]rune)}
}

func (e *tokenEncoder) encode(tokens []string) []rune {
	out := make([]rune, len(tokens))
	for i, tok := range tokens {
		code, ok := e.codes[tok]
		if !ok {
			code = codeFor(len(e.tokens))
			e.codes[tok] = code
			e.tokens = append(e.tokens, tok)
		}
		out[i] = code
	}
	return out
}

func (e *tokenEncoder) decode(runes []rune) string {
	var n int
	for _, r := range runes {
		n += len(e.tokens[indexFor(r)])
	}
	buf := make([]byte, 0, n)
	for _, r := range runes {
		buf = append(buf, e.tokens[indexFor(r)]...)
	}
	return string(buf)
}

func codeFor(i int) rune {
	if i < privateUseSize {
		return rune(privateUseStart + i)
	}
	return rune(supplementStart + i - privateUseSize)
}

func indexFor(r rune) int {
	if r >= privateUseStart && r < privateUseStart+privateUseSize {
		return int(r - privateUseStart)
	}
	return int(r-supplementStart) + privateUseSize
}
