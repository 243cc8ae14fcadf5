package textdiff

import (
	"slices"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// RegionKind tells merged regions apart.
type RegionKind string

const (
	RegionOK       RegionKind = "ok"
	RegionConflict RegionKind = "conflict"
)

// Region is one stretch of a three-way merge result.
//
// An ok region carries the merged Lines. A conflict region carries the
// competing lines of each side together with the base lines they replace,
// each with its 0-based starting line offset in its own input.
type Region struct {
	Kind  RegionKind `json:"kind"`
	Lines []string   `json:"lines,omitempty"`

	Ours        []string `json:"ours,omitempty"`
	OursStart   int      `json:"ours_start"`
	Base        []string `json:"base,omitempty"`
	BaseStart   int      `json:"base_start"`
	Theirs      []string `json:"theirs,omitempty"`
	TheirsStart int      `json:"theirs_start"`
}

// MergeResult is the outcome of a three-way text merge.
type MergeResult struct {
	Regions   []Region `json:"regions"`
	Conflicts int      `json:"conflicts"`
}

// Clean reports whether the merge produced no conflict region.
func (m MergeResult) Clean() bool {
	return m.Conflicts == 0
}

// Text joins the merged lines. It is only meaningful for a clean merge.
func (m MergeResult) Text() string {
	var b strings.Builder
	for _, r := range m.Regions {
		for _, l := range r.Lines {
			b.WriteString(l)
		}
	}
	return b.String()
}

// MergeText performs a line-based three-way merge of ours and theirs
// against their common ancestor base.
func MergeText(base, ours, theirs string) MergeResult {
	regions := Merge3(SplitLines(base), SplitLines(ours), SplitLines(theirs))
	res := MergeResult{Regions: regions}
	for _, r := range regions {
		if r.Kind == RegionConflict {
			res.Conflicts++
		}
	}
	return res
}

// SplitLines splits s after every newline, keeping the terminators so the
// lines join back to s exactly.
func SplitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

type side int

const (
	sideOurs side = iota
	sideTheirs
)

// hunk is a change of one side relative to base.
type hunk struct {
	side      side
	baseStart int
	baseLen   int
	sideStart int
	sideLen   int
}

func changeHunks(base, other []string, s side) []hunk {
	m := difflib.NewMatcherWithJunk(base, other, false, nil)
	var hunks []hunk
	for _, op := range m.GetOpCodes() {
		if op.Tag == 'e' {
			continue
		}
		hunks = append(hunks, hunk{
			side:      s,
			baseStart: op.I1,
			baseLen:   op.I2 - op.I1,
			sideStart: op.J1,
			sideLen:   op.J2 - op.J1,
		})
	}
	return hunks
}

// Merge3 merges the line slices ours and theirs against base.
//
// Changes made by only one side are taken. Changes from both sides that
// touch the same base lines form a conflict region, unless both sides made
// the identical change. Adjacent ok regions are coalesced.
func Merge3(base, ours, theirs []string) []Region {
	hunks := append(changeHunks(base, ours, sideOurs), changeHunks(base, theirs, sideTheirs)...)
	sort.SliceStable(hunks, func(i, j int) bool {
		if hunks[i].baseStart != hunks[j].baseStart {
			return hunks[i].baseStart < hunks[j].baseStart
		}
		return hunks[i].side < hunks[j].side
	})

	var out []Region
	emitOK := func(lines []string) {
		if len(lines) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Kind == RegionOK {
			out[n-1].Lines = append(out[n-1].Lines, lines...)
			return
		}
		out = append(out, Region{Kind: RegionOK, Lines: append([]string(nil), lines...)})
	}

	offset := 0
	for i := 0; i < len(hunks); {
		first := hunks[i]
		regionStart := first.baseStart
		regionEnd := first.baseStart + first.baseLen
		group := []hunk{first}
		for i++; i < len(hunks) && hunks[i].baseStart <= regionEnd; i++ {
			if end := hunks[i].baseStart + hunks[i].baseLen; end > regionEnd {
				regionEnd = end
			}
			group = append(group, hunks[i])
		}

		emitOK(base[offset:regionStart])

		if len(group) == 1 {
			h := group[0]
			src := ours
			if h.side == sideTheirs {
				src = theirs
			}
			emitOK(src[h.sideStart : h.sideStart+h.sideLen])
		} else {
			oursStart, oursEnd := sideRange(group, sideOurs, regionStart, regionEnd, len(base), len(ours))
			theirsStart, theirsEnd := sideRange(group, sideTheirs, regionStart, regionEnd, len(base), len(theirs))
			switch {
			case oursStart < 0:
				emitOK(theirs[theirsStart:theirsEnd])
				offset = regionEnd
				continue
			case theirsStart < 0:
				emitOK(ours[oursStart:oursEnd])
				offset = regionEnd
				continue
			}
			o := ours[oursStart:oursEnd]
			t := theirs[theirsStart:theirsEnd]
			if slices.Equal(o, t) {
				emitOK(o)
			} else {
				out = append(out, Region{
					Kind:        RegionConflict,
					Ours:        append([]string(nil), o...),
					OursStart:   oursStart,
					Base:        append([]string(nil), base[regionStart:regionEnd]...),
					BaseStart:   regionStart,
					Theirs:      append([]string(nil), t...),
					TheirsStart: theirsStart,
				})
			}
		}
		offset = regionEnd
	}
	emitOK(base[offset:])
	return out
}

// sideRange maps the base region [regionStart, regionEnd) onto one side,
// extending the side's own hunks by the base lines they do not cover.
func sideRange(group []hunk, s side, regionStart, regionEnd, baseLen, sideLen int) (int, int) {
	lo, hi := sideLen, -1
	baseLo, baseHi := baseLen, -1
	found := false
	for _, h := range group {
		if h.side != s {
			continue
		}
		found = true
		lo = min(lo, h.sideStart)
		hi = max(hi, h.sideStart+h.sideLen)
		baseLo = min(baseLo, h.baseStart)
		baseHi = max(baseHi, h.baseStart+h.baseLen)
	}
	if !found {
		return -1, -1
	}
	return lo + (regionStart - baseLo), hi + (regionEnd - baseHi)
}

// Render writes the merge result with git-style conflict markers.
func Render(regions []Region, oursLabel, theirsLabel string) string {
	var b strings.Builder
	writeLines := func(lines []string) {
		for _, l := range lines {
			b.WriteString(l)
		}
		if n := len(lines); n > 0 && !strings.HasSuffix(lines[n-1], "\n") {
			b.WriteByte('\n')
		}
	}
	for _, r := range regions {
		if r.Kind == RegionOK {
			for _, l := range r.Lines {
				b.WriteString(l)
			}
			continue
		}
		if s := b.String(); s != "" && !strings.HasSuffix(s, "\n") {
			b.WriteByte('\n')
		}
		b.WriteString("<<<<<<< " + oursLabel + "\n")
		writeLines(r.Ours)
		b.WriteString("=======\n")
		writeLines(r.Theirs)
		b.WriteString(">>>>>>> " + theirsLabel + "\n")
	}
	return b.String()
}
