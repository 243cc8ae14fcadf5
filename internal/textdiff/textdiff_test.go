package textdiff

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffWords_ReplacedWord(t *testing.T) {
	got := DiffWords("The cat sat", "The dog sat")
	assert.Equal(t, []Segment{
		{Value: "The "},
		{Value: "cat", Removed: true},
		{Value: "dog", Added: true},
		{Value: " sat"},
	}, got)
}

func TestDiffWords_EmptyInputs(t *testing.T) {
	assert.Nil(t, DiffWords("", ""))
	assert.Equal(t, []Segment{{Value: "new text", Added: true}}, DiffWords("", "new text"))
	assert.Equal(t, []Segment{{Value: "old", Removed: true}}, DiffWords("old", ""))
	assert.Equal(t, []Segment{{Value: "same"}}, DiffWords("same", "same"))
}

func TestDiffValues_NilIsEmpty(t *testing.T) {
	assert.Equal(t, []Segment{{Value: "x", Added: true}}, DiffValues(nil, "x"))
	assert.Equal(t, []Segment{{Value: "3", Removed: true}, {Value: "4", Added: true}}, DiffValues(int64(3), int64(4)))
}

func TestDiffWords_WhitespaceIsSignificant(t *testing.T) {
	got := DiffWords("a b", "a  b")
	assert.Equal(t, []Segment{
		{Value: "a"},
		{Value: " ", Removed: true},
		{Value: "  ", Added: true},
		{Value: "b"},
	}, got)
}

func TestDiffWords_RoundTrip(t *testing.T) {
	pairs := [][2]string{
		{"The quick brown fox", "The slow brown dog jumps"},
		{"line one\nline two\n", "line one\nline 2\n"},
		{"héllo wörld", "hello wörld!"},
		{"", "only added"},
	}
	for _, p := range pairs {
		segs := DiffWords(p[0], p[1])
		assert.Equal(t, p[0], Apply(segs, false))
		assert.Equal(t, p[1], Apply(segs, true))
		for i := 1; i < len(segs); i++ {
			same := segs[i].Added == segs[i-1].Added && segs[i].Removed == segs[i-1].Removed
			assert.False(t, same, "adjacent segments of the same kind are merged")
			assert.False(t, segs[i-1].Added && segs[i].Removed, "removed text precedes added text")
		}
	}
}

func TestDiffWords_ManyDistinctTokens(t *testing.T) {
	var a, b strings.Builder
	for i := 0; i < 7000; i++ {
		fmt.Fprintf(&a, "w%d ", i)
		fmt.Fprintf(&b, "w%d ", i)
	}
	b.WriteString("tail")

	segs := DiffWords(a.String(), b.String())
	require.Len(t, segs, 2)
	assert.Equal(t, Segment{Value: "tail", Added: true}, segs[1])
}

func TestDiffWords_Deterministic(t *testing.T) {
	a := DiffWords("alpha beta gamma", "alpha delta gamma epsilon")
	b := DiffWords("alpha beta gamma", "alpha delta gamma epsilon")
	assert.Equal(t, a, b)
}

func TestMergeText_NonOverlapping(t *testing.T) {
	base := "a\nb\nc\nd\ne\n"
	ours := "a\nB\nc\nd\ne\n"
	theirs := "a\nb\nc\nD\ne\n"

	res := MergeText(base, ours, theirs)
	require.True(t, res.Clean())
	assert.Equal(t, "a\nB\nc\nD\ne\n", res.Text())
	require.Len(t, res.Regions, 1, "ok regions are coalesced")
}

func TestMergeText_Conflict(t *testing.T) {
	base := "head\ntitle: A\ntail\n"
	ours := "head\ntitle: B\ntail\n"
	theirs := "head\ntitle: C\ntail\n"

	res := MergeText(base, ours, theirs)
	require.Equal(t, 1, res.Conflicts)
	require.Len(t, res.Regions, 3)

	c := res.Regions[1]
	assert.Equal(t, RegionConflict, c.Kind)
	assert.Equal(t, []string{"title: B\n"}, c.Ours)
	assert.Equal(t, []string{"title: A\n"}, c.Base)
	assert.Equal(t, []string{"title: C\n"}, c.Theirs)
	assert.Equal(t, 1, c.OursStart)
	assert.Equal(t, 1, c.BaseStart)
	assert.Equal(t, 1, c.TheirsStart)

	assert.Equal(t, "head\n<<<<<<< ours\ntitle: B\n=======\ntitle: C\n>>>>>>> theirs\ntail\n",
		Render(res.Regions, "ours", "theirs"))
}

func TestMergeText_IdenticalChangeIsNotAConflict(t *testing.T) {
	res := MergeText("a\nb\n", "a\nX\n", "a\nX\n")
	assert.True(t, res.Clean())
	assert.Equal(t, "a\nX\n", res.Text())
}

func TestMergeText_OneSided(t *testing.T) {
	res := MergeText("a\nb\n", "a\nb\n", "a\nb\nc\n")
	assert.True(t, res.Clean())
	assert.Equal(t, "a\nb\nc\n", res.Text())

	res = MergeText("a\nb\nc\n", "a\nc\n", "a\nb\nc\n")
	assert.True(t, res.Clean())
	assert.Equal(t, "a\nc\n", res.Text())
}

func TestMergeText_ConflictOffsetsAfterShift(t *testing.T) {
	base := "1\n2\n3\n"
	ours := "0\n1\n2\nours\n"
	theirs := "1\n2\ntheirs\n"

	res := MergeText(base, ours, theirs)
	require.Equal(t, 1, res.Conflicts)
	var c Region
	for _, r := range res.Regions {
		if r.Kind == RegionConflict {
			c = r
		}
	}
	assert.Equal(t, 2, c.BaseStart)
	assert.Equal(t, 3, c.OursStart)
	assert.Equal(t, 2, c.TheirsStart)
	assert.Equal(t, []string{"ours\n"}, c.Ours)
	assert.Equal(t, []string{"theirs\n"}, c.Theirs)
}

func TestSplitLines(t *testing.T) {
	assert.Nil(t, SplitLines(""))
	assert.Equal(t, []string{"a\n", "b"}, SplitLines("a\nb"))
	assert.Equal(t, []string{"a\n", "b\n"}, SplitLines("a\nb\n"))
}
