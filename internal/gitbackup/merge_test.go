package gitbackup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mergeFixture prepares a bucket with branch main holding base and a fork
// named feature.
func mergeFixture(t *testing.T, base map[string][]byte) (*Backuper, *Repository) {
	t.Helper()
	b := NewBackuper(newTestSource(), NewBuckets(""), WithNow(fixedClock))
	repo, err := b.Buckets().Repo(b.Bucket())
	require.NoError(t, err)

	_, _, err = repo.Commit("main", base, "base", fixedNow)
	require.NoError(t, err)
	_, err = b.Fork(context.Background(), "main", "feature")
	require.NoError(t, err)
	return b, repo
}

func commitFiles(t *testing.T, repo *Repository, ref string, files map[string][]byte) string {
	t.Helper()
	h, changed, err := repo.Commit(ref, files, "update "+ref, fixedNow.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, changed)
	return h.String()
}

func TestMergeBranches_Clean(t *testing.T) {
	b, repo := mergeFixture(t, map[string][]byte{
		"f.txt": []byte("a\nb\nc\nd\ne\n"),
		"g.txt": []byte("keep\n"),
	})
	oursTip := commitFiles(t, repo, "main", map[string][]byte{
		"f.txt": []byte("a\nB\nc\nd\ne\n"),
		"g.txt": []byte("keep\n"),
	})
	theirsTip := commitFiles(t, repo, "feature", map[string][]byte{
		"f.txt": []byte("a\nb\nc\nD\ne\n"),
		"g.txt": []byte("keep\n"),
		"h.txt": []byte("new\n"),
	})

	report, err := b.MergeBranches(context.Background(), "main", "feature")
	require.NoError(t, err)
	assert.Equal(t, MergeCommitted, report.Status)
	assert.Empty(t, report.Conflicts)

	info, err := repo.Log("main")
	require.NoError(t, err)
	assert.Equal(t, report.Commit, info[0].Hash)
	assert.Equal(t, []string{oursTip, theirsTip}, info[0].Parents)

	head, err := repo.Head("main")
	require.NoError(t, err)
	files, err := repo.ReadTree(head)
	require.NoError(t, err)
	assert.Equal(t, "a\nB\nc\nD\ne\n", string(files["f.txt"]))
	assert.Equal(t, "new\n", string(files["h.txt"]))
	assert.Equal(t, "keep\n", string(files["g.txt"]))
}

func TestMergeBranches_ConflictLeavesOursUntouched(t *testing.T) {
	b, repo := mergeFixture(t, map[string][]byte{"f.txt": []byte("head\ntitle: A\ntail\n")})
	oursTip := commitFiles(t, repo, "main", map[string][]byte{"f.txt": []byte("head\ntitle: B\ntail\n")})
	commitFiles(t, repo, "feature", map[string][]byte{"f.txt": []byte("head\ntitle: C\ntail\n")})

	report, err := b.MergeBranches(context.Background(), "main", "feature")
	require.NoError(t, err)
	assert.Equal(t, MergeConflicted, report.Status)
	require.Len(t, report.Conflicts, 1)

	c := report.Conflicts[0]
	assert.Equal(t, "f.txt", c.Path)
	assert.Equal(t, "content", c.Kind)
	require.Len(t, c.Regions, 1)
	assert.Equal(t, []string{"title: A\n"}, c.Regions[0].Base)
	assert.Equal(t, []string{"title: B\n"}, c.Regions[0].Ours)
	assert.Equal(t, []string{"title: C\n"}, c.Regions[0].Theirs)
	assert.Contains(t, c.Rendered, "<<<<<<< ours\n")

	head, err := repo.Head("main")
	require.NoError(t, err)
	assert.Equal(t, oursTip, head.String())
}

func TestMergeBranches_DeleteModify(t *testing.T) {
	b, repo := mergeFixture(t, map[string][]byte{
		"f.txt": []byte("x\n"),
		"g.txt": []byte("g\n"),
	})
	commitFiles(t, repo, "main", map[string][]byte{"f.txt": []byte("x\n")})
	commitFiles(t, repo, "feature", map[string][]byte{
		"f.txt": []byte("x\n"),
		"g.txt": []byte("changed\n"),
	})

	report, err := b.MergeBranches(context.Background(), "main", "feature")
	require.NoError(t, err)
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, FileConflict{Path: "g.txt", Kind: "delete_modify"}, report.Conflicts[0])
}

func TestMergeBranches_FastForwardAndUpToDate(t *testing.T) {
	b, repo := mergeFixture(t, map[string][]byte{"f.txt": []byte("one\n")})
	theirsTip := commitFiles(t, repo, "feature", map[string][]byte{"f.txt": []byte("two\n")})

	report, err := b.MergeBranches(context.Background(), "main", "feature")
	require.NoError(t, err)
	assert.Equal(t, MergeFastForward, report.Status)
	head, err := repo.Head("main")
	require.NoError(t, err)
	assert.Equal(t, theirsTip, head.String())

	report, err = b.MergeBranches(context.Background(), "main", "feature")
	require.NoError(t, err)
	assert.Equal(t, MergeUpToDate, report.Status)
}

func TestMergeBranches_MissingBranch(t *testing.T) {
	b, _ := mergeFixture(t, map[string][]byte{"f.txt": []byte("one\n")})
	_, err := b.MergeBranches(context.Background(), "main", "nope")
	assert.ErrorIs(t, err, ErrNoBranch)
}

func TestMergeBranches_UnrelatedHistories(t *testing.T) {
	b, repo := mergeFixture(t, map[string][]byte{"f.txt": []byte("one\n")})
	commitFiles(t, repo, "orphan", map[string][]byte{"f.txt": []byte("other\n")})

	_, err := b.MergeBranches(context.Background(), "main", "orphan")
	assert.ErrorIs(t, err, ErrUnrelatedHistories)
}

func TestScheduler_AddRunRemove(t *testing.T) {
	b := NewBackuper(newTestSource(), NewBuckets(""), WithNow(fixedClock))
	s := NewScheduler(b, "scheduler")

	require.Error(t, s.Add("not a cron spec", "wb_1"))
	require.NoError(t, s.Add("@every 1h", "wb_1"))
	require.NoError(t, s.Add("*/5 * * * *", "wb_1"), "re-adding replaces the schedule")

	s.Start()
	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "*/5 * * * *", entries[0].Spec)
	assert.False(t, entries[0].Next.IsZero())

	require.NoError(t, s.RunNow("wb_1"))
	repo, err := b.Buckets().Repo(DefaultBucket)
	require.NoError(t, err)
	_, err = repo.Head(WorkbookRef("wb_1"))
	require.NoError(t, err)

	assert.Error(t, s.RunNow("wb_2"))
	assert.True(t, s.Remove("wb_1"))
	assert.False(t, s.Remove("wb_1"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
