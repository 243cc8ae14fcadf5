package gitbackup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/roach88/scratchpad/internal/metrics"
	"github.com/roach88/scratchpad/internal/textdiff"
)

// MergeStatus is the outcome of a branch merge.
type MergeStatus string

const (
	MergeUpToDate    MergeStatus = "up_to_date"
	MergeFastForward MergeStatus = "fast_forward"
	MergeCommitted   MergeStatus = "merged"
	MergeConflicted  MergeStatus = "conflicted"
)

// ErrUnrelatedHistories is returned when two branches share no ancestor.
var ErrUnrelatedHistories = errors.New("branches have no common ancestor")

// FileConflict describes one file that could not be merged.
//
// A content conflict carries the conflict regions of the line merge and the
// file rendered with conflict markers. A delete/modify conflict has neither.
type FileConflict struct {
	Path     string            `json:"path"`
	Kind     string            `json:"kind"` // "content" or "delete_modify"
	Regions  []textdiff.Region `json:"regions,omitempty"`
	Rendered string            `json:"rendered,omitempty"`
}

// MergeReport is the result of MergeBranches.
type MergeReport struct {
	Status    MergeStatus    `json:"status"`
	Ours      string         `json:"ours"`
	Theirs    string         `json:"theirs"`
	Base      string         `json:"base,omitempty"`
	Commit    string         `json:"commit,omitempty"`
	Conflicts []FileConflict `json:"conflicts,omitempty"`
}

// MergeBranches merges branch theirs into branch ours of the backup bucket.
//
// The merge runs under the write lock of ours. A merge commit with both tips
// as parents is written only when every file merged cleanly; otherwise ours
// is left untouched and the conflicts are returned with status conflicted.
func (b *Backuper) MergeBranches(ctx context.Context, ours, theirs string) (MergeReport, error) {
	repo, err := b.buckets.Repo(b.bucket)
	if err != nil {
		return MergeReport{}, err
	}
	var report MergeReport
	err = b.lock.Do(ctx, LockKey{Bucket: b.bucket, Ref: ours}, func(ctx context.Context) error {
		var err error
		report, err = b.merge(repo, ours, theirs)
		return err
	})
	if err != nil {
		return MergeReport{}, err
	}
	slog.Info("branches merged", "bucket", b.bucket, "ours", ours, "theirs", theirs,
		"status", report.Status, "conflicts", len(report.Conflicts))
	return report, nil
}

func (b *Backuper) merge(repo *Repository, ours, theirs string) (MergeReport, error) {
	oursTip, err := repo.Head(ours)
	if err != nil {
		return MergeReport{}, err
	}
	theirsTip, err := repo.Head(theirs)
	if err != nil {
		return MergeReport{}, err
	}
	report := MergeReport{Ours: ours, Theirs: theirs}
	if oursTip == theirsTip {
		report.Status = MergeUpToDate
		report.Commit = oursTip.String()
		return report, nil
	}

	base, found, err := repo.MergeBase(oursTip, theirsTip)
	if err != nil {
		return MergeReport{}, err
	}
	if !found {
		return MergeReport{}, fmt.Errorf("merge %s into %s: %w", theirs, ours, ErrUnrelatedHistories)
	}
	report.Base = base.String()

	switch base {
	case theirsTip:
		report.Status = MergeUpToDate
		report.Commit = oursTip.String()
		return report, nil
	case oursTip:
		if err := repo.SetBranch(ours, theirsTip); err != nil {
			return MergeReport{}, err
		}
		report.Status = MergeFastForward
		report.Commit = theirsTip.String()
		return report, nil
	}

	merged, conflicts, err := mergeTrees(repo, base, oursTip, theirsTip)
	if err != nil {
		return MergeReport{}, err
	}
	if len(conflicts) > 0 {
		metrics.MergeConflicts.Add(float64(len(conflicts)))
		report.Status = MergeConflicted
		report.Conflicts = conflicts
		return report, nil
	}

	msg := fmt.Sprintf("Merge branch %s into %s\n", theirs, ours)
	h, err := repo.CommitMerge(ours, theirsTip, merged, msg, b.now().UTC())
	if err != nil {
		return MergeReport{}, err
	}
	report.Status = MergeCommitted
	report.Commit = h.String()
	return report, nil
}

func mergeTrees(repo *Repository, base, ours, theirs plumbing.Hash) (map[string][]byte, []FileConflict, error) {
	baseFiles, err := repo.ReadTree(base)
	if err != nil {
		return nil, nil, err
	}
	oursFiles, err := repo.ReadTree(ours)
	if err != nil {
		return nil, nil, err
	}
	theirsFiles, err := repo.ReadTree(theirs)
	if err != nil {
		return nil, nil, err
	}

	paths := map[string]struct{}{}
	for _, m := range []map[string][]byte{baseFiles, oursFiles, theirsFiles} {
		for p := range m {
			paths[p] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	merged := map[string][]byte{}
	var conflicts []FileConflict
	for _, p := range sorted {
		data, keep, conflict := mergeFile(p, fileAt(baseFiles, p), fileAt(oursFiles, p), fileAt(theirsFiles, p))
		if conflict != nil {
			conflicts = append(conflicts, *conflict)
			continue
		}
		if keep {
			merged[p] = data
		}
	}
	return merged, conflicts, nil
}

// version is a file's content at one commit; present is false when the file
// does not exist there.
type version struct {
	data    []byte
	present bool
}

func fileAt(files map[string][]byte, p string) version {
	data, ok := files[p]
	return version{data: data, present: ok}
}

func (v version) same(o version) bool {
	return v.present == o.present && bytes.Equal(v.data, o.data)
}

// mergeFile merges one path. keep is false when the merged result deletes
// the file.
func mergeFile(p string, base, ours, theirs version) (data []byte, keep bool, conflict *FileConflict) {
	switch {
	case ours.same(theirs):
		return ours.data, ours.present, nil
	case ours.same(base):
		return theirs.data, theirs.present, nil
	case theirs.same(base):
		return ours.data, ours.present, nil
	case !ours.present || !theirs.present:
		return nil, false, &FileConflict{Path: p, Kind: "delete_modify"}
	}

	res := textdiff.MergeText(string(base.data), string(ours.data), string(theirs.data))
	if res.Clean() {
		return []byte(res.Text()), true, nil
	}
	var regions []textdiff.Region
	for _, r := range res.Regions {
		if r.Kind == textdiff.RegionConflict {
			regions = append(regions, r)
		}
	}
	return nil, false, &FileConflict{
		Path:     p,
		Kind:     "content",
		Regions:  regions,
		Rendered: textdiff.Render(res.Regions, "ours", "theirs"),
	}
}

// Fork creates branch to at the tip of branch from, replacing to if it
// already exists.
func (b *Backuper) Fork(ctx context.Context, from, to string) (string, error) {
	repo, err := b.buckets.Repo(b.bucket)
	if err != nil {
		return "", err
	}
	var tip plumbing.Hash
	err = b.lock.Do(ctx, LockKey{Bucket: b.bucket, Ref: to}, func(context.Context) error {
		var err error
		if tip, err = repo.Head(from); err != nil {
			return err
		}
		return repo.SetBranch(to, tip)
	})
	if err != nil {
		return "", err
	}
	return tip.String(), nil
}
