package gitbackup

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/storage/memory"
)

// Commit identity. Backups are authored by the system, never the requesting
// user; the actor is recorded in the message instead.
const (
	AuthorName  = "Scratchpad Backup"
	AuthorEmail = "backup@scratchpad.local"
)

// ErrNoBranch is returned when a ref has no commits yet.
var ErrNoBranch = errors.New("branch does not exist")

// CommitInfo is the summary of one commit on a branch.
type CommitInfo struct {
	Hash    string    `json:"hash"`
	Parents []string  `json:"parents"`
	Message string    `json:"message"`
	When    time.Time `json:"when"`
}

// Repository is a bare git repository used as a backup bucket.
//
// Object and ref writes are guarded by a mutex so that several refs of the
// same bucket can be written concurrently. Ordering within one ref is the
// caller's job (see WriteLock).
type Repository struct {
	mu   sync.Mutex
	repo *git.Repository
}

// OpenMemory creates an empty in-memory repository.
func OpenMemory() (*Repository, error) {
	r, err := git.Init(memory.NewStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("init memory repository: %w", err)
	}
	return &Repository{repo: r}, nil
}

// Open opens the bare repository at path, creating it if needed.
func Open(path string) (*Repository, error) {
	r, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create repository dir: %w", err)
		}
		r, err = git.PlainInit(path, true)
	}
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", path, err)
	}
	return &Repository{repo: r}, nil
}

func branchRef(ref string) plumbing.ReferenceName {
	return plumbing.NewBranchReferenceName(ref)
}

// Head returns the tip commit hash of ref, or ErrNoBranch.
func (r *Repository) Head(ref string) (plumbing.Hash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.head(ref)
}

func (r *Repository) head(ref string) (plumbing.Hash, error) {
	rf, err := r.repo.Reference(branchRef(ref), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return plumbing.ZeroHash, fmt.Errorf("%s: %w", ref, ErrNoBranch)
	}
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve %s: %w", ref, err)
	}
	return rf.Hash(), nil
}

// Commit writes files as the complete tree of a new commit on ref.
//
// The new commit's parent is the current tip of ref. If the tree is
// identical to the tip's tree no commit is made and the tip hash is
// returned with changed=false.
func (r *Repository) Commit(ref string, files map[string][]byte, message string, when time.Time) (plumbing.Hash, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var parents []plumbing.Hash
	tip, err := r.head(ref)
	switch {
	case err == nil:
		parents = []plumbing.Hash{tip}
	case !errors.Is(err, ErrNoBranch):
		return plumbing.ZeroHash, false, err
	}

	treeHash, err := r.writeTree(files)
	if err != nil {
		return plumbing.ZeroHash, false, err
	}

	if len(parents) == 1 {
		c, err := r.repo.CommitObject(tip)
		if err != nil {
			return plumbing.ZeroHash, false, fmt.Errorf("read tip of %s: %w", ref, err)
		}
		if c.TreeHash == treeHash {
			return tip, false, nil
		}
	}

	h, err := r.writeCommit(ref, treeHash, parents, message, when)
	if err != nil {
		return plumbing.ZeroHash, false, err
	}
	return h, true, nil
}

// CommitMerge records files as a merge of the tips of ours and theirs and
// advances ours to it.
func (r *Repository) CommitMerge(ours string, theirs plumbing.Hash, files map[string][]byte, message string, when time.Time) (plumbing.Hash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tip, err := r.head(ours)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	treeHash, err := r.writeTree(files)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return r.writeCommit(ours, treeHash, []plumbing.Hash{tip, theirs}, message, when)
}

// SetBranch points ref at hash. Used for fast-forward merges.
func (r *Repository) SetBranch(ref string, hash plumbing.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.repo.Storer.SetReference(plumbing.NewHashReference(branchRef(ref), hash)); err != nil {
		return fmt.Errorf("update %s: %w", ref, err)
	}
	return nil
}

func (r *Repository) writeCommit(ref string, tree plumbing.Hash, parents []plumbing.Hash, message string, when time.Time) (plumbing.Hash, error) {
	sig := object.Signature{Name: AuthorName, Email: AuthorEmail, When: when}
	c := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      message,
		TreeHash:     tree,
		ParentHashes: parents,
	}
	obj := r.repo.Storer.NewEncodedObject()
	if err := c.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode commit: %w", err)
	}
	h, err := r.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("store commit: %w", err)
	}
	if err := r.repo.Storer.SetReference(plumbing.NewHashReference(branchRef(ref), h)); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("update %s: %w", ref, err)
	}
	return h, nil
}

// dirNode is an in-progress tree: files at this level plus subdirectories.
type dirNode struct {
	files map[string][]byte
	dirs  map[string]*dirNode
}

func newDirNode() *dirNode {
	return &dirNode{files: map[string][]byte{}, dirs: map[string]*dirNode{}}
}

func (r *Repository) writeTree(files map[string][]byte) (plumbing.Hash, error) {
	root := newDirNode()
	for path, data := range files {
		parts := strings.Split(path, "/")
		node := root
		for _, dir := range parts[:len(parts)-1] {
			if dir == "" {
				return plumbing.ZeroHash, fmt.Errorf("invalid path %q", path)
			}
			child, ok := node.dirs[dir]
			if !ok {
				child = newDirNode()
				node.dirs[dir] = child
			}
			node = child
		}
		name := parts[len(parts)-1]
		if name == "" {
			return plumbing.ZeroHash, fmt.Errorf("invalid path %q", path)
		}
		node.files[name] = data
	}
	return r.writeDir(root)
}

func (r *Repository) writeDir(node *dirNode) (plumbing.Hash, error) {
	entries := make([]object.TreeEntry, 0, len(node.files)+len(node.dirs))
	for name, data := range node.files {
		h, err := r.writeBlob(data)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Regular, Hash: h})
	}
	for name, child := range node.dirs {
		h, err := r.writeDir(child)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: h})
	}
	// git orders tree entries by name, with directories compared as "name/".
	sort.Slice(entries, func(i, j int) bool {
		return entrySortName(entries[i]) < entrySortName(entries[j])
	})

	tree := &object.Tree{Entries: entries}
	obj := r.repo.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode tree: %w", err)
	}
	h, err := r.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("store tree: %w", err)
	}
	return h, nil
}

func entrySortName(e object.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}

func (r *Repository) writeBlob(data []byte) (plumbing.Hash, error) {
	obj := r.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(data)))
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open blob writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return plumbing.ZeroHash, fmt.Errorf("write blob: %w", err)
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("close blob: %w", err)
	}
	h, err := r.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("store blob: %w", err)
	}
	return h, nil
}

// ReadTree returns every file of the commit at hash, keyed by path.
func (r *Repository) ReadTree(hash plumbing.Hash) (map[string][]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", hash, err)
	}
	tree, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("read tree of %s: %w", hash, err)
	}
	files := map[string][]byte{}
	err = tree.Files().ForEach(func(f *object.File) error {
		rd, err := f.Reader()
		if err != nil {
			return err
		}
		defer rd.Close()
		data, err := io.ReadAll(rd)
		if err != nil {
			return err
		}
		files[f.Name] = data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read files of %s: %w", hash, err)
	}
	return files, nil
}

// Log returns the commits reachable from ref, newest first, following first
// parents only.
func (r *Repository) Log(ref string) ([]CommitInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tip, err := r.head(ref)
	if err != nil {
		return nil, err
	}
	var out []CommitInfo
	for h := tip; !h.IsZero(); {
		c, err := r.repo.CommitObject(h)
		if err != nil {
			return nil, fmt.Errorf("read commit %s: %w", h, err)
		}
		out = append(out, commitInfo(c))
		h = plumbing.ZeroHash
		if len(c.ParentHashes) > 0 {
			h = c.ParentHashes[0]
		}
	}
	return out, nil
}

func commitInfo(c *object.Commit) CommitInfo {
	parents := make([]string, len(c.ParentHashes))
	for i, p := range c.ParentHashes {
		parents[i] = p.String()
	}
	return CommitInfo{
		Hash:    c.Hash.String(),
		Parents: parents,
		Message: c.Message,
		When:    c.Committer.When,
	}
}

// MergeBase returns the best common ancestor of a and b. found is false when
// the histories are unrelated.
func (r *Repository) MergeBase(a, b plumbing.Hash) (base plumbing.Hash, found bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ca, err := r.repo.CommitObject(a)
	if err != nil {
		return plumbing.ZeroHash, false, fmt.Errorf("read commit %s: %w", a, err)
	}
	cb, err := r.repo.CommitObject(b)
	if err != nil {
		return plumbing.ZeroHash, false, fmt.Errorf("read commit %s: %w", b, err)
	}
	bases, err := ca.MergeBase(cb)
	if err != nil {
		return plumbing.ZeroHash, false, fmt.Errorf("merge base of %s and %s: %w", a, b, err)
	}
	if len(bases) == 0 {
		return plumbing.ZeroHash, false, nil
	}
	return bases[0].Hash, true, nil
}

// Branches lists branch names, sorted.
func (r *Repository) Branches() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	iter, err := r.repo.Storer.IterReferences()
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	var names []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if ref.Name().IsBranch() {
			names = append(names, ref.Name().Short())
		}
		return nil
	})
	if err != nil && !errors.Is(err, storer.ErrStop) {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Buckets hands out one repository per bucket name. With an empty root all
// repositories live in memory; otherwise each bucket is a bare repository
// under root.
type Buckets struct {
	root string

	mu    sync.Mutex
	repos map[string]*Repository
}

// NewBuckets creates a bucket table rooted at root.
func NewBuckets(root string) *Buckets {
	return &Buckets{root: root, repos: map[string]*Repository{}}
}

// Repo returns the repository of bucket, opening it on first use.
func (b *Buckets) Repo(bucket string) (*Repository, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return nil, fmt.Errorf("invalid bucket name %q", bucket)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if r, ok := b.repos[bucket]; ok {
		return r, nil
	}
	var (
		r   *Repository
		err error
	)
	if b.root == "" {
		r, err = OpenMemory()
	} else {
		r, err = Open(filepath.Join(b.root, bucket+".git"))
	}
	if err != nil {
		return nil, err
	}
	b.repos[bucket] = r
	return r, nil
}
