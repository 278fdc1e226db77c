package mirror

import (
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/mirrorctl/pacmirror/internal/pacdb"
)

// validatePath validates that a path is safe for use within a Tree.
// It prevents directory traversal attacks by checking for:
// 1. Parent directory references (..)
// 2. Absolute paths
// Returns an error if the path is unsafe.
func validatePath(p string) error {
	cleanPath := path.Clean(p)

	for _, elem := range strings.Split(cleanPath, "/") {
		if elem == ".." {
			return errors.New("unsafe path (contains directory traversal): " + p)
		}
	}

	if path.IsAbs(cleanPath) || filepath.IsAbs(p) {
		return errors.New("unsafe path (absolute path not allowed): " + p)
	}

	return nil
}

// Tree is a directory tree managed by pacmirror: the package cache or
// the extracted databases.
//
// Every listing, stat, read and removal the engine performs on these
// trees goes through Tree, so a billy in-memory filesystem can stand in
// for the disk.  Paths are slash-separated and relative to the root.
type Tree struct {
	root string
	fs   billy.Filesystem
}

// NewTree returns a Tree rooted at the host directory root.
func NewTree(root string) *Tree {
	root = filepath.Clean(root)
	return &Tree{root: root, fs: osfs.New(root)}
}

// NewTreeFS returns a Tree backed by fs.  root is reported by Path and
// should be where fs lives on the host, if anywhere.
func NewTreeFS(root string, fs billy.Filesystem) *Tree {
	return &Tree{root: filepath.Clean(root), fs: fs}
}

// Root returns the host directory of the tree.
func (t *Tree) Root() string {
	return t.root
}

// Path returns the host path of a tree-relative path.
func (t *Tree) Path(rel string) string {
	return filepath.Join(t.root, filepath.FromSlash(rel))
}

// List returns the sorted names of the entries in dir.
func (t *Tree) List(dir string) ([]string, error) {
	infos, err := t.fs.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	sort.Strings(names)
	return names, nil
}

// IsDir returns true if p exists and is a directory.
func (t *Tree) IsDir(p string) bool {
	fi, err := t.fs.Stat(p)
	return err == nil && fi.IsDir()
}

// Exists returns true if p exists.
func (t *Tree) Exists(p string) bool {
	_, err := t.fs.Stat(p)
	return err == nil
}

// ReadFile returns the contents of p.
func (t *Tree) ReadFile(p string) ([]byte, error) {
	return util.ReadFile(t.fs, p)
}

// MkdirAll creates dir and its parents.
func (t *Tree) MkdirAll(dir string) error {
	return t.fs.MkdirAll(dir, 0755)
}

// RemoveAll removes p and anything it contains.
func (t *Tree) RemoveAll(p string) error {
	if p == "" || p == "." || p == "/" {
		return errors.New("refusing to remove the tree root")
	}
	return util.RemoveAll(t.fs, p)
}

// Rename moves from to to.
func (t *Tree) Rename(from, to string) error {
	return t.fs.Rename(from, to)
}

// Create creates or truncates p with mode perm, creating parents.
func (t *Tree) Create(p string, perm os.FileMode) (io.WriteCloser, error) {
	if dir := path.Dir(p); dir != "." {
		if err := t.fs.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	return t.fs.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
}

// pairDir returns the tree-relative directory of a repo/arch pair.
func pairDir(repo pacdb.RepoID, arch pacdb.Arch) string {
	return path.Join(string(repo), string(arch))
}
