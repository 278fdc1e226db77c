package mirror

import (
	"bytes"
	"log/slog"
	"path"
	"sort"

	"github.com/mirrorctl/pacmirror/internal/pacdb"
)

// Resolution is the outcome of resolving selections against the
// extracted databases.
type Resolution struct {
	// Packages maps repo → arch → name → resolved package.
	Packages map[pacdb.RepoID]map[pacdb.Arch]map[pacdb.PackageName]pacdb.Package

	// Unusable holds pairs without an extracted database.
	Unusable map[Key]bool

	// Dropped counts requests that could not be resolved.
	Dropped int
}

func newResolution() *Resolution {
	return &Resolution{
		Packages: make(map[pacdb.RepoID]map[pacdb.Arch]map[pacdb.PackageName]pacdb.Package),
		Unusable: make(map[Key]bool),
	}
}

func (r *Resolution) add(k Key, p pacdb.Package) {
	archs, ok := r.Packages[k.Repo]
	if !ok {
		archs = make(map[pacdb.Arch]map[pacdb.PackageName]pacdb.Package)
		r.Packages[k.Repo] = archs
	}
	pkgs, ok := archs[k.Arch]
	if !ok {
		pkgs = make(map[pacdb.PackageName]pacdb.Package)
		archs[k.Arch] = pkgs
	}
	pkgs[p.Name] = p
}

// Get returns the resolved packages of k sorted by name.
func (r *Resolution) Get(k Key) []pacdb.Package {
	m := r.Packages[k.Repo][k.Arch]
	pkgs := make([]pacdb.Package, 0, len(m))
	for _, p := range m {
		pkgs = append(pkgs, p)
	}
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Name < pkgs[j].Name })
	return pkgs
}

// Filenames returns the set of archive filenames resolved for k.
func (r *Resolution) Filenames(k Key) map[string]struct{} {
	set := make(map[string]struct{}, len(r.Packages[k.Repo][k.Arch]))
	for _, p := range r.Packages[k.Repo][k.Arch] {
		set[p.Filename] = struct{}{}
	}
	return set
}

// Len returns the number of resolved packages.
func (r *Resolution) Len() int {
	n := 0
	for _, archs := range r.Packages {
		for _, pkgs := range archs {
			n += len(pkgs)
		}
	}
	return n
}

// PackageResolver cross-references requested package names with the
// extracted databases.
type PackageResolver struct {
	db *Tree
}

// NewPackageResolver creates a PackageResolver reading db.
func NewPackageResolver(db *Tree) *PackageResolver {
	return &PackageResolver{db: db}
}

// Resolve resolves every selection.  Unresolvable requests are logged
// and dropped; nothing here is fatal.
func (r *PackageResolver) Resolve(sel Selections) *Resolution {
	res := newResolution()
	for _, k := range sel.Keys() {
		r.resolvePair(k, sel.Names(k), res)
	}
	return res
}

func (r *PackageResolver) resolvePair(k Key, names []pacdb.PackageName, res *Resolution) {
	slog.Debug("reading database", "repo", k.Repo, "arch", k.Arch)

	dir := pairDir(k.Repo, k.Arch)
	if !r.db.IsDir(dir) {
		slog.Error("local repo not found", "repo", k.Repo, "arch", k.Arch, "dropped", len(names))
		res.Unusable[k] = true
		res.Dropped += len(names)
		return
	}

	entries, err := r.db.List(dir)
	if err != nil {
		slog.Error("cannot read local repo", "repo", k.Repo, "arch", k.Arch, "error", err)
		res.Unusable[k] = true
		res.Dropped += len(names)
		return
	}
	idx := pacdb.NewIndex(entries)
	slog.Debug("indexed database", "pair", k.String(), "packages", idx.Len())

	for _, name := range names {
		p, ok := r.resolvePackage(dir, idx, name)
		if !ok {
			res.Dropped++
			continue
		}
		res.add(k, p)
	}
}

func (r *PackageResolver) resolvePackage(dir string, idx *pacdb.Index, name pacdb.PackageName) (pacdb.Package, bool) {
	version, ok := idx.Version(name)
	if !ok {
		slog.Warn("package not found in repo", "package", name, "path", dir)
		return pacdb.Package{}, false
	}

	p := pacdb.Package{Name: name, Version: version}
	descPath := path.Join(dir, p.Entry(), pacdb.DescFile)
	data, err := r.db.ReadFile(descPath)
	if err != nil {
		slog.Warn("cannot read package desc", "package", name, "path", descPath, "error", err)
		return pacdb.Package{}, false
	}
	desc, err := pacdb.ParseDesc(bytes.NewReader(data))
	if err != nil {
		slog.Warn("malformed package desc", "package", name, "path", descPath, "error", err)
		return pacdb.Package{}, false
	}
	p.Filename = desc.Filename
	p.Size = desc.Size
	return p, true
}
