package pacdb

import "log/slog"

// Index maps package names to the version-release found in an
// extracted database.
type Index struct {
	versions map[PackageName]string
}

// NewIndex builds an Index from database directory names.
// Names that do not split into name, version and release are skipped.
func NewIndex(entries []string) *Index {
	idx := &Index{versions: make(map[PackageName]string, len(entries))}
	for _, e := range entries {
		name, version, ok := SplitEntry(e)
		if !ok {
			slog.Debug("ignoring database entry", "entry", e)
			continue
		}
		idx.versions[name] = version
	}
	return idx
}

// Version returns the version-release of name.
func (idx *Index) Version(name PackageName) (string, bool) {
	v, ok := idx.versions[name]
	return v, ok
}

// Len returns the number of packages in the index.
func (idx *Index) Len() int {
	return len(idx.versions)
}
