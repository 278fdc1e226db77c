// Package pacdb reads the pacman repository database format.
//
// An extracted database holds one directory per package named
// <name>-<version>-<release>.  Each directory has a "desc" file whose
// second line is the package archive filename and in which the line
// following "%CSIZE%" is the compressed size in bytes.
package pacdb

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	// DescFile is the metadata file inside each package entry.
	DescFile = "desc"

	csizeMarker = "%CSIZE%"
)

// RepoID identifies a repository, e.g. "core".
type RepoID string

// Arch is a target platform tag, e.g. "x86_64".
type Arch string

// PackageName is a package name without version, e.g. "bash".
type PackageName string

// DBFile returns the filename of the repository database, "<repo>.db".
func (r RepoID) DBFile() string {
	return string(r) + ".db"
}

// Package is a package resolved against a repository database.
type Package struct {
	Name     PackageName
	Version  string
	Filename string
	Size     int64
}

// Entry returns the database directory name of p.
func (p Package) Entry() string {
	return EntryName(p.Name, p.Version)
}

// EntryName joins a package name and a version-release into a
// database directory name.
func EntryName(name PackageName, version string) string {
	return string(name) + "-" + version
}

// SplitEntry splits a database directory name into the package name
// and the version-release suffix.  The suffix is made of the last two
// hyphen-delimited segments, so "foo-bar-1.2-3" yields "foo-bar" and
// "1.2-3".
//
// ok is false when the name has fewer than three segments.
func SplitEntry(entry string) (name PackageName, version string, ok bool) {
	rel := strings.LastIndexByte(entry, '-')
	if rel <= 0 {
		return "", "", false
	}
	ver := strings.LastIndexByte(entry[:rel], '-')
	if ver <= 0 {
		return "", "", false
	}
	return PackageName(entry[:ver]), entry[ver+1:], true
}

// Desc is the subset of a desc file needed to fetch a package.
type Desc struct {
	Filename string
	Size     int64
}

// ParseDesc reads a desc file.
//
// The filename is the literal second line.  The size is the integer on
// the line right after "%CSIZE%"; it is zero if the marker is absent.
func ParseDesc(r io.Reader) (*Desc, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "ParseDesc")
	}

	if len(lines) < 2 {
		return nil, errors.New("desc: missing filename line")
	}
	d := &Desc{Filename: strings.TrimSpace(lines[1])}
	if d.Filename == "" {
		return nil, errors.New("desc: empty filename")
	}

	for i, l := range lines {
		if l != csizeMarker {
			continue
		}
		if i+1 >= len(lines) {
			return nil, errors.New("desc: " + csizeMarker + " without value")
		}
		size, err := strconv.ParseInt(strings.TrimSpace(lines[i+1]), 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, "desc: "+csizeMarker)
		}
		if size < 0 {
			return nil, errors.Newf("desc: negative size %d", size)
		}
		d.Size = size
		break
	}
	return d, nil
}
