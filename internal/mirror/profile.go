package mirror

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/mirrorctl/pacmirror/internal/pacdb"
)

const profileFile = "profile.yaml"

// Section selects the packages listed in Packages for one architecture.
type Section struct {
	Name     string
	Arch     pacdb.Arch
	Packages string
}

type sectionYAML struct {
	Arch     string `yaml:"arch"`
	Packages string `yaml:"packages"`
}

// Profile is a named set of package selections.
type Profile struct {
	Name     string
	Dir      string
	Sections []Section
}

// LoadProfiles reads every profile directory under root.
// Entries that are not directories are ignored.
func LoadProfiles(root string) ([]*Profile, error) {
	entries, err := os.ReadDir(root)
	switch {
	case os.IsNotExist(err):
		slog.Warn("profiles directory not found", "path", root)
		return nil, nil
	case err != nil:
		return nil, errors.Wrap(err, "LoadProfiles")
	}

	var profiles []*Profile
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p, err := LoadProfile(filepath.Join(root, e.Name()))
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// LoadProfile reads the profile in dir.
func LoadProfile(dir string) (*Profile, error) {
	name := filepath.Base(dir)
	data, err := os.ReadFile(filepath.Join(dir, profileFile)) // #nosec G304 - dir is under the configured profiles root
	if err != nil {
		return nil, errors.Wrap(err, "profile "+name)
	}

	var raw map[string]sectionYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "profile "+name)
	}

	p := &Profile{Name: name, Dir: dir}
	for sn, s := range raw {
		if s.Arch == "" {
			return nil, errors.Newf("profile %s: section %s: arch is not set", name, sn)
		}
		if !IsValidArch(s.Arch) {
			return nil, errors.Newf("profile %s: section %s: invalid arch %q", name, sn, s.Arch)
		}
		if s.Packages == "" {
			return nil, errors.Newf("profile %s: section %s: packages is not set", name, sn)
		}
		p.Sections = append(p.Sections, Section{
			Name:     sn,
			Arch:     pacdb.Arch(s.Arch),
			Packages: s.Packages,
		})
	}
	sort.Slice(p.Sections, func(i, j int) bool {
		return p.Sections[i].Name < p.Sections[j].Name
	})
	return p, nil
}

// ListPath returns the path of the package list of s.
func (p *Profile) ListPath(s Section) string {
	if filepath.IsAbs(s.Packages) {
		return s.Packages
	}
	return filepath.Join(p.Dir, s.Packages)
}

// ListEntry is a "<repo> <package>" line of a package list.
type ListEntry struct {
	Repo pacdb.RepoID
	Name pacdb.PackageName
}

// ReadPackageList reads a package list file.  Blank lines and lines
// starting with "#" are skipped; malformed lines are logged and skipped.
func ReadPackageList(p string) ([]ListEntry, error) {
	f, err := os.Open(p) // #nosec G304 - list path comes from a profile
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var list []ListEntry
	sc := bufio.NewScanner(f)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			slog.Warn("malformed package list line", "path", p, "line", lineno)
			continue
		}
		list = append(list, ListEntry{
			Repo: pacdb.RepoID(fields[0]),
			Name: pacdb.PackageName(fields[1]),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, p)
	}
	return list, nil
}
