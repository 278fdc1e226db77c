package mirror

import (
	"log/slog"
	"regexp"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/mirrorctl/pacmirror/internal/pacdb"
)

var (
	validID   = regexp.MustCompile(`^[a-z0-9][a-z0-9._+-]*$`)
	validArch = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+-]*$`)
)

// IsValidID checks if the given repository ID is valid.
func IsValidID(id string) bool {
	return validID.MatchString(id)
}

// IsValidArch checks if the given architecture tag is valid.  It must
// name a single directory, so ".", ".." and slashes are rejected.
func IsValidArch(arch string) bool {
	return validArch.MatchString(arch)
}

// Key identifies a repo/arch pair.
type Key struct {
	Repo pacdb.RepoID
	Arch pacdb.Arch
}

func (k Key) String() string {
	return string(k.Repo) + "/" + string(k.Arch)
}

// Selections maps repo → arch → requested package names.
type Selections map[pacdb.RepoID]map[pacdb.Arch]map[pacdb.PackageName]struct{}

func (s Selections) add(repo pacdb.RepoID, arch pacdb.Arch, name pacdb.PackageName) {
	archs, ok := s[repo]
	if !ok {
		archs = make(map[pacdb.Arch]map[pacdb.PackageName]struct{})
		s[repo] = archs
	}
	names, ok := archs[arch]
	if !ok {
		names = make(map[pacdb.PackageName]struct{})
		archs[arch] = names
	}
	names[name] = struct{}{}
}

// Keys returns the repo/arch pairs that have requests, sorted.
func (s Selections) Keys() []Key {
	var keys []Key
	for repo, archs := range s {
		for arch := range archs {
			keys = append(keys, Key{Repo: repo, Arch: arch})
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Repo != keys[j].Repo {
			return keys[i].Repo < keys[j].Repo
		}
		return keys[i].Arch < keys[j].Arch
	})
	return keys
}

// Names returns the package names requested for k, sorted.
func (s Selections) Names(k Key) []pacdb.PackageName {
	set := s[k.Repo][k.Arch]
	names := make([]pacdb.PackageName, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Len returns the number of requested packages.
func (s Selections) Len() int {
	n := 0
	for _, archs := range s {
		for _, names := range archs {
			n += len(names)
		}
	}
	return n
}

// Env is everything a run needs, loaded once and shared read-only by
// all phases.
type Env struct {
	Config     *Config
	Repos      []*Repository
	Profiles   []*Profile
	Selections Selections

	// Cache holds downloaded databases and packages, DB the extracted
	// databases.  Both are laid out as <repo>/<arch>/.
	Cache *Tree
	DB    *Tree

	repoByID map[pacdb.RepoID]*Repository
}

// NewEnv loads repositories, profiles and package lists described by
// config.
func NewEnv(config *Config) (*Env, error) {
	if err := config.Check(); err != nil {
		return nil, err
	}

	repos, err := config.Repositories()
	if err != nil {
		return nil, err
	}

	profiles, err := LoadProfiles(config.Paths.Profiles)
	if err != nil {
		return nil, err
	}

	env := &Env{
		Config:   config,
		Repos:    repos,
		Profiles: profiles,
		Cache:    NewTree(config.Paths.Cache),
		DB:       NewTree(config.Paths.Local),
	}
	env.index()

	env.Selections, err = env.readSelections()
	if err != nil {
		return nil, err
	}
	return env, nil
}

func (e *Env) index() {
	e.repoByID = make(map[pacdb.RepoID]*Repository, len(e.Repos))
	for _, r := range e.Repos {
		e.repoByID[r.ID] = r
	}
}

// Repo returns the declared repository id.
func (e *Env) Repo(id pacdb.RepoID) (*Repository, bool) {
	r, ok := e.repoByID[id]
	return r, ok
}

// Archs returns every architecture referenced by a profile, sorted.
func (e *Env) Archs() []pacdb.Arch {
	set := make(map[pacdb.Arch]struct{})
	for _, p := range e.Profiles {
		for _, s := range p.Sections {
			set[s.Arch] = struct{}{}
		}
	}
	archs := make([]pacdb.Arch, 0, len(set))
	for a := range set {
		archs = append(archs, a)
	}
	sort.Slice(archs, func(i, j int) bool { return archs[i] < archs[j] })
	return archs
}

// readSelections reads the package lists of every profile section.
// Lines naming an undeclared repository are logged and dropped.
func (e *Env) readSelections() (Selections, error) {
	sel := make(Selections)
	for _, p := range e.Profiles {
		for _, s := range p.Sections {
			list, err := ReadPackageList(p.ListPath(s))
			if err != nil {
				return nil, errors.Wrapf(err, "profile %s: section %s", p.Name, s.Name)
			}
			for _, le := range list {
				if _, ok := e.Repo(le.Repo); !ok {
					slog.Warn("repo not found", "repo", le.Repo, "package", le.Name, "profile", p.Name, "section", s.Name)
					continue
				}
				sel.add(le.Repo, s.Arch, le.Name)
			}
		}
	}
	return sel, nil
}
