package mirror

import (
	"log/slog"
	"path"

	"github.com/cockroachdb/errors"

	"github.com/mirrorctl/pacmirror/internal/pacdb"
)

// GCReport summarizes a cache cleaning.
type GCReport struct {
	RemovedTrees []string // repo or repo/arch subtrees
	RemovedFiles int
	FailedFiles  int
}

// Collector removes what no profile references any more.
type Collector struct {
	env      *Env
	packages *PackageResolver
}

// NewCollector creates a Collector.
func NewCollector(env *Env, packages *PackageResolver) *Collector {
	return &Collector{env: env, packages: packages}
}

// Clean prunes the extraction tree, then the cache tree.
func (c *Collector) Clean() (*GCReport, error) {
	slog.Info("cleaning cache")

	slog.Info("cleaning local")
	local, err := c.prune(c.env.DB, nil)
	if err != nil {
		return nil, err
	}
	slog.Info("deleted repos", "trees", joinOrNothing(local.RemovedTrees))

	slog.Info("cleaning mirror")
	res := c.packages.Resolve(c.env.Selections)
	cache, err := c.prune(c.env.Cache, func(k Key) (int, int) {
		return c.cleanPair(k, res)
	})
	if err != nil {
		return nil, err
	}
	slog.Info("deleted repos", "trees", joinOrNothing(cache.RemovedTrees))
	slog.Info("cleaned files", "removed", cache.RemovedFiles, "failed", cache.FailedFiles)

	report := &GCReport{
		RemovedTrees: append(local.RemovedTrees, cache.RemovedTrees...),
		RemovedFiles: cache.RemovedFiles,
		FailedFiles:  cache.FailedFiles,
	}
	slog.Info("cleaning cache: done")
	return report, nil
}

// prune removes the repo subtrees of t that are not declared and, in
// kept repos, the arch subtrees no profile references.  keep is called
// for every surviving pair and returns removed and failed file counts.
func (c *Collector) prune(t *Tree, keep func(Key) (int, int)) (*GCReport, error) {
	report := &GCReport{}

	archs := make(map[pacdb.Arch]bool)
	for _, a := range c.env.Archs() {
		archs[a] = true
	}

	repos, err := t.List(".")
	if err != nil {
		return nil, errors.Wrap(err, "prune "+t.Root())
	}
	for _, repo := range repos {
		if _, ok := c.env.Repo(pacdb.RepoID(repo)); !ok {
			if err := t.RemoveAll(repo); err != nil {
				return nil, errors.Wrap(err, "prune")
			}
			report.RemovedTrees = append(report.RemovedTrees, repo)
			continue
		}
		if !t.IsDir(repo) {
			continue
		}

		names, err := t.List(repo)
		if err != nil {
			return nil, errors.Wrap(err, "prune")
		}
		for _, arch := range names {
			p := path.Join(repo, arch)
			if !archs[pacdb.Arch(arch)] {
				if err := t.RemoveAll(p); err != nil {
					return nil, errors.Wrap(err, "prune")
				}
				report.RemovedTrees = append(report.RemovedTrees, p)
				continue
			}
			if keep != nil && t.IsDir(p) {
				removed, failed := keep(Key{Repo: pacdb.RepoID(repo), Arch: pacdb.Arch(arch)})
				report.RemovedFiles += removed
				report.FailedFiles += failed
			}
		}
	}
	return report, nil
}

// cleanPair removes cached files of k that are neither the repository
// database nor the archive of a package some profile selects.
func (c *Collector) cleanPair(k Key, res *Resolution) (removed, failed int) {
	if res.Unusable[k] {
		slog.Warn("skipping cache of repo without local database", "repo", k.Repo, "arch", k.Arch)
		return 0, 0
	}

	dir := pairDir(k.Repo, k.Arch)
	names, err := c.env.Cache.List(dir)
	if err != nil {
		slog.Warn("cannot list cache", "path", dir, "error", err)
		return 0, 0
	}

	keep := res.Filenames(k)
	keep[k.Repo.DBFile()] = struct{}{}

	for _, n := range names {
		if _, ok := keep[n]; ok {
			continue
		}
		if err := c.env.Cache.RemoveAll(path.Join(dir, n)); err != nil {
			slog.Warn("failed to remove cached file", "path", path.Join(dir, n), "error", err)
			failed++
			continue
		}
		slog.Debug("removed cached file", "path", path.Join(dir, n))
		removed++
	}
	return removed, failed
}
