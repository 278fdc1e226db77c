package mirror

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/mirrorctl/pacmirror/internal/pacdb"
)

// PlanItem is a package to download.
type PlanItem struct {
	Key     Key
	Package pacdb.Package
}

// Plan lists the packages missing from the cache.
type Plan struct {
	Items []PlanItem
	Total int64 // sum of the compressed sizes of Items
}

// PkgSyncReport summarizes a package download.
type PkgSyncReport struct {
	Planned    int
	Downloaded int
	Current    int
	Failed     int
	Bytes      int64
}

// PackageSyncer downloads resolved packages missing from the cache.
type PackageSyncer struct {
	env      *Env
	packages *PackageResolver
	resolver *Resolver
}

// NewPackageSyncer creates a PackageSyncer.
func NewPackageSyncer(env *Env, packages *PackageResolver, resolver *Resolver) *PackageSyncer {
	return &PackageSyncer{env: env, packages: packages, resolver: resolver}
}

// Plan diffs res against the cache.  A package is present when a file
// with its filename exists in the cache directory of its pair; the
// content is not checked.
func (s *PackageSyncer) Plan(res *Resolution) (*Plan, error) {
	plan := &Plan{}
	for _, k := range sortedPairs(res) {
		if res.Unusable[k] {
			continue
		}
		dir := pairDir(k.Repo, k.Arch)

		cached := make(map[string]bool)
		if s.env.Cache.IsDir(dir) {
			names, err := s.env.Cache.List(dir)
			if err != nil {
				return nil, errors.Wrap(err, "Plan")
			}
			for _, n := range names {
				cached[n] = true
			}
		}

		for _, p := range res.Get(k) {
			if cached[p.Filename] {
				continue
			}
			plan.Items = append(plan.Items, PlanItem{Key: k, Package: p})
			plan.Total += p.Size
		}
	}
	return plan, nil
}

// SyncPackages resolves the profiles' selections, plans the download
// and fetches every planned package.  A package no mirror can serve is
// logged and skipped.
func (s *PackageSyncer) SyncPackages(ctx context.Context) (*PkgSyncReport, error) {
	slog.Info("syncing packages")

	res := s.packages.Resolve(s.env.Selections)
	plan, err := s.Plan(res)
	if err != nil {
		return nil, err
	}

	report := &PkgSyncReport{Planned: len(plan.Items)}
	slog.Info("downloading packages",
		"total", len(plan.Items),
		"size", formatBytes(uint64(plan.Total)),
		"bytes", plan.Total,
		"dropped", res.Dropped)

	for _, item := range plan.Items {
		repo, ok := s.env.Repo(item.Key.Repo)
		if !ok {
			// Selections only hold declared repositories.
			return report, errors.New("undeclared repo " + string(item.Key.Repo))
		}
		dir := pairDir(item.Key.Repo, item.Key.Arch)
		if err := s.env.Cache.MkdirAll(dir); err != nil {
			return report, errors.Wrap(err, "SyncPackages")
		}

		slog.Info("downloading package", "package", item.Package.Name, "repo", item.Key.Repo, "arch", item.Key.Arch)
		mirrors := ExpandMirrors(repo.Servers, item.Key.Repo, item.Key.Arch)
		outcome, err := s.resolver.Fetch(ctx, mirrors, item.Package.Filename, s.env.Cache.Path(dir))
		switch {
		case errors.Is(err, ErrMirrorsExhausted):
			slog.Warn("couldn't download package", "package", item.Package.Name, "repo", item.Key.Repo, "arch", item.Key.Arch)
			report.Failed++
		case err != nil:
			return report, err
		case outcome == OutcomeCurrent:
			report.Current++
		default:
			report.Downloaded++
			report.Bytes += item.Package.Size
		}
	}

	slog.Info("syncing packages: done", "downloaded", report.Downloaded, "failed", report.Failed)
	return report, nil
}

// sortedPairs returns the pairs of res that have packages, sorted.
func sortedPairs(res *Resolution) []Key {
	sel := make(Selections)
	for repo, archs := range res.Packages {
		for arch := range archs {
			sel.add(repo, arch, "")
		}
	}
	return sel.Keys()
}
