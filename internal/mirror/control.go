package mirror

import (
	"context"
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
)

// Options selects the phases of a run.
type Options struct {
	Refresh  bool // sync databases
	Clean    bool // clean the cache
	Download bool // sync packages
	Quiet    bool // no progress bars

	// Fetcher replaces the HTTP downloader when set.
	Fetcher Fetcher
}

func (o Options) any() bool {
	return o.Refresh || o.Clean || o.Download
}

// Report collects the results of the phases that ran.
type Report struct {
	DB       *DBSyncReport
	GC       *GCReport
	Packages *PkgSyncReport
}

// Run executes the requested phases in the order refresh, clean,
// download.
//
// The first thing to do is to create the lock file; if it exists
// ErrLockHeld is returned before anything is modified.  The lock file is
// removed only when every phase succeeded.  A failed run leaves it in
// place and it must be removed by hand.
func Run(ctx context.Context, env *Env, opts Options) (*Report, error) {
	lock, err := AcquireLock(env.Config.Paths.LockFile)
	if err != nil {
		return nil, err
	}

	report, err := runPhases(ctx, env, opts)
	if err != nil {
		slog.Error("run failed, lock file left in place", "path", lock.Path())
		return report, err
	}

	if err := lock.Release(); err != nil {
		return report, errors.Wrap(err, "release lock")
	}
	return report, nil
}

func runPhases(ctx context.Context, env *Env, opts Options) (*Report, error) {
	report := &Report{}

	if !opts.any() {
		slog.Info("nothing to do")
		return report, nil
	}

	for _, dir := range []string{env.Config.Paths.Cache, env.Config.Paths.Local} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return report, errors.Wrap(err, "Run")
		}
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = NewDownloader(env.Config.HTTP.UserAgent, !opts.Quiet)
	}
	resolver := NewResolver(fetcher)
	packages := NewPackageResolver(env.DB)

	var err error
	if opts.Refresh {
		report.DB, err = NewDBSyncer(env, resolver).SyncDatabases(ctx)
		if err != nil {
			return report, err
		}
	}

	if opts.Clean {
		report.GC, err = NewCollector(env, packages).Clean()
		if err != nil {
			return report, err
		}
	}

	if opts.Download {
		report.Packages, err = NewPackageSyncer(env, packages, resolver).SyncPackages(ctx)
		if err != nil {
			return report, err
		}
	}
	return report, nil
}
