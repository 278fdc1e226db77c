package mirror

import (
	"context"
	"log/slog"
	"path"

	"github.com/cockroachdb/errors"

	"github.com/mirrorctl/pacmirror/internal/pacdb"
)

const stagingSuffix = ".staging"

// DBSyncReport summarizes a database refresh.
type DBSyncReport struct {
	Synced  int // fetched and re-extracted
	Current int // unchanged on the server
	Failed  int // every mirror failed
}

// DBSyncer refreshes repository databases and their extracted trees.
type DBSyncer struct {
	env      *Env
	resolver *Resolver
}

// NewDBSyncer creates a DBSyncer.
func NewDBSyncer(env *Env, resolver *Resolver) *DBSyncer {
	return &DBSyncer{env: env, resolver: resolver}
}

// SyncDatabases fetches <repo>.db for every declared repository and
// every architecture referenced by a profile.  A database whose content
// changed is re-extracted; an extraction failure aborts the refresh.
func (s *DBSyncer) SyncDatabases(ctx context.Context) (*DBSyncReport, error) {
	slog.Info("syncing databases")
	report := &DBSyncReport{}

	archs := s.env.Archs()
	for _, repo := range s.env.Repos {
		for _, arch := range archs {
			outcome, err := s.syncOne(ctx, repo, arch)
			switch {
			case errors.Is(err, ErrMirrorsExhausted):
				slog.Error("couldn't sync repo", "repo", repo.ID, "arch", arch, "error", err)
				report.Failed++
			case err != nil:
				return report, err
			case outcome == OutcomeCurrent:
				report.Current++
			default:
				report.Synced++
			}
		}
	}

	slog.Info("syncing databases: done", "synced", report.Synced, "current", report.Current, "failed", report.Failed)
	return report, nil
}

func (s *DBSyncer) syncOne(ctx context.Context, repo *Repository, arch pacdb.Arch) (Outcome, error) {
	dir := pairDir(repo.ID, arch)
	if err := s.env.Cache.MkdirAll(dir); err != nil {
		return 0, errors.Wrap(err, "SyncDatabases")
	}
	if err := s.env.DB.MkdirAll(dir); err != nil {
		return 0, errors.Wrap(err, "SyncDatabases")
	}

	slog.Info("downloading db", "repo", repo.ID, "arch", arch)
	mirrors := ExpandMirrors(repo.Servers, repo.ID, arch)
	outcome, err := s.resolver.Fetch(ctx, mirrors, repo.ID.DBFile(), s.env.Cache.Path(dir))
	if err != nil {
		return 0, err
	}
	if outcome == OutcomeCurrent {
		return outcome, nil
	}

	if err := s.replaceExtraction(ctx, repo.ID, arch); err != nil {
		return 0, err
	}
	return outcome, nil
}

// replaceExtraction extracts the cached database next to the live tree
// and swaps it in only when extraction succeeded.  On failure the live
// tree is kept and the cached database is removed so that the next
// refresh fetches it again.
func (s *DBSyncer) replaceExtraction(ctx context.Context, repo pacdb.RepoID, arch pacdb.Arch) error {
	live := pairDir(repo, arch)
	staging := path.Join(string(repo), "."+string(arch)+stagingSuffix)
	dbFile := path.Join(live, repo.DBFile())
	dbPath := s.env.Cache.Path(dbFile)

	if s.env.DB.Exists(staging) {
		if err := s.env.DB.RemoveAll(staging); err != nil {
			return errors.Wrap(err, "replaceExtraction")
		}
	}

	n, err := extractDatabase(ctx, dbPath, s.env.DB, staging)
	if err != nil {
		if rmErr := s.env.DB.RemoveAll(staging); rmErr != nil {
			slog.Warn("failed to remove staging tree", "path", staging, "error", rmErr)
		}
		if rmErr := s.env.Cache.RemoveAll(dbFile); rmErr != nil {
			slog.Warn("failed to remove cached database", "path", dbPath, "error", rmErr)
		}
		return errors.Wrap(err, Key{Repo: repo, Arch: arch}.String())
	}

	if err := s.env.DB.RemoveAll(live); err != nil {
		return errors.Wrap(err, "replaceExtraction")
	}
	if err := s.env.DB.Rename(staging, live); err != nil {
		return errors.Wrap(err, "replaceExtraction")
	}
	slog.Info("extracted db", "repo", repo, "arch", arch, "files", n)
	return nil
}
