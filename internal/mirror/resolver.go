package mirror

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/mirrorctl/pacmirror/internal/pacdb"
)

// ExpandMirrors substitutes $repo and $arch in every template.
func ExpandMirrors(templates []string, repo pacdb.RepoID, arch pacdb.Arch) []string {
	r := strings.NewReplacer("$repo", string(repo), "$arch", string(arch))
	mirrors := make([]string, len(templates))
	for i, t := range templates {
		mirrors[i] = r.Replace(t)
	}
	return mirrors
}

// Resolver fetches a file from the first mirror that serves it.
type Resolver struct {
	fetcher Fetcher
}

// NewResolver creates a Resolver driving f.
func NewResolver(f Fetcher) *Resolver {
	return &Resolver{fetcher: f}
}

// Fetch tries "<mirror>/<file>" for each mirror in order and stores the
// result as dir/file.  The first success is returned.  When every
// mirror fails the error is marked with ErrMirrorsExhausted.
func (r *Resolver) Fetch(ctx context.Context, mirrors []string, file, dir string) (Outcome, error) {
	if len(mirrors) == 0 {
		return 0, errors.Mark(errors.New("no mirrors for "+file), ErrMirrorsExhausted)
	}

	var lastErr error
	for _, m := range mirrors {
		u := strings.TrimSuffix(m, "/") + "/" + file
		slog.Info("downloading", "url", u)
		outcome, err := r.fetcher.Fetch(ctx, u, dir, file)
		if err == nil {
			if outcome == OutcomeCurrent {
				slog.Info("not modified", "url", u)
			}
			return outcome, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		slog.Warn("download failed", "url", u, "error", err)
		lastErr = err
	}
	return 0, errors.Mark(errors.Wrapf(lastErr, "%s: tried %d mirrors", file, len(mirrors)), ErrMirrorsExhausted)
}
