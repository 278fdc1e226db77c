package mirror

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/mholt/archives"
)

// extractDatabase extracts the database archive at the host path src
// into dir of t.  The compression is detected from the content.
func extractDatabase(ctx context.Context, src string, t *Tree, dir string) (int, error) {
	f, err := os.Open(src) // #nosec G304 - src is under the cache root
	if err != nil {
		return 0, errors.Wrap(err, "extractDatabase")
	}
	defer f.Close()

	format, stream, err := archives.Identify(ctx, path.Base(src), f)
	if err != nil {
		return 0, errors.Wrapf(err, "extractDatabase: identify %s", src)
	}
	ex, ok := format.(archives.Extractor)
	if !ok {
		return 0, errors.Newf("extractDatabase: %s is not an archive (%T)", src, format)
	}

	if err := t.MkdirAll(dir); err != nil {
		return 0, errors.Wrap(err, "extractDatabase")
	}

	files := 0
	err = ex.Extract(ctx, stream, func(ctx context.Context, fi archives.FileInfo) error {
		wrote, err := extractEntry(t, dir, fi)
		if wrote {
			files++
		}
		return err
	})
	if err != nil {
		return files, errors.Wrapf(err, "extractDatabase: %s", src)
	}
	return files, nil
}

// extractEntry writes a single archive entry below dir.
func extractEntry(t *Tree, dir string, fi archives.FileInfo) (bool, error) {
	name := strings.TrimPrefix(fi.NameInArchive, "./")
	name = strings.TrimSuffix(name, "/")
	if name == "" || name == "." {
		return false, nil
	}
	if err := validatePath(name); err != nil {
		return false, err
	}
	target := path.Join(dir, name)

	if fi.IsDir() {
		return false, t.MkdirAll(target)
	}

	if fi.LinkTarget != "" || fi.Mode()&os.ModeSymlink != 0 {
		slog.Debug("skipping link in database", "entry", name)
		return false, nil
	}
	if !fi.Mode().IsRegular() {
		slog.Debug("skipping special file in database", "entry", name)
		return false, nil
	}

	src, err := fi.Open()
	if err != nil {
		return false, errors.Wrapf(err, "open %s", name)
	}
	defer src.Close()

	perm := fi.Mode().Perm()
	if perm == 0 {
		perm = 0644
	}
	dst, err := t.Create(target, perm)
	if err != nil {
		return false, errors.Wrapf(err, "create %s", target)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return false, errors.Wrapf(err, "write %s", target)
	}
	return true, dst.Close()
}
