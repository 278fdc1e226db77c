package mirror

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/cockroachdb/errors"
)

// Lock is the sentinel file marking a run in progress.
type Lock struct {
	path string
}

// AcquireLock creates the lock file at p.  If it already exists
// ErrLockHeld is returned and nothing is modified.
func AcquireLock(p string) (*Lock, error) {
	if !filepath.IsAbs(p) {
		return nil, errors.New("lock file must be an absolute path: " + p)
	}

	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644) // #nosec G304,G302 - lock path comes from the configuration, 0644 standard for lock files
	switch {
	case os.IsExist(err):
		return nil, errors.Wrap(ErrLockHeld, p)
	case err != nil:
		return nil, errors.Wrap(err, "AcquireLock")
	}

	_, werr := f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(p)
		return nil, errors.Wrap(errors.CombineErrors(werr, cerr), "AcquireLock")
	}
	return &Lock{path: p}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release removes the lock file.
func (l *Lock) Release() error {
	return os.Remove(l.path)
}
