package mirror

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrConfigMissing is returned when the configuration file does not exist.
	ErrConfigMissing = errors.New("configuration file not found")

	// ErrLockHeld is returned when another run holds the lock file.
	ErrLockHeld = errors.New("databases locked")

	// ErrMirrorsExhausted marks a fetch that failed on every mirror.
	ErrMirrorsExhausted = errors.New("all mirrors failed")
)

// TransferError is a failed download attempt.
//
// Code is the HTTP status, or zero when no response was received.
type TransferError struct {
	URL     string
	Code    int
	Message string
}

func (e *TransferError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("%s: %s", e.URL, e.Message)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.URL, e.Message, e.Code)
}
