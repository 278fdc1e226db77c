package mirror

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/cockroachdb/errors"
	"github.com/mattn/go-isatty"
)

const (
	partSuffix = ".part"
	chunkSize  = 32 * 1024
)

//go:generate mockgen -package mirror -destination=./fetcher_mock_test.go . Fetcher

// Fetcher fetches one URL into one directory.
//
// filename overrides the destination name; when empty the last path
// segment of rawURL is used.  A failed attempt is reported as an error,
// typically a *TransferError.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, dir, filename string) (Outcome, error)
}

// Outcome is the result of a successful Fetch.
type Outcome int

// Outcomes.
const (
	OutcomeCurrent Outcome = iota + 1
	OutcomeDownloaded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCurrent:
		return "current"
	case OutcomeDownloaded:
		return "downloaded"
	}
	return "unknown"
}

// Downloader is the conditional downloader.
//
// The modification time of a downloaded file is set to the server's
// Last-Modified value.  The next Fetch of the same URL compares the two
// and skips the transfer when they are equal.
type Downloader struct {
	client    *http.Client
	userAgent string
	progress  bool
	now       func() time.Time
}

// NewDownloader creates a Downloader.  A progress bar is drawn on stderr
// when progress is true and stderr is a terminal.
func NewDownloader(userAgent string, progress bool) *Downloader {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	fd := os.Stderr.Fd()
	return &Downloader{
		client:    clonedTransport(),
		userAgent: userAgent,
		progress:  progress && (isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)),
		now:       time.Now,
	}
}

// Fetch implements Fetcher.
func (d *Downloader) Fetch(ctx context.Context, rawURL, dir, filename string) (Outcome, error) {
	if filename == "" {
		filename = path.Base(rawURL)
	}
	if err := validatePath(filename); err != nil || filename == "." || filename == "/" {
		return 0, &TransferError{URL: rawURL, Message: "invalid destination name " + filename}
	}
	dest := filepath.Join(dir, filename)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return 0, &TransferError{URL: rawURL, Message: err.Error()}
	}
	req.Header.Set("User-Agent", d.userAgent)
	// the byte count is checked against Content-Length
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, &TransferError{URL: rawURL, Message: err.Error()}
	}
	defer closeRespBody(resp)

	remote, fresh := d.lastModified(resp, rawURL)

	if resp.StatusCode == http.StatusOK && fresh {
		st, err := os.Stat(dest)
		if err == nil && st.Mode().IsRegular() && st.ModTime().Unix() == remote.Unix() {
			slog.Debug("not modified", "url", rawURL, "path", dest)
			return OutcomeCurrent, nil
		}
	}

	total := resp.ContentLength
	part := dest + partSuffix
	n, err := d.writePart(part, resp.Body, total)
	if err != nil {
		return 0, &TransferError{
			URL:     rawURL,
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("%d/%d, %d: %v", n, total, resp.StatusCode, err),
		}
	}
	if total < 0 || n != total || resp.StatusCode != http.StatusOK {
		return 0, &TransferError{
			URL:     rawURL,
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("%d/%d, %d", n, total, resp.StatusCode),
		}
	}

	if err := os.Rename(part, dest); err != nil {
		return 0, errors.Wrap(err, "Fetch")
	}
	if err := DirSync(dir); err != nil {
		slog.Warn("failed to sync directory", "path", dir, "error", err)
	}
	if err := os.Chtimes(dest, d.now(), remote); err != nil {
		return 0, errors.Wrap(err, "Fetch")
	}

	slog.Debug("file downloaded successfully", "url", rawURL, "path", dest, "size", n)
	return OutcomeDownloaded, nil
}

// lastModified returns the server timestamp truncated to seconds.
// fresh is false when the server sent none, in which case the current
// time is returned and the caller must treat the resource as modified.
func (d *Downloader) lastModified(resp *http.Response, rawURL string) (time.Time, bool) {
	lm := resp.Header.Get("Last-Modified")
	if lm == "" {
		slog.Warn("no Last-Modified header, freshness check skipped", "url", rawURL)
		return d.now().Truncate(time.Second), false
	}
	t, err := http.ParseTime(lm)
	if err != nil {
		slog.Warn("unparsable Last-Modified header, freshness check skipped", "url", rawURL, "value", lm)
		return d.now().Truncate(time.Second), false
	}
	return t.Truncate(time.Second), true
}

// writePart streams body into the side-car file p in bounded chunks and
// returns the number of bytes written.
func (d *Downloader) writePart(p string, body io.Reader, total int64) (int64, error) {
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644) // #nosec G304 - p is under the cache root
	if err != nil {
		return 0, err
	}

	var r io.Reader = body
	if d.progress {
		bar := pb.New64(total).
			SetTemplate(pb.Full).
			SetWriter(os.Stderr).
			Set(pb.Bytes, true).
			Start()
		defer bar.Finish()
		r = bar.NewProxyReader(body)
	}

	n, err := io.CopyBuffer(f, r, make([]byte, chunkSize))
	if err != nil {
		_ = f.Close()
		return n, err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return n, err
	}
	return n, f.Close()
}

// closeRespBody closes HTTP response body.
func closeRespBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", "error", err)
	}
}

// clonedTransport creates a new HTTP client with connection reuse tuned
// for many requests to few hosts.
func clonedTransport() *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConns = 100
	tr.MaxIdleConnsPerHost = 10
	tr.IdleConnTimeout = 90 * time.Second

	return &http.Client{
		Transport: tr,
		Timeout:   0, // no timeout; timeout is controlled by context
	}
}
