package mirror

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mholt/archives"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

// repoServer provides a mock HTTP server standing in for a mirror.
type repoServer struct {
	server *httptest.Server

	mu       sync.Mutex
	files    map[string]*testFile
	requests map[string]int
}

type testFile struct {
	status   int
	content  []byte
	modified time.Time // zero: no Last-Modified header
	length   int64     // declared Content-Length; 0: len(content), negative: none
}

func newRepoServer(t *testing.T) *repoServer {
	t.Helper()
	s := &repoServer{
		files:    make(map[string]*testFile),
		requests: make(map[string]int),
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handleRequest))
	t.Cleanup(s.server.Close)
	return s
}

func (s *repoServer) URL() string {
	return s.server.URL
}

// Add serves content at p with a 200 status.
func (s *repoServer) Add(p string, content []byte, modified time.Time) {
	s.Set(p, &testFile{status: http.StatusOK, content: content, modified: modified})
}

func (s *repoServer) Set(p string, f *testFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[strings.TrimPrefix(p, "/")] = f
}

func (s *repoServer) Requests(p string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[strings.TrimPrefix(p, "/")]
}

func (s *repoServer) handleRequest(w http.ResponseWriter, r *http.Request) {
	p := strings.TrimPrefix(r.URL.Path, "/")

	s.mu.Lock()
	s.requests[p]++
	f, ok := s.files[p]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}

	if !f.modified.IsZero() {
		w.Header().Set("Last-Modified", f.modified.UTC().Format(http.TimeFormat))
	}
	switch {
	case f.length > 0:
		w.Header().Set("Content-Length", strconv.FormatInt(f.length, 10))
	case f.length == 0:
		w.Header().Set("Content-Length", strconv.Itoa(len(f.content)))
	}
	w.WriteHeader(f.status)
	if f.length < 0 {
		w.(http.Flusher).Flush()
	}
	_, _ = w.Write(f.content)
}

// testConfig returns a configuration whose trees live in a temporary
// directory.  repos maps repository ids to mirror templates.
func testConfig(t *testing.T, repos map[string][]string) *Config {
	t.Helper()
	root := t.TempDir()

	c := NewConfig()
	c.Paths = PathsConfig{
		Cache:    filepath.Join(root, "mirror"),
		Local:    filepath.Join(root, "local"),
		Profiles: filepath.Join(root, "profiles"),
		LockFile: filepath.Join(root, "db.lck"),
	}
	c.Repos = make(map[string]*RepoConfig, len(repos))
	for id, servers := range repos {
		c.Repos[id] = &RepoConfig{Server: servers}
	}
	return c
}

// writeProfile writes a profile with a single section "base" selecting
// the given "<repo> <package>" lines.
func writeProfile(t *testing.T, c *Config, name, arch string, lines ...string) {
	t.Helper()
	dir := filepath.Join(c.Paths.Profiles, name)
	require.NoError(t, os.MkdirAll(dir, 0755))

	yaml := fmt.Sprintf("base:\n  arch: %s\n  packages: base.list\n", arch)
	require.NoError(t, os.WriteFile(filepath.Join(dir, profileFile), []byte(yaml), 0644))
	list := strings.Join(lines, "\n") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.list"), []byte(list), 0644))
}

func newTestEnv(t *testing.T, c *Config) *Env {
	t.Helper()
	env, err := NewEnv(c)
	require.NoError(t, err)
	return env
}

// descFor returns a desc file for an archive.
func descFor(name, version, filename string, size int64) string {
	return fmt.Sprintf("%%FILENAME%%\n%s\n\n%%NAME%%\n%s\n\n%%VERSION%%\n%s\n\n%%CSIZE%%\n%d\n",
		filename, name, version, size)
}

// writeDBTree writes entry/desc files below dir.
func writeDBTree(t *testing.T, dir string, descs map[string]string) {
	t.Helper()
	for entry, desc := range descs {
		d := filepath.Join(dir, entry)
		require.NoError(t, os.MkdirAll(d, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(d, "desc"), []byte(desc), 0644))
	}
}

// buildDB returns a gzip-compressed tar holding one directory per entry.
func buildDB(t *testing.T, descs map[string]string) []byte {
	t.Helper()
	ctx := context.Background()
	files := dbFiles(t, descs)

	var buf bytes.Buffer
	format := archives.CompressedArchive{Compression: archives.Gz{}, Archival: archives.Tar{}}
	require.NoError(t, format.Archive(ctx, &buf, files))
	return buf.Bytes()
}

// buildXzDB is buildDB with xz compression.
func buildXzDB(t *testing.T, descs map[string]string) []byte {
	t.Helper()
	ctx := context.Background()
	files := dbFiles(t, descs)

	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, archives.Tar{}.Archive(ctx, w, files))
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func dbFiles(t *testing.T, descs map[string]string) []archives.FileInfo {
	t.Helper()
	temp := t.TempDir()
	writeDBTree(t, temp, descs)
	files, err := archives.FilesFromDisk(context.Background(), nil, map[string]string{temp + "/": ""})
	require.NoError(t, err)
	return files
}

// writeFile creates p with content, creating parents.
func writeFile(t *testing.T, p string, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
}
