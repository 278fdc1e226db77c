package mirror

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/mirrorctl/pacmirror/internal/pacdb"
)

func TestConfig(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join("..", "..", "examples", "pacmirror.toml")
	c, err := LoadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}

	if c.Paths.Cache != "/var/cache/pacmirror/mirror" {
		t.Errorf(`c.Paths.Cache = %q, want "/var/cache/pacmirror/mirror"`, c.Paths.Cache)
	}
	if c.Paths.LockFile != "/var/cache/pacmirror/db.lck" {
		t.Errorf(`c.Paths.LockFile = %q, want "/var/cache/pacmirror/db.lck"`, c.Paths.LockFile)
	}
	if c.Log.Level != "info" {
		t.Errorf(`c.Log.Level = %q, want "info"`, c.Log.Level)
	}
	if c.HTTP.UserAgent != "pacmirror/1.0" {
		t.Errorf(`c.HTTP.UserAgent = %q, want "pacmirror/1.0"`, c.HTTP.UserAgent)
	}
	if len(c.Repos) != 2 {
		t.Fatalf(`len(c.Repos) = %d, want 2`, len(c.Repos))
	}

	repos, err := c.Repositories()
	if err != nil {
		t.Fatal(err)
	}
	if len(repos) != 2 || repos[0].ID != "core" || repos[1].ID != "extra" {
		t.Fatalf("repos not sorted by id: %+v", repos)
	}

	// Section servers first, then the included mirrorlist in file order.
	want := []string{
		"https://geo.mirror.pkgbuild.com/$repo/os/$arch",
		"https://mirrors.kernel.org/archlinux/$repo/os/$arch",
		"https://ftp.fau.de/archlinux/$repo/os/$arch",
	}
	if !reflect.DeepEqual(repos[0].Servers, want) {
		t.Errorf("core servers = %v, want %v", repos[0].Servers, want)
	}
	if len(repos[1].Servers) != 2 {
		t.Errorf("extra servers = %v, want 2 entries", repos[1].Servers)
	}
}

func TestLoadConfigMissing(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	if !errors.Is(err, ErrConfigMissing) {
		t.Errorf("err = %v, want ErrConfigMissing", err)
	}
}

func TestLoadConfigUnknownKeys(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "pacmirror.toml")
	data := `
[paths]
cache = "/c"
local = "/l"
profiles = "/p"
lock_file = "/db.lck"

[repo.core]
server = ["https://mirror.example.org/$repo/os/$arch"]
`
	if err := os.WriteFile(p, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadConfig(p)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "'repos.core'") {
		t.Errorf("error does not suggest repos.core: %v", err)
	}
}

func TestConfigCheck(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		c := NewConfig()
		c.Paths = PathsConfig{Cache: "/c", Local: "/l", Profiles: "/p", LockFile: "/db.lck"}
		c.Repos = map[string]*RepoConfig{
			"core": {Server: []string{"https://mirror.example.org/$repo/os/$arch"}},
		}
		return c
	}

	if err := valid().Check(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no cache", func(c *Config) { c.Paths.Cache = "" }},
		{"relative local", func(c *Config) { c.Paths.Local = "local" }},
		{"relative lock", func(c *Config) { c.Paths.LockFile = "db.lck" }},
		{"no repos", func(c *Config) { c.Repos = nil }},
		{"bad id", func(c *Config) { c.Repos["Core"] = c.Repos["core"] }},
		{"no server", func(c *Config) { c.Repos["core"].Server = nil }},
		{"ftp", func(c *Config) { c.Repos["core"].Server = []string{"ftp://mirror.example.org/$repo"} }},
		{"no host", func(c *Config) { c.Repos["core"].Server = []string{"https:///$repo"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.modify(c)
			if err := c.Check(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("PACMIRROR_CACHE_DIR", "/srv/cache")
	t.Setenv("PACMIRROR_LOCK_FILE", "/run/pacmirror.lck")
	t.Setenv("PACMIRROR_LOG_LEVEL", "debug")
	t.Setenv("PACMIRROR_USER_AGENT", "custom")

	c := NewConfig()
	c.Paths = PathsConfig{Cache: "/c", Local: "/l", Profiles: "/p", LockFile: "/db.lck"}
	c.Log = LogConfig{Level: "info", Format: "json"}
	c.ApplyEnv()

	expected := PathsConfig{Cache: "/srv/cache", Local: "/l", Profiles: "/p", LockFile: "/run/pacmirror.lck"}
	if c.Paths != expected {
		t.Errorf("c.Paths = %+v, want %+v", c.Paths, expected)
	}
	if c.Log.Level != "debug" || c.Log.Format != "json" {
		t.Errorf("c.Log = %+v", c.Log)
	}
	if c.HTTP.UserAgent != "custom" {
		t.Errorf("c.HTTP.UserAgent = %q, want custom", c.HTTP.UserAgent)
	}
}

func TestEmptyEnvironmentVariable(t *testing.T) {
	t.Setenv("PACMIRROR_LOG_FORMAT", "")

	c := NewConfig()
	c.Log.Format = "json"
	c.ApplyEnv()
	if c.Log.Format != "" {
		t.Errorf("set but empty variable should override, got %q", c.Log.Format)
	}
}

func TestReadMirrorlist(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "mirrorlist")
	data := `## comment
#Server = https://disabled.example.org/$repo/os/$arch
Server = https://a.example.org/$repo/os/$arch
; also a comment

SERVER=https://b.example.org/$repo/os/$arch
Include = /etc/pacman.d/other
garbage
`
	if err := os.WriteFile(p, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := readMirrorlist(p)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"https://a.example.org/$repo/os/$arch",
		"https://b.example.org/$repo/os/$arch",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("readMirrorlist() = %v, want %v", got, want)
	}
}

func TestRepositoriesIncludeOnly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "mirrorlist"), []byte("Server = https://a.example.org/$repo/os/$arch\n"), 0644); err != nil {
		t.Fatal(err)
	}

	c := NewConfig()
	c.SetBaseDir(dir)
	c.Repos = map[string]*RepoConfig{"multilib": {Include: "mirrorlist"}}

	repos, err := c.Repositories()
	if err != nil {
		t.Fatal(err)
	}
	if len(repos) != 1 || repos[0].ID != pacdb.RepoID("multilib") || len(repos[0].Servers) != 1 {
		t.Errorf("Repositories() = %+v", repos)
	}

	c.Repos["multilib"].Include = "missing"
	if _, err := c.Repositories(); err == nil {
		t.Error("expected an error for a missing include")
	}
}

func TestLogConfigApply(t *testing.T) {
	for _, lc := range []LogConfig{
		{Level: "debug", Format: "json"},
		{Level: "warning", Format: "plain"},
		{},
	} {
		if err := lc.Apply(); err != nil {
			t.Errorf("Apply(%+v) = %v", lc, err)
		}
	}
	if err := (&LogConfig{Level: "loud"}).Apply(); err == nil {
		t.Error("invalid level accepted")
	}
	if err := (&LogConfig{Format: "xml"}).Apply(); err == nil {
		t.Error("invalid format accepted")
	}
	_ = (&LogConfig{}).Apply()
}
