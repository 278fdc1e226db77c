package mirror

import (
	"bufio"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"

	"github.com/mirrorctl/pacmirror/internal/pacdb"
)

const (
	defaultUserAgent = "pacmirror"

	envPrefix = "PACMIRROR_"
)

// PathsConfig locates the trees pacmirror manages.
type PathsConfig struct {
	Cache    string `toml:"cache"`
	Local    string `toml:"local"`
	Profiles string `toml:"profiles"`
	LockFile string `toml:"lock_file"`
}

// Check validates the paths.
func (p *PathsConfig) Check() error {
	fields := []struct {
		key, value string
	}{
		{"paths.cache", p.Cache},
		{"paths.local", p.Local},
		{"paths.profiles", p.Profiles},
		{"paths.lock_file", p.LockFile},
	}
	for _, f := range fields {
		if f.value == "" {
			return errors.New(f.key + " is not set")
		}
		if !filepath.IsAbs(f.value) {
			return errors.New(f.key + " must be an absolute path")
		}
	}
	return nil
}

// HTTPConfig tunes the downloader.
type HTTPConfig struct {
	UserAgent string `toml:"user_agent"`
}

// RepoConfig is a repository section.
//
// Server holds mirror templates containing the literal tokens $repo and
// $arch.  Include names a pacman mirrorlist whose Server entries are
// appended after the section's own.
type RepoConfig struct {
	Server  []string `toml:"server"`
	Include string   `toml:"include,omitempty"`
}

// Repository is a repository with its resolved, ordered mirror list.
type Repository struct {
	ID      pacdb.RepoID
	Servers []string
}

// checkTemplate validates a mirror template.
func checkTemplate(tmpl string) error {
	u, err := url.Parse(tmpl)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http":
	case "https":
	default:
		return errors.New("unsupported scheme: " + u.Scheme)
	}
	if u.Host == "" {
		return errors.New("no host in " + tmpl)
	}
	return nil
}

// LogConfig represents slog configuration options
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Apply configures the global slog logger based on the configuration
func (logConfig *LogConfig) Apply() error {
	var level slog.Level
	switch strings.ToLower(logConfig.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return errors.New("invalid log level: " + logConfig.Level)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(logConfig.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "plain", "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return errors.New("invalid log format: " + logConfig.Format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// Config is a struct to read TOML configurations.
//
// Use https://github.com/BurntSushi/toml as follows:
//
//	config := mirror.NewConfig()
//	md, err := toml.DecodeFile("/path/to/pacmirror.toml", config)
//	if err != nil {
//	    ...
//	}
//	config.SetBaseDir(filepath.Dir("/path/to/pacmirror.toml"))
type Config struct {
	Paths PathsConfig            `toml:"paths"`
	Log   LogConfig              `toml:"log"`
	HTTP  HTTPConfig             `toml:"http"`
	Repos map[string]*RepoConfig `toml:"repos"`

	// baseDir resolves relative include paths.
	baseDir string
}

// NewConfig creates Config with default values.
func NewConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{UserAgent: defaultUserAgent},
	}
}

// LoadConfig decodes the configuration file at p, applies environment
// overrides and validates the result.  ErrConfigMissing is returned if
// p does not exist.
func LoadConfig(p string) (*Config, error) {
	config := NewConfig()
	md, err := toml.DecodeFile(p, config)
	switch {
	case os.IsNotExist(err):
		return nil, errors.Wrap(ErrConfigMissing, p)
	case err != nil:
		return nil, errors.Wrap(err, p)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Wrap(undecodedError(undecoded), p)
	}

	config.SetBaseDir(filepath.Dir(p))
	config.ApplyEnv()
	if err := config.Check(); err != nil {
		return nil, errors.Wrap(err, p)
	}
	return config, nil
}

// undecodedError describes keys the decoder did not consume, suggesting
// the plural section name for the common "repo." typo.
func undecodedError(undecoded []toml.Key) error {
	var suggestions, unknown []string
	seen := make(map[string]bool)
	for _, key := range undecoded {
		k := key.String()
		if len(key) >= 2 && key[0] == "repo" {
			section := "repo." + key[1]
			if !seen[section] {
				seen[section] = true
				suggestions = append(suggestions, "section '"+section+"' should be 'repos."+key[1]+"'")
			}
			continue
		}
		unknown = append(unknown, k)
	}

	var msg strings.Builder
	msg.WriteString("configuration contains unknown keys")
	if len(suggestions) > 0 {
		msg.WriteString(": " + strings.Join(suggestions, "; "))
	}
	if len(unknown) > 0 {
		msg.WriteString(": " + strings.Join(unknown, ", "))
	}
	return errors.New(msg.String())
}

// SetBaseDir sets the directory relative include paths are resolved
// against, usually the directory of the configuration file.
func (c *Config) SetBaseDir(dir string) {
	c.baseDir = dir
}

// Check validates the configuration.
func (c *Config) Check() error {
	if err := c.Paths.Check(); err != nil {
		return err
	}
	if len(c.Repos) == 0 {
		return errors.New("no repos")
	}
	for id, rc := range c.Repos {
		if !IsValidID(id) {
			return errors.New("invalid repo id: " + id)
		}
		if len(rc.Server) == 0 && rc.Include == "" {
			return errors.New(id + ": no server")
		}
		for _, tmpl := range rc.Server {
			if err := checkTemplate(tmpl); err != nil {
				return errors.Wrap(err, id)
			}
		}
	}
	return nil
}

// ApplyEnv overrides configuration values from PACMIRROR_* environment
// variables.
func (c *Config) ApplyEnv() {
	overrides := []struct {
		name string
		dst  *string
	}{
		{"CACHE_DIR", &c.Paths.Cache},
		{"LOCAL_DIR", &c.Paths.Local},
		{"PROFILES_DIR", &c.Paths.Profiles},
		{"LOCK_FILE", &c.Paths.LockFile},
		{"LOG_LEVEL", &c.Log.Level},
		{"LOG_FORMAT", &c.Log.Format},
		{"USER_AGENT", &c.HTTP.UserAgent},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(envPrefix + o.name); ok {
			*o.dst = v
		}
	}
}

// Repositories resolves every repository section into its ordered
// mirror list, appending included mirrorlists.  The result is sorted
// by id.
func (c *Config) Repositories() ([]*Repository, error) {
	ids := make([]string, 0, len(c.Repos))
	for id := range c.Repos {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	repos := make([]*Repository, 0, len(ids))
	for _, id := range ids {
		rc := c.Repos[id]
		servers := append([]string(nil), rc.Server...)
		if rc.Include != "" {
			p := rc.Include
			if !filepath.IsAbs(p) {
				p = filepath.Join(c.baseDir, p)
			}
			included, err := readMirrorlist(p)
			if err != nil {
				return nil, errors.Wrap(err, id)
			}
			for _, tmpl := range included {
				if err := checkTemplate(tmpl); err != nil {
					return nil, errors.Wrapf(err, "%s: %s", id, p)
				}
			}
			servers = append(servers, included...)
		}
		if len(servers) == 0 {
			return nil, errors.New(id + ": no server")
		}
		repos = append(repos, &Repository{ID: pacdb.RepoID(id), Servers: servers})
	}
	return repos, nil
}

// readMirrorlist reads "Server = <template>" lines from a pacman
// mirrorlist.
func readMirrorlist(p string) ([]string, error) {
	f, err := os.Open(p) // #nosec G304 - include path comes from the configuration file
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var servers []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			slog.Warn("ignoring mirrorlist line", "path", p, "line", line)
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(key), "server") {
			slog.Debug("ignoring mirrorlist key", "path", p, "key", strings.TrimSpace(key))
			continue
		}
		servers = append(servers, strings.TrimSpace(value))
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, p)
	}
	return servers, nil
}
