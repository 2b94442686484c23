package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/cimonitor/cimonitor/internal/feed"
	"github.com/cimonitor/cimonitor/internal/retriever"
	"github.com/cimonitor/cimonitor/internal/store"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultTick              = 10 * time.Second
	DefaultWorkers           = 8
	DefaultTimeout           = retriever.DefaultTimeout
	DefaultPollInterval      = 60 * time.Second
	DefaultTreeConcurrency   = 4
	DefaultHTTPPort          = 8080
	DefaultBroadcastInterval = 5 * time.Second
	DefaultStorageBackend    = "memory"
	DefaultStoragePath       = "cimonitor.db"
	DefaultLogLevel          = "info"
)

// EnvPrefix prefixes every environment override, e.g. CIMON_HTTP_PORT.
const EnvPrefix = "cimon"

// Config is the top-level configuration. Fields map 1:1 to
// config.example.yaml.
type Config struct {
	Poller   PollerConfig    `yaml:"poller"`
	Server   ServerConfig    `yaml:"server"`
	Storage  StorageConfig   `yaml:"storage"`
	Log      LogConfig       `yaml:"log"`
	Projects []ProjectConfig `yaml:"projects"`
	Groups   []GroupConfig   `yaml:"groups"`
}

// PollerConfig controls the scheduler and outbound fetches.
type PollerConfig struct {
	// Interval is how often the scheduler looks for due projects. Each
	// project's own poll_interval decides whether it is actually polled.
	Interval time.Duration `yaml:"interval"`

	// Workers bounds concurrent project cycles in one pass.
	Workers int `yaml:"workers"`

	// Timeout bounds a single feed retrieval.
	Timeout time.Duration `yaml:"timeout"`

	// DefaultPollInterval applies to projects without poll_interval.
	DefaultPollInterval time.Duration `yaml:"default_poll_interval"`

	// TreeConcurrency bounds parallel fetches while resolving one
	// dependency tree.
	TreeConcurrency int `yaml:"tree_concurrency"`

	// InsecureSkipVerify disables TLS certificate verification for every
	// feed. Only use this for internal CAs.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// ServerConfig holds the dashboard API settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API and WebSocket hub listen on.
	HTTPPort int `yaml:"http_port"`

	// BroadcastInterval is how often the dashboard is pushed to websocket
	// clients.
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
}

// StorageConfig selects the history backend.
type StorageConfig struct {
	// Backend is one of: memory | bolt.
	Backend string `yaml:"backend"`

	// Path is the bbolt database file, used when Backend == "bolt".
	Path string `yaml:"path"`
}

// LogConfig controls the default slog handler.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`

	// JSON selects the JSON handler; false uses text.
	JSON bool `yaml:"json"`
}

// ProjectConfig describes one monitored CI project.
type ProjectConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// Type is the feed format: cruisecontrol | hudson | teamcity_rest |
	// teamcity_build.
	Type string `yaml:"type"`

	FeedURL string `yaml:"feed_url"`

	// BuildStatusURL is derived from FeedURL when empty.
	BuildStatusURL string `yaml:"build_status_url"`

	PollInterval time.Duration `yaml:"poll_interval"`

	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig holds optional HTTP Basic credentials for a feed.
type AuthConfig struct {
	// Username is the literal username (safe to store in config).
	Username string `yaml:"username"`
	// PasswordEnv is the name of the environment variable that holds the password.
	PasswordEnv string `yaml:"password_env"`
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// GroupConfig is an aggregate of projects shown as one tile.
type GroupConfig struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Projects []string `yaml:"projects"`
}

// envOverrides are read with envconfig under EnvPrefix. Zero values leave
// the file setting untouched.
type envOverrides struct {
	HTTPPort       int           `envconfig:"HTTP_PORT"`
	LogLevel       string        `envconfig:"LOG_LEVEL"`
	StorageBackend string        `envconfig:"STORAGE_BACKEND"`
	StoragePath    string        `envconfig:"STORAGE_PATH"`
	Workers        int           `envconfig:"WORKERS"`
	Interval       time.Duration `envconfig:"POLL_INTERVAL"`
}

// Load reads and parses the YAML config file at path, applies environment
// overrides and validates the result. Missing optional fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Poller: PollerConfig{
			Interval:            DefaultTick,
			Workers:             DefaultWorkers,
			Timeout:             DefaultTimeout,
			DefaultPollInterval: DefaultPollInterval,
			TreeConcurrency:     DefaultTreeConcurrency,
		},
		Server: ServerConfig{
			HTTPPort:          DefaultHTTPPort,
			BroadcastInterval: DefaultBroadcastInterval,
		},
		Storage: StorageConfig{
			Backend: DefaultStorageBackend,
			Path:    DefaultStoragePath,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
			JSON:  true,
		},
	}
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return err
	}
	if env.HTTPPort != 0 {
		cfg.Server.HTTPPort = env.HTTPPort
	}
	if env.LogLevel != "" {
		cfg.Log.Level = env.LogLevel
	}
	if env.StorageBackend != "" {
		cfg.Storage.Backend = env.StorageBackend
	}
	if env.StoragePath != "" {
		cfg.Storage.Path = env.StoragePath
	}
	if env.Workers != 0 {
		cfg.Poller.Workers = env.Workers
	}
	if env.Interval != 0 {
		cfg.Poller.Interval = env.Interval
	}
	return nil
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.Poller.Interval <= 0 {
		return fmt.Errorf("poller.interval must be positive")
	}
	if cfg.Poller.Workers <= 0 {
		return fmt.Errorf("poller.workers must be positive")
	}
	if cfg.Poller.Timeout <= 0 {
		return fmt.Errorf("poller.timeout must be positive")
	}
	if cfg.Poller.DefaultPollInterval <= 0 {
		return fmt.Errorf("poller.default_poll_interval must be positive")
	}
	if cfg.Poller.TreeConcurrency <= 0 {
		return fmt.Errorf("poller.tree_concurrency must be positive")
	}
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	if cfg.Server.BroadcastInterval <= 0 {
		return fmt.Errorf("server.broadcast_interval must be positive")
	}
	switch cfg.Storage.Backend {
	case "memory":
	case "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the bolt backend")
		}
	default:
		return fmt.Errorf("storage.backend %q unknown: want memory|bolt", cfg.Storage.Backend)
	}
	if _, err := ParseLevel(cfg.Log.Level); err != nil {
		return err
	}

	seen := make(map[string]bool, len(cfg.Projects))
	for i, p := range cfg.Projects {
		if p.ID == "" {
			return fmt.Errorf("projects[%d]: id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("projects[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true
		if p.FeedURL == "" {
			return fmt.Errorf("projects[%d] %q: feed_url is required", i, p.ID)
		}
		f := feed.Format(p.Type)
		if !f.Valid() {
			return fmt.Errorf("projects[%d] %q: unknown type %q, want one of %v", i, p.ID, p.Type, feed.Formats)
		}
		if (f == feed.TeamCityREST || f == feed.TeamCityBuild) && !feed.ValidTeamCityFeed(p.FeedURL) {
			return fmt.Errorf("projects[%d] %q: feed_url must look like http://host/app/rest/builds?locator=running:all,buildType:(id:bt1)", i, p.ID)
		}
		if p.PollInterval < 0 {
			return fmt.Errorf("projects[%d] %q: poll_interval must not be negative", i, p.ID)
		}
	}

	groups := make(map[string]bool, len(cfg.Groups))
	for i, g := range cfg.Groups {
		if g.ID == "" {
			return fmt.Errorf("groups[%d]: id is required", i)
		}
		if groups[g.ID] {
			return fmt.Errorf("groups[%d]: duplicate id %q", i, g.ID)
		}
		groups[g.ID] = true
		for _, pid := range g.Projects {
			if !seen[pid] {
				return fmt.Errorf("groups[%d] %q: unknown project %q", i, g.ID, pid)
			}
		}
	}
	return nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level %q unknown: want debug|info|warn|error", s)
}

// RegistryProjects converts the configured projects into registry entries,
// filling poll intervals and build-status URLs.
func (c *Config) RegistryProjects() []store.Project {
	out := make([]store.Project, 0, len(c.Projects))
	for _, p := range c.Projects {
		f := feed.Format(p.Type)
		interval := p.PollInterval
		if interval == 0 {
			interval = c.Poller.DefaultPollInterval
		}
		bs := p.BuildStatusURL
		if bs == "" {
			bs = feed.BuildStatusURL(f, p.FeedURL)
		}
		name := p.Name
		if name == "" {
			name = p.ID
		}
		out = append(out, store.Project{
			ID:             p.ID,
			Name:           name,
			Format:         f,
			FeedURL:        p.FeedURL,
			BuildStatusURL: bs,
			Auth:           retriever.Auth{Username: p.Auth.Username, Password: p.Auth.Password()},
			PollInterval:   interval,
		})
	}
	return out
}
