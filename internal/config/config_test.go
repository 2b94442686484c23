package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cimonitor/cimonitor/internal/feed"
)

const validYAML = `
poller:
  interval: 5s
  workers: 4
  default_poll_interval: 2m
server:
  http_port: 9000
storage:
  backend: bolt
  path: /var/lib/cimonitor/history.db
log:
  level: debug
projects:
  - id: socialitis
    name: Socialitis
    type: cruisecontrol
    feed_url: "http://cc.example.com:3333/projects/socialitis.rss"
  - id: example
    type: hudson
    feed_url: "http://ci.example.com/job/example/rssAll"
    poll_interval: 30s
    auth:
      username: ci
      password_env: CIMON_TEST_HUDSON_PASSWORD
  - id: platform
    type: teamcity_build
    feed_url: "http://tc.example.com:8111/app/rest/builds?locator=running:all,buildType:(id:bt2)"
groups:
  - id: internal
    name: Internal
    projects: [socialitis, example]
`

func TestLoad_Valid(t *testing.T) {
	cfg := loadFromString(t, validYAML)

	if cfg.Poller.Interval != 5*time.Second {
		t.Errorf("poller.interval: got %v", cfg.Poller.Interval)
	}
	if cfg.Poller.Workers != 4 {
		t.Errorf("poller.workers: got %d", cfg.Poller.Workers)
	}
	if cfg.Server.HTTPPort != 9000 {
		t.Errorf("http_port: got %d", cfg.Server.HTTPPort)
	}
	if cfg.Storage.Backend != "bolt" || cfg.Storage.Path != "/var/lib/cimonitor/history.db" {
		t.Errorf("storage: got %+v", cfg.Storage)
	}
	if len(cfg.Projects) != 3 {
		t.Fatalf("projects: got %d, want 3", len(cfg.Projects))
	}
	if len(cfg.Groups) != 1 || len(cfg.Groups[0].Projects) != 2 {
		t.Errorf("groups: got %+v", cfg.Groups)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFromString(t, `
projects:
  - id: p
    type: hudson
    feed_url: "http://ci/job/p/rssAll"
`)
	if cfg.Poller.Interval != DefaultTick {
		t.Errorf("default interval: got %v, want %v", cfg.Poller.Interval, DefaultTick)
	}
	if cfg.Poller.Workers != DefaultWorkers {
		t.Errorf("default workers: got %d", cfg.Poller.Workers)
	}
	if cfg.Poller.Timeout != DefaultTimeout {
		t.Errorf("default timeout: got %v", cfg.Poller.Timeout)
	}
	if cfg.Server.HTTPPort != DefaultHTTPPort {
		t.Errorf("default http_port: got %d", cfg.Server.HTTPPort)
	}
	if cfg.Storage.Backend != DefaultStorageBackend {
		t.Errorf("default backend: got %q", cfg.Storage.Backend)
	}
	if !cfg.Log.JSON || cfg.Log.Level != DefaultLogLevel {
		t.Errorf("default log: got %+v", cfg.Log)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CIMON_HTTP_PORT", "9191")
	t.Setenv("CIMON_LOG_LEVEL", "warn")
	t.Setenv("CIMON_STORAGE_PATH", "/tmp/override.db")
	t.Setenv("CIMON_WORKERS", "2")

	cfg := loadFromString(t, validYAML)
	if cfg.Server.HTTPPort != 9191 {
		t.Errorf("http_port: got %d, want 9191", cfg.Server.HTTPPort)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log.level: got %q, want warn", cfg.Log.Level)
	}
	if cfg.Storage.Path != "/tmp/override.db" {
		t.Errorf("storage.path: got %q", cfg.Storage.Path)
	}
	if cfg.Poller.Workers != 2 {
		t.Errorf("workers: got %d, want 2", cfg.Poller.Workers)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown type",
			yaml:    "projects:\n  - id: p\n    type: svn\n    feed_url: http://x\n",
			wantErr: "unknown type",
		},
		{
			name:    "unknown type lists formats",
			yaml:    "projects:\n  - id: p\n    type: jenkins\n    feed_url: http://x\n",
			wantErr: "want one of [cruisecontrol hudson teamcity_rest teamcity_build]",
		},
		{
			name:    "missing feed url",
			yaml:    "projects:\n  - id: p\n    type: hudson\n",
			wantErr: "feed_url is required",
		},
		{
			name:    "duplicate id",
			yaml:    "projects:\n  - id: p\n    type: hudson\n    feed_url: http://a\n  - id: p\n    type: hudson\n    feed_url: http://b\n",
			wantErr: "duplicate id",
		},
		{
			name:    "bad teamcity url",
			yaml:    "projects:\n  - id: p\n    type: teamcity_rest\n    feed_url: http://tc/app/rest/builds\n",
			wantErr: "feed_url must look like",
		},
		{
			name:    "group with unknown project",
			yaml:    "groups:\n  - id: g\n    projects: [nope]\n",
			wantErr: "unknown project",
		},
		{
			name:    "unknown backend",
			yaml:    "storage:\n  backend: postgres\n",
			wantErr: "storage.backend",
		},
		{
			name:    "port out of range",
			yaml:    "server:\n  http_port: 70000\n",
			wantErr: "out of range",
		},
		{
			name:    "bad log level",
			yaml:    "log:\n  level: loud\n",
			wantErr: "log.level",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadStringErr(t, tc.yaml)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("err = %v, want it to contain %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestAuthConfig_Password(t *testing.T) {
	t.Setenv("CIMON_TEST_PW", "s3cret")
	if got := (AuthConfig{PasswordEnv: "CIMON_TEST_PW"}).Password(); got != "s3cret" {
		t.Errorf("Password() = %q", got)
	}
	if got := (AuthConfig{}).Password(); got != "" {
		t.Errorf("Password() without env = %q", got)
	}
}

func TestRegistryProjects(t *testing.T) {
	t.Setenv("CIMON_TEST_HUDSON_PASSWORD", "hunter2")
	cfg := loadFromString(t, validYAML)

	ps := cfg.RegistryProjects()
	if len(ps) != 3 {
		t.Fatalf("got %d projects", len(ps))
	}

	cc := ps[0]
	if cc.Name != "Socialitis" || cc.Format != feed.CruiseControl {
		t.Errorf("cc project: %+v", cc)
	}
	if cc.PollInterval != 2*time.Minute {
		t.Errorf("default poll interval not applied: %v", cc.PollInterval)
	}
	if cc.BuildStatusURL != "http://cc.example.com:3333/XmlStatusReport.aspx" {
		t.Errorf("derived build status url: %q", cc.BuildStatusURL)
	}

	h := ps[1]
	if h.Name != "example" {
		t.Errorf("name should default to id, got %q", h.Name)
	}
	if h.PollInterval != 30*time.Second {
		t.Errorf("poll interval: %v", h.PollInterval)
	}
	if h.Auth.Username != "ci" || h.Auth.Password != "hunter2" {
		t.Errorf("auth: %+v", h.Auth)
	}

	if tc := ps[2]; tc.BuildStatusURL != tc.FeedURL {
		t.Errorf("teamcity build status url should be the feed url, got %q", tc.BuildStatusURL)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config) {
			select {
			case got <- c:
			default:
			}
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	updated := strings.Replace(validYAML, "workers: 4", "workers: 6", 1)
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}

	// A write can surface as several events, the first of which may see a
	// truncated file.
	deadline := time.After(3 * time.Second)
	for reloaded := false; !reloaded; {
		select {
		case c := <-got:
			reloaded = c.Poller.Workers == 6
		case <-deadline:
			t.Fatal("no reload with workers=6 within 3s")
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch returned %v", err)
	}
}

// loadFromString writes yaml to a temp file and calls Load, failing on error.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

// loadStringErr writes yaml to a temp file and calls Load, returning any error.
func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return Load(path)
}
