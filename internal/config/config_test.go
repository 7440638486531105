// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, TMS_* overrides, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "core.yaml", `
server:
  http_addr: "0.0.0.0:9090"

database:
  path: "./core.db"

auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"

enhanced:
  url: "https://enhanced.example.com/"
  secret: "shared"
  instance_id: "inst-42"
  timeout: "3s"

cron:
  secret: "cron-secret"
  schedule: "*/10 * * * *"

logging:
  level: "debug"
  format: "json"
  file: "/var/log/tms-core.log"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:9090" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:9090")
	}
	if cfg.Database.Path != "./core.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./core.db")
	}
	if cfg.Enhanced.URL != "https://enhanced.example.com" {
		t.Errorf("Enhanced.URL = %q, want trailing slash trimmed", cfg.Enhanced.URL)
	}
	if cfg.Enhanced.Secret != "shared" || cfg.Enhanced.InstanceID != "inst-42" {
		t.Errorf("Enhanced = %+v", cfg.Enhanced)
	}
	if cfg.Enhanced.Timeout != 3*time.Second {
		t.Errorf("Enhanced.Timeout = %v, want %v", cfg.Enhanced.Timeout, 3*time.Second)
	}
	if cfg.Cron.Schedule != "*/10 * * * *" {
		t.Errorf("Cron.Schedule = %q", cfg.Cron.Schedule)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" || cfg.Logging.File != "/var/log/tms-core.log" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if got := cfg.TriggerURL(); got != "http://127.0.0.1:9090/heartbeat-trigger" {
		t.Errorf("TriggerURL() = %q", got)
	}
}

func TestLoad_ValidTOML(t *testing.T) {
	path := writeConfig(t, "core.toml", `
[database]
path = "/data/core.db"

[enhanced]
url = "http://enhanced.internal:8443"
timeout = "750ms"

[cron]
trigger_url = "http://core.internal/heartbeat-trigger"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/data/core.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Enhanced.Timeout != 750*time.Millisecond {
		t.Errorf("Enhanced.Timeout = %v", cfg.Enhanced.Timeout)
	}
	if got := cfg.TriggerURL(); got != "http://core.internal/heartbeat-trigger" {
		t.Errorf("TriggerURL() = %q", got)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "core.yaml", "database:\n  path: core.db\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != DefaultHTTPAddr {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, DefaultHTTPAddr)
	}
	if cfg.Enhanced.URL != "" {
		t.Errorf("Enhanced.URL = %q, want empty (not configured)", cfg.Enhanced.URL)
	}
	if cfg.Enhanced.Timeout != DefaultEnhancedTimeout {
		t.Errorf("Enhanced.Timeout = %v, want %v", cfg.Enhanced.Timeout, DefaultEnhancedTimeout)
	}
	if cfg.Cron.Schedule != DefaultCronSchedule {
		t.Errorf("Cron.Schedule = %q, want %q", cfg.Cron.Schedule, DefaultCronSchedule)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_TMS_SECRET", "expanded-secret")
	t.Setenv("TEST_TMS_DB", "/tmp/expanded.db")

	path := writeConfig(t, "core.yaml", `
database:
  path: "${TEST_TMS_DB}"
enhanced:
  secret: "${TEST_TMS_SECRET}"
  instance_id: "${TEST_TMS_UNSET_VAR}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/tmp/expanded.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Enhanced.Secret != "expanded-secret" {
		t.Errorf("Enhanced.Secret = %q", cfg.Enhanced.Secret)
	}
	if cfg.Enhanced.InstanceID != "" {
		t.Errorf("Enhanced.InstanceID = %q, want empty for unset var", cfg.Enhanced.InstanceID)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TMS_DB_PATH", "/override/core.db")
	t.Setenv("TMS_ENHANCED_URL", " https://override.example.com/ ")
	t.Setenv("TMS_ENHANCED_SECRET", "env-secret")
	t.Setenv("TMS_INSTANCE_ID", "env-instance")
	t.Setenv("TMS_CRON_SECRET", "env-cron")

	path := writeConfig(t, "core.yaml", `
database:
  path: "file.db"
enhanced:
  url: "https://file.example.com"
  secret: "file-secret"
cron:
  secret: "file-cron"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/override/core.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Enhanced.URL != "https://override.example.com" {
		t.Errorf("Enhanced.URL = %q", cfg.Enhanced.URL)
	}
	if cfg.Enhanced.Secret != "env-secret" || cfg.Enhanced.InstanceID != "env-instance" {
		t.Errorf("Enhanced = %+v", cfg.Enhanced)
	}
	if cfg.Cron.Secret != "env-cron" {
		t.Errorf("Cron.Secret = %q", cfg.Cron.Secret)
	}
}

func TestLoad_EmptyEnvOverrideClearsURL(t *testing.T) {
	t.Setenv("TMS_ENHANCED_URL", "")

	path := writeConfig(t, "core.yaml", "database:\n  path: core.db\nenhanced:\n  url: https://file.example.com\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Enhanced.URL != "" {
		t.Errorf("Enhanced.URL = %q, want empty", cfg.Enhanced.URL)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing database path", "server:\n  http_addr: ':8080'\n", "database.path is required"},
		{"bad yaml", "database: [\n", "parsing config file"},
		{"bad timeout", "database:\n  path: a.db\nenhanced:\n  timeout: soon\n", "enhanced.timeout"},
		{"zero timeout", "database:\n  path: a.db\nenhanced:\n  timeout: 0s\n", "enhanced.timeout must be positive"},
		{"bad enhanced scheme", "database:\n  path: a.db\nenhanced:\n  url: ftp://x\n", "enhanced.url"},
		{"enhanced without host", "database:\n  path: a.db\nenhanced:\n  url: 'https://'\n", "missing host"},
		{"short jwt secret", "database:\n  path: a.db\nauth:\n  jwt_secret: short\n", "auth.jwt_secret"},
		{"bad schedule", "database:\n  path: a.db\ncron:\n  schedule: 'every now and then'\n", "cron.schedule"},
		{"bad log level", "database:\n  path: a.db\nlogging:\n  level: loud\n", "logging.level"},
		{"bad log format", "database:\n  path: a.db\nlogging:\n  format: xml\n", "logging.format"},
		{"tailscale without hostname", "database:\n  path: a.db\ntailscale:\n  enabled: true\n", "tailscale.hostname"},
		{"tailscale without trigger url", "database:\n  path: a.db\ntailscale:\n  enabled: true\n  hostname: tms-core\n", "cron.trigger_url is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "core.yaml", tt.content))
			if err == nil {
				t.Fatal("Load() should have returned an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("Load() error = %v, want reading config file error", err)
	}
}

func TestLoad_TailscaleWithoutHTTPAddr(t *testing.T) {
	path := writeConfig(t, "core.yaml", `
database:
  path: a.db
tailscale:
  enabled: true
  hostname: tms-core
cron:
  trigger_url: "https://tms-core.example.ts.net/heartbeat-trigger"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPAddr != "" {
		t.Errorf("Server.HTTPAddr = %q, want empty when tailscale is enabled", cfg.Server.HTTPAddr)
	}
	if got := cfg.TriggerURL(); got != "https://tms-core.example.ts.net/heartbeat-trigger" {
		t.Errorf("TriggerURL() = %q", got)
	}
	if got := cfg.ServiceBaseURL(); got != "https://tms-core.example.ts.net" {
		t.Errorf("ServiceBaseURL() = %q, want the tailnet origin", got)
	}
}

func TestServiceBaseURL_WithoutTailscale(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{HTTPAddr: ":9000"},
		Cron:   CronConfig{TriggerURL: "http://scheduler-proxy:8000/heartbeat-trigger"},
	}
	if got := cfg.ServiceBaseURL(); got != "http://127.0.0.1:9000" {
		t.Errorf("ServiceBaseURL() = %q, want the local listener", got)
	}
}

func TestDefaultPath(t *testing.T) {
	t.Run("env wins", func(t *testing.T) {
		t.Setenv("TMS_CONFIG", "/etc/tms/core.yaml")
		if got := DefaultPath(); got != "/etc/tms/core.yaml" {
			t.Errorf("DefaultPath() = %q", got)
		}
	})

	t.Run("xdg", func(t *testing.T) {
		t.Setenv("TMS_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "/xdg")
		if got := DefaultPath(); got != filepath.Join("/xdg", "tms", "core.yaml") {
			t.Errorf("DefaultPath() = %q", got)
		}
	})
}

func TestLocalBaseURL(t *testing.T) {
	tests := map[string]string{
		"":               "http://127.0.0.1:8080",
		":8080":          "http://127.0.0.1:8080",
		"0.0.0.0:9000":   "http://127.0.0.1:9000",
		"10.0.0.5:80":    "http://10.0.0.5:80",
		"localhost:3000": "http://localhost:3000",
	}
	for addr, want := range tests {
		cfg := &Config{Server: ServerConfig{HTTPAddr: addr}}
		if got := cfg.LocalBaseURL(); got != want {
			t.Errorf("LocalBaseURL() for %q = %q, want %q", addr, got, want)
		}
	}
}
