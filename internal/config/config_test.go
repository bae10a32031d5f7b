package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

// envVars lists every override Load() consults, so tests can start clean.
var envVars = []string{
	"CADENCE_CONFIG_PATH",
	"CADENCE_PORT",
	"CADENCE_API_KEY",
	"CADENCE_DB_PATH",
	"CADENCE_REMOTE_URL",
	"CADENCE_REMOTE_API_KEY",
	"CADENCE_REMOTE_TIMEOUT",
	"CADENCE_RETRY_BASE",
	"CADENCE_MAX_RETRIES",
	"CADENCE_PROBE_INTERVAL",
	"CADENCE_OFFLINE",
	"CADENCE_BACKUP_ENDPOINT",
	"CADENCE_BACKUP_BUCKET",
	"CADENCE_BACKUP_ACCESS_KEY",
	"CADENCE_BACKUP_SECRET_KEY",
	"CADENCE_LOG_LEVEL",
	"CADENCE_LOG_FORMAT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envVars {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	// Offline mode so the missing remote URL passes validation.
	t.Setenv("CADENCE_OFFLINE", "true")
	t.Setenv("CADENCE_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 7600 {
		t.Errorf("port = %d, want 7600", cfg.Server.Port)
	}
	if cfg.Database.Path != "data/cadence.db" {
		t.Errorf("db path = %q", cfg.Database.Path)
	}
	if time.Duration(cfg.Sync.RetryBase) != time.Second {
		t.Errorf("retry_base = %v, want 1s", time.Duration(cfg.Sync.RetryBase))
	}
	if cfg.Sync.MaxRetries != 3 {
		t.Errorf("max_retries = %d, want 3", cfg.Sync.MaxRetries)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	clearEnv(t)

	configPath := filepath.Join(t.TempDir(), "cadence.yaml")
	content := `
server:
  port: 9000
remote:
  base_url: https://habits.example.com
  timeout: 45s
sync:
  retry_base: 2s
  max_retries: 5
log:
  level: debug
  format: text
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CADENCE_CONFIG_PATH", configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Remote.BaseURL != "https://habits.example.com" {
		t.Errorf("base_url = %q", cfg.Remote.BaseURL)
	}
	if time.Duration(cfg.Remote.Timeout) != 45*time.Second {
		t.Errorf("timeout = %v, want 45s", time.Duration(cfg.Remote.Timeout))
	}
	if time.Duration(cfg.Sync.RetryBase) != 2*time.Second {
		t.Errorf("retry_base = %v, want 2s", time.Duration(cfg.Sync.RetryBase))
	}
	if cfg.Sync.MaxRetries != 5 {
		t.Errorf("max_retries = %d, want 5", cfg.Sync.MaxRetries)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
	// Untouched sections keep their defaults.
	if cfg.Database.Path != "data/cadence.db" {
		t.Errorf("db path = %q, want default", cfg.Database.Path)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)

	configPath := filepath.Join(t.TempDir(), "cadence.yaml")
	content := `
server:
  port: 9000
remote:
  base_url: https://from-yaml.example.com
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CADENCE_CONFIG_PATH", configPath)
	t.Setenv("CADENCE_PORT", "9100")
	t.Setenv("CADENCE_REMOTE_URL", "https://from-env.example.com")
	t.Setenv("CADENCE_REMOTE_API_KEY", "secret-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want env override 9100", cfg.Server.Port)
	}
	if cfg.Remote.BaseURL != "https://from-env.example.com" {
		t.Errorf("base_url = %q, want env override", cfg.Remote.BaseURL)
	}
	if cfg.Remote.APIKey != "secret-key" {
		t.Errorf("api key = %q", cfg.Remote.APIKey)
	}
}

func TestLoad_SecretsNeverFromYAML(t *testing.T) {
	clearEnv(t)

	configPath := filepath.Join(t.TempDir(), "cadence.yaml")
	content := `
remote:
  base_url: https://habits.example.com
  api_key: leaked-from-file
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CADENCE_CONFIG_PATH", configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Remote.APIKey != "" {
		t.Errorf("api key = %q, want empty (env-only)", cfg.Remote.APIKey)
	}
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "remote url required when online",
			env:     map[string]string{},
			wantErr: "base_url",
		},
		{
			name: "negative max retries",
			env: map[string]string{
				"CADENCE_OFFLINE":     "true",
				"CADENCE_MAX_RETRIES": "-1",
			},
			wantErr: "max_retries",
		},
		{
			name: "zero retry base",
			env: map[string]string{
				"CADENCE_OFFLINE":    "true",
				"CADENCE_RETRY_BASE": "0s",
			},
			wantErr: "retry_base",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("CADENCE_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			if err == nil {
				t.Fatal("load succeeded, want validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	clearEnv(t)

	configPath := filepath.Join(t.TempDir(), "cadence.yaml")
	if err := os.WriteFile(configPath, []byte("server: [not a map"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CADENCE_CONFIG_PATH", configPath)

	if _, err := Load(); err == nil {
		t.Fatal("load succeeded with malformed YAML")
	}
}

func TestDuration_Unmarshal(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{`"30s"`, 30 * time.Second, false},
		{`"1h30m"`, 90 * time.Minute, false},
		{`"250ms"`, 250 * time.Millisecond, false},
		{`"nonsense"`, 0, true},
	}

	for _, tt := range tests {
		var d Duration
		err := yaml.Unmarshal([]byte(tt.in), &d)
		if tt.wantErr {
			if err == nil {
				t.Errorf("unmarshal %s succeeded, want error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("unmarshal %s: %v", tt.in, err)
			continue
		}
		if time.Duration(d) != tt.want {
			t.Errorf("unmarshal %s = %v, want %v", tt.in, time.Duration(d), tt.want)
		}
	}
}
