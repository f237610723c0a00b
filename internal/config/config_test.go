package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Python.ExecTimeout != 10*time.Second {
		t.Errorf("Python.ExecTimeout = %s, want 10s", cfg.Python.ExecTimeout)
	}
	if len(cfg.Python.Command) != 1 || cfg.Python.Command[0] != "python3" {
		t.Errorf("Python.Command = %v, want [python3]", cfg.Python.Command)
	}
	if cfg.SQL.Driver != "sqlite" || cfg.SQL.DSN != ":memory:" {
		t.Errorf("SQL = %+v, want sqlite :memory:", cfg.SQL)
	}
	if cfg.Editor.Theme != "vs-dark" || cfg.Editor.FontSize != 14 {
		t.Errorf("Editor = %+v", cfg.Editor)
	}
	if cfg.Submission.CSRFCookie != "csrftoken" || cfg.Submission.CSRFHeader != "X-CSRFToken" {
		t.Errorf("Submission = %+v", cfg.Submission)
	}
	if cfg.Security.UserHeader != "X-User-ID" {
		t.Errorf("Security.UserHeader = %q", cfg.Security.UserHeader)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return DefaultConfig()
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"server port 0", func(c *Config) { c.Server.Port = 0 }, true},
		{"server port 99999", func(c *Config) { c.Server.Port = 99999 }, true},
		{"empty python command", func(c *Config) { c.Python.Command = nil }, true},
		{"blank python binary", func(c *Config) { c.Python.Command = []string{" "} }, true},
		{"docker launcher", func(c *Config) {
			c.Python.Command = []string{"docker", "run", "-i", "--rm", "python:3.12-slim", "python3"}
		}, false},
		{"zero exec timeout", func(c *Config) { c.Python.ExecTimeout = 0 }, true},
		{"zero start timeout", func(c *Config) { c.Python.StartTimeout = 0 }, true},
		{"container enabled", func(c *Config) { c.Python.Container.Enabled = true }, false},
		{"container without image", func(c *Config) {
			c.Python.Container.Enabled = true
			c.Python.Container.Image = ""
		}, true},
		{"container memory too low", func(c *Config) {
			c.Python.Container.Enabled = true
			c.Python.Container.Limits.MemoryMB = 8
		}, true},
		{"disabled container not checked", func(c *Config) { c.Python.Container.Image = "" }, false},
		{"no sql driver", func(c *Config) { c.SQL.Driver = "" }, true},
		{"font size 2", func(c *Config) { c.Editor.FontSize = 2 }, true},
		{"no csrf header", func(c *Config) { c.Submission.CSRFHeader = "" }, true},
		{"no user header", func(c *Config) { c.Security.UserHeader = "" }, true},
		{"TLS enabled without cert", func(c *Config) {
			c.TLS.Enabled = true
			c.TLS.CertFile = ""
			c.TLS.KeyFile = ""
		}, true},
		{"TLS enabled with cert+key", func(c *Config) {
			c.TLS.Enabled = true
			c.TLS.CertFile = "/etc/ssl/cert.pem"
			c.TLS.KeyFile = "/etc/ssl/key.pem"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
server:
  host: "127.0.0.1"
  port: 9090
python:
  command: ["docker", "run", "-i", "--rm", "python:3.12-slim", "python3"]
  exec_timeout: 5s
editor:
  theme: vs
exercises:
  catalog_path: /srv/exercises.yaml
security:
  allowed_keys: ["k1"]
  user_header: X-Remote-User
`
	tmpFile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.WriteString(yamlContent); err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if len(cfg.Python.Command) != 6 || cfg.Python.Command[0] != "docker" {
		t.Errorf("Python.Command = %v", cfg.Python.Command)
	}
	if cfg.Python.ExecTimeout != 5*time.Second {
		t.Errorf("Python.ExecTimeout = %s, want 5s", cfg.Python.ExecTimeout)
	}
	if cfg.Python.StartTimeout != 30*time.Second {
		t.Errorf("Python.StartTimeout = %s, want default 30s", cfg.Python.StartTimeout)
	}
	if cfg.Editor.Theme != "vs" || cfg.Editor.FontSize != 14 {
		t.Errorf("Editor = %+v", cfg.Editor)
	}
	if cfg.Exercises.CatalogPath != "/srv/exercises.yaml" {
		t.Errorf("Exercises.CatalogPath = %q", cfg.Exercises.CatalogPath)
	}
	if cfg.Security.UserHeader != "X-Remote-User" || len(cfg.Security.AllowedKeys) != 1 {
		t.Errorf("Security = %+v", cfg.Security)
	}
}

func TestLoad_Container(t *testing.T) {
	path := filepath.Join(t.TempDir(), "container.yaml")
	yamlContent := `
python:
  container:
    enabled: true
    engine: podman
    limits:
      memory_mb: 512
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ct := cfg.Python.Container
	if !ct.Enabled || ct.Engine != "podman" {
		t.Errorf("Container = %+v", ct)
	}
	if ct.Limits.MemoryMB != 512 || ct.Limits.PidsLimit != 32 {
		t.Errorf("Limits = %+v, want memory 512 and default pids 32", ct.Limits)
	}
	if ct.Image != "python:3.12-slim" || !ct.Seccomp {
		t.Errorf("defaults lost: image %q seccomp %v", ct.Image, ct.Seccomp)
	}

	sb := ct.Sandbox([]string{"TZ=UTC"})
	if sb.Engine != "podman" || len(sb.Env) != 1 {
		t.Errorf("Sandbox() = %+v", sb)
	}
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("python:\n  exec_timeout: 0s\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected validation error, got nil")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestAddress(t *testing.T) {
	cfg := DefaultConfig()
	want := "0.0.0.0:8080"
	if got := cfg.Address(); got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}

	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 3000
	want = "127.0.0.1:3000"
	if got := cfg.Address(); got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}
}
