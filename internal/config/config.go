package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"exercise-runner/internal/sandbox"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Python     PythonConfig     `yaml:"python"`
	SQL        SQLConfig        `yaml:"sql"`
	Editor     EditorConfig     `yaml:"editor"`
	Submission SubmissionConfig `yaml:"submission"`
	Exercises  ExercisesConfig  `yaml:"exercises"`
	Database   DatabaseConfig   `yaml:"database"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Security   SecurityConfig   `yaml:"security"`
	TLS        TLSConfig        `yaml:"tls"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body_bytes"`
}

// PythonConfig controls the interpreter process.
type PythonConfig struct {
	Command      []string      `yaml:"command"` // launcher prefix ending in a python binary
	Env          []string      `yaml:"env"`
	StartTimeout time.Duration `yaml:"start_timeout"`
	ExecTimeout  time.Duration `yaml:"exec_timeout"`

	Container ContainerConfig `yaml:"container"`
}

// ContainerConfig runs the interpreter inside a container instead of
// directly on the host. Command is ignored when enabled.
type ContainerConfig struct {
	Enabled bool           `yaml:"enabled"`
	Engine  string         `yaml:"engine"`
	Image   string         `yaml:"image"`
	Binary  string         `yaml:"binary"`
	User    string         `yaml:"user"`
	Network bool           `yaml:"network"`
	Seccomp bool           `yaml:"seccomp"` // write and apply the interpreter profile
	Limits  sandbox.Limits `yaml:"limits"`
}

// Sandbox returns the launcher description for this configuration.
func (c ContainerConfig) Sandbox(env []string) sandbox.Container {
	return sandbox.Container{
		Engine:     c.Engine,
		Image:      c.Image,
		Binary:     c.Binary,
		Limits:     c.Limits,
		Network:    c.Network,
		User:       c.User,
		Env:        env,
		NamePrefix: sandbox.DefaultNamePrefix,
	}
}

type SQLConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type EditorConfig struct {
	Theme           string `yaml:"theme"`
	FontSize        int    `yaml:"font_size"`
	CompletionsPath string `yaml:"completions_path"` // empty uses the built-in snippets
}

type SubmissionConfig struct {
	BaseURL    string        `yaml:"base_url"`
	CSRFCookie string        `yaml:"csrf_cookie"`
	CSRFHeader string        `yaml:"csrf_header"`
	Timeout    time.Duration `yaml:"timeout"`
}

type ExercisesConfig struct {
	CatalogPath string `yaml:"catalog_path"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AuditBuffer     int           `yaml:"audit_buffer"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Endpoint string  `yaml:"endpoint"`
	Sample   float64 `yaml:"sample_rate"`
}

type SecurityConfig struct {
	APIKeyHeader         string   `yaml:"api_key_header"`
	AllowedKeys          []string `yaml:"allowed_keys"`
	AllowUnauthenticated bool     `yaml:"allow_unauthenticated"`
	RateLimitRPS         float64  `yaml:"rate_limit_rps"`
	RateLimitBurst       int      `yaml:"rate_limit_burst"`
	UserHeader           string   `yaml:"user_header"` // set by the fronting auth proxy
}

// TLSConfig controls HTTPS/TLS termination.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    65 * time.Second, // > exec timeout per check + overhead
			ShutdownTimeout: 30 * time.Second,
			MaxRequestBody:  1 << 20, // 1MB
		},
		Python: PythonConfig{
			Command:      []string{"python3"},
			StartTimeout: 30 * time.Second,
			ExecTimeout:  10 * time.Second,
			Container: ContainerConfig{
				Engine:  "docker",
				Image:   "python:3.12-slim",
				Binary:  "python3",
				User:    "65534:65534",
				Seccomp: true,
				Limits:  sandbox.DefaultLimits(),
			},
		},
		SQL: SQLConfig{
			Driver: "sqlite",
			DSN:    ":memory:",
		},
		Editor: EditorConfig{
			Theme:    "vs-dark",
			FontSize: 14,
		},
		Submission: SubmissionConfig{
			BaseURL:    "http://localhost:8080",
			CSRFCookie: "csrftoken",
			CSRFHeader: "X-CSRFToken",
			Timeout:    30 * time.Second,
		},
		Exercises: ExercisesConfig{
			CatalogPath: "configs/exercises.yaml",
		},
		Database: DatabaseConfig{
			DSN:             "",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			AuditBuffer:     10000,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled: false,
			Sample:  0.1,
		},
		Security: SecurityConfig{
			APIKeyHeader:   "X-API-Key",
			RateLimitRPS:   100,
			RateLimitBurst: 200,
			UserHeader:     "X-User-ID",
		},
		TLS: TLSConfig{
			Enabled: false,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if len(c.Python.Command) == 0 || strings.TrimSpace(c.Python.Command[0]) == "" {
		return fmt.Errorf("python.command must name a python binary")
	}
	if c.Python.ExecTimeout <= 0 {
		return fmt.Errorf("python.exec_timeout must be > 0")
	}
	if c.Python.StartTimeout <= 0 {
		return fmt.Errorf("python.start_timeout must be > 0")
	}
	if c.Python.Container.Enabled {
		if err := c.Python.Container.Sandbox(nil).Validate(); err != nil {
			return fmt.Errorf("python.container: %w", err)
		}
		if c.Python.Container.Network {
			log.Warn().Msg("python.container.network is enabled; learner code can reach the network")
		}
	}
	if c.SQL.Driver == "" {
		return fmt.Errorf("sql.driver is required")
	}
	if c.Editor.FontSize < 6 || c.Editor.FontSize > 72 {
		return fmt.Errorf("editor.font_size must be 6-72, got %d", c.Editor.FontSize)
	}
	if c.Submission.CSRFCookie == "" || c.Submission.CSRFHeader == "" {
		return fmt.Errorf("submission.csrf_cookie and submission.csrf_header are required")
	}
	if c.Security.UserHeader == "" {
		return fmt.Errorf("security.user_header is required")
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}
	}
	if len(c.Security.AllowedKeys) == 0 && !c.Security.AllowUnauthenticated {
		log.Warn().Msg("no API keys configured and allow_unauthenticated is false; execution routes will reject every request")
	}
	if c.Database.DSN != "" && strings.Contains(c.Database.DSN, "sslmode=disable") {
		log.Warn().Msg("database DSN has sslmode=disable; connections to Postgres are unencrypted")
	}
	return nil
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
