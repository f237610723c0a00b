package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"exercise-runner/internal/api"
	"exercise-runner/internal/config"
	"exercise-runner/internal/editor"
	"exercise-runner/internal/execution"
	"exercise-runner/internal/exercise"
	"exercise-runner/internal/grading"
	"exercise-runner/internal/monitor"
	"exercise-runner/internal/runtime"
	"exercise-runner/internal/storage"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	// Structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	var err error

	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Database.DSN = dsn
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := monitor.NewMetrics()

	pyCfg := runtime.PythonConfig{
		Command:      cfg.Python.Command,
		Env:          cfg.Python.Env,
		StartTimeout: cfg.Python.StartTimeout,
	}
	if cfg.Python.Container.Enabled {
		cleanup, err := containerLauncher(ctx, cfg.Python, &pyCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("interpreter container unavailable")
		}
		defer cleanup()
	}

	// Runtimes load lazily on first use
	session := runtime.NewSession(
		pyCfg,
		runtime.SQLConfig{Driver: cfg.SQL.Driver, DSN: cfg.SQL.DSN},
		runtime.WithLoadObserver(metrics),
	)

	// Storage: Postgres when configured, in-memory otherwise
	var (
		attempts   storage.AttemptStore
		executions api.ExecutionReader
		auditSink  storage.ExecutionLogger
		dbEnabled  bool
	)
	memory := storage.NewMemoryStore()
	attempts, executions, auditSink = memory, memory, memory

	if cfg.Database.DSN != "" {
		db, err := storage.New(ctx, cfg.Database.DSN, storage.PoolOptions{
			MaxConns:        cfg.Database.MaxOpenConns,
			MinConns:        cfg.Database.MaxIdleConns,
			MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			log.Warn().Err(err).Msg("database unavailable, attempts kept in memory")
		} else {
			defer db.Close()
			if err := db.Migrate(ctx); err != nil {
				log.Fatal().Err(err).Msg("database migration failed")
			}
			attempts, executions, auditSink = db, db, db
			dbEnabled = true
		}
	}

	// Buffered audit log of executions
	auditWriter := storage.NewAuditWriter(auditSink, cfg.Database.AuditBuffer)
	auditWriter.Start()
	defer auditWriter.Flush(10 * time.Second)

	execOpts := []execution.Option{
		execution.WithMetrics(metrics),
		execution.WithTimeout(cfg.Python.ExecTimeout),
		execution.WithAudit(auditWriter),
	}
	if cfg.Tracing.Enabled {
		execOpts = append(execOpts, execution.WithTracer(monitor.NewTracer()))
	}
	executor := execution.NewExecutor(session, execOpts...)

	completions := editor.DefaultCompletions()
	if cfg.Editor.CompletionsPath != "" {
		completions, err = editor.LoadCompletions(cfg.Editor.CompletionsPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Editor.CompletionsPath).Msg("failed to load completions")
		}
	}
	editors := editor.NewManager(editor.NewBuffer,
		editor.WithCompletions(completions),
		editor.WithAppearance(cfg.Editor.Theme, cfg.Editor.FontSize),
	)

	catalog, err := loadCatalog(cfg.Exercises.CatalogPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Exercises.CatalogPath).Msg("failed to load exercise catalog")
	}

	server := api.NewServer(cfg, api.Dependencies{
		Executor:   executor,
		Grader:     grading.NewGrader(executor, metrics),
		Editors:    editors,
		Catalog:    catalog,
		Attempts:   attempts,
		Executions: executions,
		Metrics:    metrics,
	})

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		log.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		if err := session.Close(); err != nil {
			log.Error().Err(err).Msg("runtime session close error")
		}

		cancel()
	}()

	log.Info().
		Str("addr", cfg.Address()).
		Bool("db_enabled", dbEnabled).
		Int("exercises", catalog.Len()).
		Strs("python", cfg.Python.Command).
		Bool("container", cfg.Python.Container.Enabled).
		Msg("server starting")

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	log.Info().Msg("server stopped")
}

// containerLauncher points pyCfg at a container launcher. The returned
// cleanup removes the seccomp profile directory.
func containerLauncher(ctx context.Context, pc config.PythonConfig, pyCfg *runtime.PythonConfig) (func(), error) {
	c := pc.Container.Sandbox(pc.Env)
	if err := c.CheckEngine(); err != nil {
		return nil, err
	}

	cleanup := func() {}
	if pc.Container.Seccomp {
		dir, err := os.MkdirTemp("", "exercise-seccomp-")
		if err != nil {
			return nil, err
		}
		cleanup = func() { _ = os.RemoveAll(dir) }
		if err := c.WriteSeccompProfile(dir); err != nil {
			cleanup()
			return nil, err
		}
	}

	if n := c.CleanupOrphans(ctx); n > 0 {
		log.Info().Int("count", n).Msg("removed orphaned interpreter containers")
	}

	// Env is passed inside the container by the launcher.
	pyCfg.Env = nil
	pyCfg.Launcher = c.Launcher()

	log.Info().
		Str("engine", c.Engine).
		Str("image", c.Image).
		Int64("memory_mb", c.Limits.MemoryMB).
		Bool("seccomp", c.SeccompPath != "").
		Msg("interpreter runs in a container")
	return cleanup, nil
}

// loadCatalog reads the exercise catalog. A missing file yields an empty
// catalog so the execution routes stay usable.
func loadCatalog(path string) (*exercise.Catalog, error) {
	if _, err := os.Stat(path); err != nil {
		log.Warn().Str("path", path).Msg("no exercise catalog found, serving none")
		return exercise.NewCatalog(nil)
	}
	return exercise.LoadCatalog(path)
}
