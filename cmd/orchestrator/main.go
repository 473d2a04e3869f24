// Package main is the entry point for the GuardAcademy trainer.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"guardacademy.io/guardacademy/internal/api"
	"guardacademy.io/guardacademy/internal/bus"
	"guardacademy.io/guardacademy/internal/difficulty"
	"guardacademy.io/guardacademy/internal/generator"
	"guardacademy.io/guardacademy/internal/orchestrator"
	"guardacademy.io/guardacademy/internal/scenario"
	"guardacademy.io/guardacademy/internal/scoring"
	"guardacademy.io/guardacademy/internal/storage"
	"guardacademy.io/guardacademy/internal/threatagent"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Config holds the complete trainer configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Generator GeneratorConfig `yaml:"generator"`
	Scenarios ScenariosConfig `yaml:"scenarios"`
	Retention RetentionConfig `yaml:"retention"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	EnableWAL    bool   `yaml:"enable_wal"`
}

// SessionsConfig holds session handling settings.
type SessionsConfig struct {
	AgentTimeout time.Duration `yaml:"agent_timeout"`
	MaxHints     int           `yaml:"max_hints"`
}

// GeneratorConfig holds generation service settings.
type GeneratorConfig struct {
	Enabled     bool          `yaml:"enabled"`
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

// ScenariosConfig holds scenario catalog settings.
type ScenariosConfig struct {
	// Directory of extra scenario template YAML files, loaded on top of
	// the embedded defaults
	TemplatesDir string `yaml:"templates_dir"`
}

// RetentionConfig holds session record retention settings.
type RetentionConfig struct {
	MaxAge          time.Duration `yaml:"max_age"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:         "/data/trainer.db",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			EnableWAL:    true,
		},
		Sessions: SessionsConfig{
			AgentTimeout: 5 * time.Second,
			MaxHints:     3,
		},
		Generator: GeneratorConfig{
			Enabled:     false,
			BaseURL:     "http://localhost:8090",
			Timeout:     15 * time.Second,
			MaxAttempts: 3,
			RetryDelay:  500 * time.Millisecond,
		},
		Scenarios: ScenariosConfig{
			TemplatesDir: "",
		},
		Retention: RetentionConfig{
			MaxAge:          90 * 24 * time.Hour,
			CleanupInterval: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("GuardAcademy Trainer\n")
		fmt.Printf("  Version:    %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		os.Exit(0)
	}

	// Load .env before env overrides apply; absence is fine.
	_ = godotenv.Load()

	// Load configuration
	cfg := DefaultConfig()
	if *configPath != "" {
		if err := loadConfig(*configPath, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
	}

	// Apply environment variable overrides
	applyEnvOverrides(&cfg)

	// Initialize logger
	logger := initLogger(cfg.Logging)
	logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Msg("Starting GuardAcademy Trainer")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := storage.New(ctx, storage.Config{
		Path:         cfg.Database.Path,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		EnableWAL:    cfg.Database.EnableWAL,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	// Load scenario catalog
	catalog, err := scenario.Load(cfg.Scenarios.TemplatesDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load scenario catalog")
	}

	// Message bus
	msgBus := bus.New(bus.DefaultConfig(), logger)

	// Generation collaborator, behind the bounded-retry policy. Disabled
	// means agents serve template beats only.
	var gen generator.Generator
	if cfg.Generator.Enabled {
		client := generator.NewClient(generator.ClientConfig{
			BaseURL: cfg.Generator.BaseURL,
			Timeout: cfg.Generator.Timeout,
		})
		gen = generator.WithRetry(client, generator.RetryConfig{
			MaxAttempts: cfg.Generator.MaxAttempts,
			BaseDelay:   cfg.Generator.RetryDelay,
		}, logger)
		logger.Info().Str("base_url", cfg.Generator.BaseURL).Msg("Generation service enabled")
	}

	// One threat agent per threat type with templates
	var agents []*threatagent.Agent
	for _, threat := range catalog.ThreatTypesAvailable() {
		agent := threatagent.New(orchestrator.AgentAddress(threat), msgBus, catalog, gen, logger)
		agent.Start(ctx)
		agents = append(agents, agent)
	}
	defer func() {
		for _, agent := range agents {
			agent.Stop()
		}
	}()
	logger.Info().Int("agents", len(agents)).Msg("Threat agents started")

	// Game master
	controller := difficulty.New(difficulty.DefaultConfig(), nil, logger)
	orch := orchestrator.New(orchestrator.Config{
		AgentTimeout: cfg.Sessions.AgentTimeout,
		MaxHints:     cfg.Sessions.MaxHints,
	}, msgBus, catalog, db, scoring.NewDefault(), controller, nil, logger)

	// Session record retention
	go retentionLoop(ctx, db, cfg.Retention, logger)

	// Initialize API server
	server := api.New(api.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, api.Dependencies{
		DB:           db,
		Orchestrator: orch,
		Version:      Version,
		StartTime:    time.Now(),
	}, logger)

	// Start server in background
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Msg("Trainer is ready")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
	}

	logger.Info().Msg("Trainer stopped")
}

// retentionLoop periodically deletes session records past the retention
// window.
func retentionLoop(ctx context.Context, db *storage.DB, cfg RetentionConfig, logger zerolog.Logger) {
	if cfg.MaxAge <= 0 || cfg.CleanupInterval <= 0 {
		return
	}

	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := db.CleanupOldSessions(ctx, cfg.MaxAge); err != nil {
				logger.Error().Err(err).Msg("Session record cleanup failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

func loadConfig(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func applyEnvOverrides(cfg *Config) {
	// Database path
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Server port
	if v := os.Getenv("SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}

	// Log level
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Generation service
	if v := os.Getenv("GENERATOR_ENABLED"); v == "true" || v == "1" {
		cfg.Generator.Enabled = true
	}
	if v := os.Getenv("GENERATOR_URL"); v != "" {
		cfg.Generator.BaseURL = v
	}

	// Extra scenario templates
	if v := os.Getenv("SCENARIOS_DIR"); v != "" {
		cfg.Scenarios.TemplatesDir = v
	}
}

func initLogger(cfg LoggingConfig) zerolog.Logger {
	// Set log level
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Create logger
	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	return logger
}
