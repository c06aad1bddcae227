// Package config loads service and runner settings from YAML with
// environment overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/talgya/contagion/internal/archive"
	"github.com/talgya/contagion/internal/engine"
	"github.com/talgya/contagion/internal/entropy"
	"github.com/talgya/contagion/internal/persistence"
)

// Config is the complete settings tree.
type Config struct {
	LogLevel string `yaml:"log_level"` // debug | info | warn | error

	Server  ServerConfig  `yaml:"server"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Entropy EntropyConfig `yaml:"entropy"`
	Export  ExportConfig  `yaml:"export"`
	LLM     LLMConfig     `yaml:"llm"`

	// Scenario and Days drive the headless runner.
	Scenario engine.Parameters `yaml:"scenario"`
	Days     int               `yaml:"days"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Port          int      `yaml:"port"`
	AdminKey      string   `yaml:"admin_key"` // Bearer token for autoplay control. Empty = control disabled.
	CORSOrigins   []string `yaml:"cors_origins"`
	MaxSessions   int      `yaml:"max_sessions"`
	InitPerMinute int      `yaml:"init_per_minute"` // Initialize requests per client IP
	MaxStreams    int      `yaml:"max_streams"`
	MaxPopulation int      `yaml:"max_population"` // Largest population initialize accepts
}

// LedgerConfig selects the run ledger backend.
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Driver  string `yaml:"driver"` // sqlite | pgx
	DSN     string `yaml:"dsn"`
}

// EntropyConfig selects the random source handed to each new simulation.
type EntropyConfig struct {
	Source       string `yaml:"source"` // seeded | crypto | randomorg
	Seed         int64  `yaml:"seed"`   // 0 = clock-seeded
	RandomOrgKey string `yaml:"random_org_key"`
}

// ExportConfig controls runner artifacts.
type ExportConfig struct {
	Dir           string           `yaml:"dir"`
	Video         bool             `yaml:"video"`
	FPS           int              `yaml:"fps"`
	IncludeAgents bool             `yaml:"include_agents"`
	S3            archive.S3Config `yaml:"s3"`
}

// LLMConfig configures bulletin generation.
type LLMConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		LogLevel: "info",
		Server: ServerConfig{
			Port:          8000,
			MaxSessions:   256,
			InitPerMinute: 30,
			MaxStreams:    16,
			MaxPopulation: 20000,
		},
		Ledger: LedgerConfig{
			Enabled: true,
			Driver:  persistence.DriverSQLite,
			DSN:     persistence.MemoryDSN,
		},
		Entropy: EntropyConfig{Source: "seeded"},
		Export: ExportConfig{
			Dir: "out",
			FPS: 10,
		},
		Scenario: engine.DefaultParameters(),
		Days:     100,
	}
}

// Load reads a YAML file over the defaults, then applies environment
// overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("CONTAGION_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		} else {
			slog.Warn("ignoring invalid CONTAGION_PORT", "value", v)
		}
	}
	if v := getenv("CONTAGION_ADMIN_KEY"); v != "" {
		c.Server.AdminKey = v
	}
	if v := getenv("CORS_ORIGINS"); v != "" {
		for _, origin := range strings.Split(v, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				c.Server.CORSOrigins = append(c.Server.CORSOrigins, origin)
			}
		}
	}
	if v := getenv("CONTAGION_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("CONTAGION_LEDGER_DSN"); v != "" {
		c.Ledger.DSN = v
		if strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://") {
			c.Ledger.Driver = persistence.DriverPostgres
		}
	}
	if v := getenv("ANTHROPIC_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := getenv("RANDOM_ORG_API_KEY"); v != "" {
		c.Entropy.RandomOrgKey = v
	}
	if v := getenv("CONTAGION_S3_BUCKET"); v != "" {
		c.Export.S3.Bucket = v
	}
	if v := getenv("CONTAGION_S3_ENDPOINT"); v != "" {
		c.Export.S3.Endpoint = v
		c.Export.S3.PathStyle = true
	}
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Ledger.Driver {
	case persistence.DriverSQLite, persistence.DriverPostgres:
	default:
		return fmt.Errorf("ledger.driver %q: want sqlite or pgx", c.Ledger.Driver)
	}
	switch c.Entropy.Source {
	case "seeded", "crypto", "randomorg":
	default:
		return fmt.Errorf("entropy.source %q: want seeded, crypto or randomorg", c.Entropy.Source)
	}
	if c.Server.MaxPopulation < 0 {
		return fmt.Errorf("server.max_population %d is negative", c.Server.MaxPopulation)
	}
	if c.Days < 0 {
		return fmt.Errorf("days %d is negative", c.Days)
	}
	if c.Export.FPS <= 0 {
		return fmt.Errorf("export.fps %d must be positive", c.Export.FPS)
	}
	return nil
}

// SlogLevel maps LogLevel onto slog.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// SourceFactory builds the random-source constructor each new simulation
// draws from.
func (e EntropyConfig) SourceFactory() (func() entropy.Source, error) {
	switch e.Source {
	case "", "seeded":
		if e.Seed == 0 {
			return func() entropy.Source { return entropy.NewSeeded(0) }, nil
		}
		return entropy.SeededFactory(e.Seed), nil
	case "crypto":
		return func() entropy.Source { return entropy.CryptoSource{} }, nil
	case "randomorg":
		client := entropy.NewClient(e.RandomOrgKey)
		if client == nil {
			return nil, fmt.Errorf("entropy.source randomorg needs RANDOM_ORG_API_KEY")
		}
		return func() entropy.Source { return client }, nil
	}
	return nil, fmt.Errorf("unknown entropy source %q", e.Source)
}
