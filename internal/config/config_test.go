package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/talgya/contagion/internal/engine"
	"github.com/talgya/contagion/internal/entropy"
	"github.com/talgya/contagion/internal/persistence"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contagion.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
server:
  port: 9090
scenario:
  population: 500
  infection_rate: 25
  mask_usage: 0.5
days: 30
export:
  video: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	want := engine.DefaultParameters()
	want.Population = 500
	want.InfectionRate = 25
	want.MaskUsage = 0.5
	if cfg.Scenario != want {
		t.Fatalf("scenario = %+v, want %+v", cfg.Scenario, want)
	}
	if cfg.Server.Port != 9090 || cfg.Days != 30 || !cfg.Export.Video {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Export.FPS != 10 || cfg.Ledger.DSN != persistence.MemoryDSN {
		t.Fatalf("defaults lost: fps=%d dsn=%q", cfg.Export.FPS, cfg.Ledger.DSN)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Fatalf("level = %v", cfg.SlogLevel())
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"port", "server:\n  port: 0\n"},
		{"driver", "ledger:\n  driver: mysql\n"},
		{"entropy", "entropy:\n  source: dice\n"},
		{"yaml", "server: [\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.body)); err == nil {
				t.Fatal("load succeeded")
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CONTAGION_PORT":       "7000",
		"CONTAGION_ADMIN_KEY":  "secret",
		"CORS_ORIGINS":         "https://a.example, https://b.example",
		"CONTAGION_LEDGER_DSN": "postgres://localhost/contagion",
		"CONTAGION_S3_BUCKET":  "runs",
	}
	cfg := Default()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	if cfg.Server.Port != 7000 || cfg.Server.AdminKey != "secret" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("origins = %v", cfg.Server.CORSOrigins)
	}
	if cfg.Ledger.Driver != persistence.DriverPostgres {
		t.Fatalf("driver = %q, want pgx", cfg.Ledger.Driver)
	}
	if cfg.Export.S3.Bucket != "runs" {
		t.Fatalf("bucket = %q", cfg.Export.S3.Bucket)
	}
}

func TestSourceFactory(t *testing.T) {
	f, err := EntropyConfig{Source: "seeded", Seed: 5}.SourceFactory()
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	g := entropy.SeededFactory(5)
	if f().Float64() != g().Float64() {
		t.Fatal("seeded factory does not match SeededFactory")
	}

	if _, err := (EntropyConfig{Source: "randomorg"}).SourceFactory(); err == nil {
		t.Fatal("randomorg without key accepted")
	}
	c, err := EntropyConfig{Source: "crypto"}.SourceFactory()
	if err != nil {
		t.Fatalf("crypto factory: %v", err)
	}
	if v := c().Float64(); v < 0 || v >= 1 {
		t.Fatalf("crypto draw %v", v)
	}
}
