// Command contagiond serves epidemic simulations over HTTP, one simulation
// per client session.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/talgya/contagion/internal/api"
	"github.com/talgya/contagion/internal/config"
	"github.com/talgya/contagion/internal/engine"
	"github.com/talgya/contagion/internal/llm"
	"github.com/talgya/contagion/internal/metrics"
	"github.com/talgya/contagion/internal/persistence"
	"github.com/talgya/contagion/internal/render"
	"github.com/talgya/contagion/internal/session"
	"github.com/talgya/contagion/internal/world"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("contagion service starting", "config", *configPath, "entropy", cfg.Entropy.Source)

	newSource, err := cfg.Entropy.SourceFactory()
	if err != nil {
		slog.Error("invalid entropy settings", "error", err)
		os.Exit(1)
	}

	// ── Ledger ────────────────────────────────────────────────────────
	var ledger *persistence.Ledger
	if cfg.Ledger.Enabled {
		ledger, err = persistence.Open(cfg.Ledger.Driver, cfg.Ledger.DSN)
		if err != nil {
			slog.Error("failed to open ledger", "error", err)
			os.Exit(1)
		}
		defer ledger.Close()
		slog.Info("ledger opened", "driver", cfg.Ledger.Driver, "in_memory", cfg.Ledger.DSN == persistence.MemoryDSN)
	}

	// ── Sessions ──────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	sessions := session.NewManager(ctx, newSource)
	sessions.MaxSessions = cfg.Server.MaxSessions
	sessions.Hooks = observeHooks(ctx, ledger, m)
	defer sessions.Close()

	// ── LLM Client ───────────────────────────────────────────────────
	llmClient := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.Model)
	if llmClient != nil {
		slog.Info("LLM client enabled", "model", cfg.LLM.Model)
	} else {
		slog.Warn("ANTHROPIC_API_KEY not set, bulletins will use fallback text")
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.Server.AdminKey == "" {
		slog.Warn("CONTAGION_ADMIN_KEY not set, autoplay control will be disabled")
	}

	apiServer := &api.Server{
		Sessions:      sessions,
		Metrics:       m,
		LLM:           llmClient,
		Frames:        render.NewFrameRenderer(world.NewBackdrop(cfg.Entropy.Seed)),
		Port:          cfg.Server.Port,
		AdminKey:      cfg.Server.AdminKey,
		CORSOrigins:   cfg.Server.CORSOrigins,
		InitPerMinute: cfg.Server.InitPerMinute,
		MaxStreams:    cfg.Server.MaxStreams,
		MaxPopulation: cfg.Server.MaxPopulation,
	}
	srv := apiServer.Start()
	defer apiServer.Close()

	fmt.Printf("\nContagion is listening on :%d\n", cfg.Server.Port)
	fmt.Printf("API: http://localhost:%d/epidemic/initialize\n", cfg.Server.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig)

	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}

	fmt.Printf("Contagion stopped after serving %d sessions.\n", sessions.Len())
}

// observeHooks feeds session lifecycle into the ledger, metrics and log.
// Ledger failures are counted and logged; they never fail a simulation day.
func observeHooks(ctx context.Context, ledger *persistence.Ledger, m *metrics.Metrics) session.Hooks {
	return session.Hooks{
		OnInitialize: func(s *session.Session, p engine.Parameters, st engine.State) {
			m.ObserveInitialize(st)
			if ledger == nil {
				return
			}
			if err := ledger.StartRun(ctx, s.RunID(), s.ID, p); err != nil {
				m.LedgerErrors.Inc()
				slog.Error("ledger start run failed", "session", s.ID, "run", s.RunID(), "error", err)
			}
		},
		OnDay: func(s *session.Session, st engine.State, r engine.DayReport, took time.Duration) {
			m.ObserveDay(r, took)
			slog.Debug("day advanced",
				"session", s.ID,
				"day", r.Day,
				"S", r.Stats.S, "I", r.Stats.I, "R", r.Stats.R, "D", r.Stats.D,
				"new_infections", r.NewInfections,
				"took", took,
			)
			if ledger == nil {
				return
			}
			if err := ledger.RecordDay(ctx, s.RunID(), r); err != nil {
				m.LedgerErrors.Inc()
				slog.Error("ledger record day failed", "session", s.ID, "day", r.Day, "error", err)
			}
		},
	}
}
