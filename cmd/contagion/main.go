// Command contagion runs epidemic simulations from the command line.
//
//	contagion run     [-config f] [-days n] [-out dir] [-seed n] [-video] [-upload]
//	contagion trials  [-config f] [-days n] [-n trials] [-seed n]
//	contagion remote  [-url u] [-session id] [-days n] [-interval d]
//	contagion render  -trace file [-out file]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/contagion/internal/archive"
	"github.com/talgya/contagion/internal/client"
	"github.com/talgya/contagion/internal/config"
	"github.com/talgya/contagion/internal/engine"
	"github.com/talgya/contagion/internal/entropy"
	"github.com/talgya/contagion/internal/persistence"
	"github.com/talgya/contagion/internal/render"
	"github.com/talgya/contagion/internal/runner"
	"github.com/talgya/contagion/internal/world"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "run":
		err = runCmd(ctx, os.Args[2:])
	case "trials":
		err = trialsCmd(os.Args[2:])
	case "remote":
		err = remoteCmd(ctx, os.Args[2:])
	case "render":
		err = renderCmd(os.Args[2:])
	case "-h", "-help", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error(os.Args[1]+" failed", "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: contagion <run|trials|remote|render> [flags]")
}

// loadConfig loads the config file and applies the log level to the default
// logger.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))
	return cfg, nil
}

func runCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML config file")
	days := fs.Int("days", -1, "days to simulate (default from config)")
	out := fs.String("out", "", "output directory (default from config)")
	seed := fs.Int64("seed", 0, "random seed (0 = from config)")
	video := fs.Bool("video", false, "record an MJPEG video of every day")
	upload := fs.Bool("upload", false, "upload artifacts to the configured S3 bucket")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *days >= 0 {
		cfg.Days = *days
	}
	if *out != "" {
		cfg.Export.Dir = *out
	}
	if *seed != 0 {
		cfg.Entropy.Source = "seeded"
		cfg.Entropy.Seed = *seed
	}
	newSource, err := cfg.Entropy.SourceFactory()
	if err != nil {
		return err
	}

	opts := runner.Options{
		Params:        cfg.Scenario,
		Days:          cfg.Days,
		OutDir:        cfg.Export.Dir,
		NewSource:     newSource,
		IncludeAgents: cfg.Export.IncludeAgents,
		Video:         *video || cfg.Export.Video,
		FPS:           cfg.Export.FPS,
		Backdrop:      world.NewBackdrop(cfg.Entropy.Seed),
		OnDay: func(st engine.State, r engine.DayReport) {
			slog.Debug("day", "day", r.Day, "S", r.Stats.S, "I", r.Stats.I, "R", r.Stats.R, "D", r.Stats.D)
		},
	}

	if cfg.Ledger.Enabled {
		ledger, err := persistence.Open(cfg.Ledger.Driver, cfg.Ledger.DSN)
		if err != nil {
			return err
		}
		defer ledger.Close()
		opts.Ledger = ledger
	}

	if *upload {
		up, err := archive.NewS3Uploader(ctx, cfg.Export.S3)
		if err != nil {
			return err
		}
		opts.Uploader = up
	}

	res, err := runner.Run(ctx, opts)
	if err != nil {
		return err
	}

	var total int64
	for _, a := range res.Artifacts {
		total += a.Size
	}
	fmt.Printf("\nRun %s: day %d  S:%d I:%d R:%d D:%d\n",
		res.RunID, res.Final.Day,
		res.Final.Stats.S, res.Final.Stats.I, res.Final.Stats.R, res.Final.Stats.D)
	fmt.Printf("%d artifacts (%s) in %s\n", len(res.Artifacts), humanize.Bytes(uint64(total)), res.Dir)
	return nil
}

func trialsCmd(args []string) error {
	fs := flag.NewFlagSet("trials", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML config file")
	days := fs.Int("days", -1, "days per trial (default from config)")
	n := fs.Int("n", 10, "number of trials")
	seed := fs.Int64("seed", 1000, "seed of the first trial; trial i uses seed+i")
	asJSON := fs.Bool("json", false, "print the summary as JSON")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *days >= 0 {
		cfg.Days = *days
	}
	if *n < 0 {
		return fmt.Errorf("n %d is negative", *n)
	}

	start := time.Now()
	summary := engine.RunTrials(cfg.Scenario, cfg.Days, *n, func(i int) entropy.Source {
		return entropy.NewSeeded(*seed + int64(i))
	})
	slog.Info("trials finished", "trials", *n, "days", cfg.Days, "took", time.Since(start))

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	fmt.Printf("\n%d trials of %d days, population %d\n", summary.Trials, summary.Days, cfg.Scenario.Population)
	fmt.Printf("new infections: %.1f ± %.1f\n", summary.MeanNewInfections, summary.StdNewInfections)
	fmt.Printf("mean deaths:    %.1f\n", summary.MeanDeaths)
	fmt.Printf("mean peak I:    %.1f\n", summary.MeanPeakInfected)
	return nil
}

func remoteCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("remote", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML config file (scenario only)")
	url := fs.String("url", "http://localhost:8000", "service base URL")
	sessionID := fs.String("session", "", "session id (default: server default session)")
	days := fs.Int("days", 30, "days to advance")
	interval := fs.Duration("interval", time.Second, "delay between days")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	c := client.New(*url)
	c.SessionID = *sessionID

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	if err := c.WaitReady(waitCtx); err != nil {
		return err
	}

	st, err := c.Initialize(ctx, cfg.Scenario)
	if err != nil {
		return err
	}
	slog.Info("remote session initialized", "session", c.SessionID, "agents", len(st.Agents), "infected", st.Stats.I)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for d := 0; d < *days; d++ {
		select {
		case <-ctx.Done():
			slog.Info("remote run interrupted", "day", st.Day)
			return nil
		case <-ticker.C:
		}
		st, err = c.Update(ctx)
		if errors.Is(err, engine.ErrNotInitialized) {
			return fmt.Errorf("session %q was reset on the server: %w", c.SessionID, err)
		}
		if err != nil {
			return err
		}
		slog.Info("day", "day", st.Day, "S", st.Stats.S, "I", st.Stats.I, "R", st.Stats.R, "D", st.Stats.D)
	}
	return nil
}

func renderCmd(args []string) error {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	tracePath := fs.String("trace", "", "trace file written by run")
	out := fs.String("out", "history.png", "output PNG")
	width := fs.Int("width", 1024, "chart width")
	height := fs.Int("height", 576, "chart height")
	fs.Parse(args)

	if *tracePath == "" {
		return errors.New("-trace is required")
	}
	tr, err := archive.ReadTrace(*tracePath)
	if err != nil {
		return err
	}
	h := tr.History()
	population := tr.Params.Population
	if h.Len() > 0 {
		population = h.At(0).Total()
	}
	png, err := render.HistoryChart(h, population, *width, *height)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, png, 0o644); err != nil {
		return fmt.Errorf("write chart: %w", err)
	}
	slog.Info("chart written", "run", tr.RunID, "days", h.Len(), "path", *out, "size", humanize.Bytes(uint64(len(png))))
	return nil
}
