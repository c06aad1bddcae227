// Package runner executes headless simulation runs and exports their
// artifacts: a compressed day trace, a trend chart, an optional frame video,
// a ledger entry and an optional object-store upload.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/talgya/contagion/internal/archive"
	"github.com/talgya/contagion/internal/engine"
	"github.com/talgya/contagion/internal/entropy"
	"github.com/talgya/contagion/internal/persistence"
	"github.com/talgya/contagion/internal/render"
	"github.com/talgya/contagion/internal/world"
)

// Artifact file names inside a run directory.
const (
	TraceFile = "trace.jsonl.zst"
	ChartFile = "history.png"
	VideoFile = "run.avi"
)

// LedgerSession is the session id runs are recorded under.
const LedgerSession = "cli"

// Uploader stores a run artifact remotely and returns its key.
type Uploader interface {
	UploadFile(ctx context.Context, runID, localPath string) (string, error)
}

// Options configures one headless run.
type Options struct {
	Params        engine.Parameters
	Days          int
	OutDir        string
	NewSource     func() entropy.Source // nil = clock-seeded
	IncludeAgents bool                  // Full agent lists in the trace

	Video    bool
	FPS      int
	Backdrop *world.Backdrop // nil = plain white frames

	Ledger   *persistence.Ledger // nil = not recorded
	Uploader Uploader            // nil = no upload

	// OnDay, if set, is called after each day is written.
	OnDay func(st engine.State, r engine.DayReport)
}

// Artifact is one exported file.
type Artifact struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	Key  string `json:"key,omitempty"` // Object key once uploaded
}

// Result summarizes a finished run.
type Result struct {
	RunID     string             `json:"run_id"`
	Dir       string             `json:"dir"`
	Final     engine.State       `json:"-"`
	Reports   []engine.DayReport `json:"-"`
	Artifacts []Artifact         `json:"artifacts"`
}

// Run simulates opts.Days days and exports the artifacts into a fresh
// directory under opts.OutDir named after the run id. A cancelled context
// stops the day loop; whatever was simulated is still exported, recorded
// and uploaded.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Days < 0 {
		return nil, fmt.Errorf("days %d is negative", opts.Days)
	}
	runID := uuid.NewString()
	dir := filepath.Join(opts.OutDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	res := &Result{RunID: runID, Dir: dir}

	driver := engine.NewDriver(opts.NewSource)
	st := driver.Initialize(opts.Params)

	trace, err := archive.CreateTrace(filepath.Join(dir, TraceFile), runID, opts.Params)
	if err != nil {
		return nil, err
	}
	trace.IncludeAgents = opts.IncludeAgents
	defer trace.Close()

	var (
		video  *render.VideoRecorder
		frames *render.FrameRenderer
	)
	if opts.Video {
		fps := opts.FPS
		if fps <= 0 {
			fps = 10
		}
		video, err = render.NewVideoRecorder(filepath.Join(dir, VideoFile), fps)
		if err != nil {
			return nil, err
		}
		defer video.Close()
		frames = render.NewFrameRenderer(opts.Backdrop)
		if err := video.AddFrame(frames.Render(st)); err != nil {
			return nil, err
		}
	}

	slog.Info("run started", "run", runID, "population", opts.Params.Population, "days", opts.Days)

days:
	for d := 0; d < opts.Days; d++ {
		select {
		case <-ctx.Done():
			slog.Warn("run interrupted", "run", runID, "day", d)
			break days
		default:
		}

		var report engine.DayReport
		st, report, err = driver.AdvanceReport()
		if err != nil {
			return nil, fmt.Errorf("advance day %d: %w", d+1, err)
		}
		res.Reports = append(res.Reports, report)

		if err := trace.WriteDay(st, report); err != nil {
			return nil, err
		}
		if video != nil {
			if err := video.AddFrame(frames.Render(st)); err != nil {
				return nil, err
			}
		}
		if opts.OnDay != nil {
			opts.OnDay(st, report)
		}
	}
	res.Final = st

	// Export runs to completion even when the day loop was interrupted.
	exportCtx := context.WithoutCancel(ctx)

	if err := trace.Close(); err != nil {
		return nil, err
	}
	if err := res.addArtifact(trace.Path()); err != nil {
		return nil, err
	}
	if video != nil {
		if err := video.Close(); err != nil {
			return nil, err
		}
		if err := res.addArtifact(filepath.Join(dir, VideoFile)); err != nil {
			return nil, err
		}
	}

	png, err := render.HistoryChart(st.History, st.Stats.Total(), 1024, 576)
	switch {
	case errors.Is(err, render.ErrTooFewPoints):
		slog.Info("history too short for a chart", "run", runID, "days", st.History.Len())
	case err != nil:
		return nil, err
	default:
		chartPath := filepath.Join(dir, ChartFile)
		if err := os.WriteFile(chartPath, png, 0o644); err != nil {
			return nil, fmt.Errorf("write chart: %w", err)
		}
		if err := res.addArtifact(chartPath); err != nil {
			return nil, err
		}
	}

	if opts.Ledger != nil {
		if err := opts.Ledger.RecordTrace(exportCtx, runID, LedgerSession, opts.Params, res.Reports); err != nil {
			slog.Error("ledger record failed", "run", runID, "error", err)
		}
	}

	if opts.Uploader != nil {
		if err := res.upload(exportCtx, opts.Uploader); err != nil {
			return res, err
		}
	}

	for _, a := range res.Artifacts {
		slog.Info("artifact", "path", a.Path, "size", humanize.Bytes(uint64(a.Size)), "key", a.Key)
	}
	slog.Info("run finished",
		"run", runID,
		"day", st.Day,
		"S", st.Stats.S, "I", st.Stats.I, "R", st.Stats.R, "D", st.Stats.D,
	)
	return res, nil
}

func (r *Result) addArtifact(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat artifact: %w", err)
	}
	r.Artifacts = append(r.Artifacts, Artifact{Path: path, Size: fi.Size()})
	return nil
}

// upload sends every artifact concurrently and records the keys. Each
// goroutine owns one slice element.
func (r *Result) upload(ctx context.Context, u Uploader) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := range r.Artifacts {
		g.Go(func() error {
			key, err := u.UploadFile(gctx, r.RunID, r.Artifacts[i].Path)
			if err != nil {
				return err
			}
			r.Artifacts[i].Key = key
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("upload artifacts: %w", err)
	}
	return nil
}
