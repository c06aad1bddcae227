package render

import (
	"bytes"
	"errors"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/talgya/contagion/internal/agents"
	"github.com/talgya/contagion/internal/engine"
	"github.com/talgya/contagion/internal/world"
)

func sampleHistory() engine.History {
	h := engine.NewHistory()
	h.Append(engine.Stats{S: 97, I: 3})
	h.Append(engine.Stats{S: 90, I: 9, R: 1})
	h.Append(engine.Stats{S: 80, I: 15, R: 4, D: 1})
	return h
}

func TestHistoryChart(t *testing.T) {
	data, err := HistoryChart(sampleHistory(), 100, 640, 360)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 640 || b.Dy() != 360 {
		t.Fatalf("chart size = %v", b)
	}
}

func TestHistoryChartTooShort(t *testing.T) {
	h := engine.NewHistory()
	h.Append(engine.Stats{S: 1})
	if _, err := HistoryChart(h, 1, 100, 100); !errors.Is(err, ErrTooFewPoints) {
		t.Fatalf("error = %v, want ErrTooFewPoints", err)
	}
}

func TestFrameDrawsAgentsInStateColors(t *testing.T) {
	r := NewFrameRenderer(nil)
	st := engine.State{
		Day: 3,
		Agents: []agents.Agent{
			{ID: 0, X: 200, Y: 200, State: agents.Infected},
			{ID: 1, X: 400, Y: 300, State: agents.Susceptible},
			{ID: 2, X: 799, Y: 599, State: agents.Dead},
		},
	}

	img := r.Render(st)

	if b := img.Bounds(); b.Dx() != int(world.Width) || b.Dy() != int(world.Height) {
		t.Fatalf("frame size = %v", b)
	}
	check := func(x, y int, s agents.HealthState) {
		t.Helper()
		want := color.RGBAModel.Convert(StateColor(s)).(color.RGBA)
		if got := img.RGBAAt(x, y); got != want {
			t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, got, want)
		}
	}
	check(200, 200, agents.Infected)
	check(400, 300, agents.Susceptible)
	check(797, 597, agents.Dead)

	if got := img.RGBAAt(200, 194); got != (color.RGBA{0, 0, 0, 255}) {
		t.Fatalf("outline pixel = %v, want black", got)
	}
	if got := img.RGBAAt(600, 500); got != (color.RGBA{255, 255, 255, 255}) {
		t.Fatalf("background pixel = %v, want white", got)
	}
}

func TestFrameBackdropIsShared(t *testing.T) {
	r := NewFrameRenderer(world.NewBackdrop(3))
	a := r.Render(engine.State{})
	b := r.Render(engine.State{Day: 1})
	if a.RGBAAt(500, 400) != b.RGBAAt(500, 400) {
		t.Fatal("backdrop differs between frames")
	}
	a.SetRGBA(500, 400, color.RGBA{1, 2, 3, 255})
	if r.Render(engine.State{}).RGBAAt(500, 400) == (color.RGBA{1, 2, 3, 255}) {
		t.Fatal("frame shares pixels with the cached backdrop")
	}
}

func TestVideoRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.avi")
	v, err := NewVideoRecorder(path, 10)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	r := NewFrameRenderer(nil)
	for day := 0; day < 3; day++ {
		if err := v.AddFrame(r.Render(engine.State{Day: day})); err != nil {
			t.Fatalf("add frame: %v", err)
		}
	}
	if err := v.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if v.Frames() != 3 {
		t.Fatalf("frames = %d, want 3", v.Frames())
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		t.Fatalf("video file: %v, %v", info, err)
	}
}
