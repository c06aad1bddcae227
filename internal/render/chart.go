// Package render draws simulation output: trend charts, agent frames and
// MJPEG videos of a run.
package render

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/talgya/contagion/internal/agents"
	"github.com/talgya/contagion/internal/engine"
)

// ErrTooFewPoints is returned when a history is too short to plot.
var ErrTooFewPoints = errors.New("history needs at least two days to chart")

// State colors shared by charts and frames.
var stateHex = map[agents.HealthState]string{
	agents.Susceptible: "b8e6ff",
	agents.Infected:    "ffb8b8",
	agents.Recovered:   "b8ffb8",
	agents.Dead:        "e6e6e6",
}

// StateColor returns the drawing color for a health state.
func StateColor(s agents.HealthState) drawing.Color {
	return drawing.ColorFromHex(stateHex[s])
}

var chartStates = []agents.HealthState{agents.Susceptible, agents.Infected, agents.Recovered, agents.Dead}

// HistoryChart renders S/I/R/D counts over time as a PNG. The Y axis spans
// 0..population so charts of the same run line up.
func HistoryChart(h engine.History, population, width, height int) ([]byte, error) {
	if h.Len() < 2 {
		return nil, ErrTooFewPoints
	}
	yMax := float64(population)
	if yMax <= 0 {
		yMax = 1
	}

	days := make([]float64, h.Len())
	for i := range days {
		days[i] = float64(i + 1)
	}

	graph := chart.Chart{
		Width:  width,
		Height: height,
		Background: chart.Style{
			Padding: chart.Box{Top: 20, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{
			Name:  "Day",
			Style: chart.Style{FontSize: 10.0},
			Range: &chart.ContinuousRange{Min: 1, Max: float64(h.Len())},
			ValueFormatter: func(v interface{}) string {
				return fmt.Sprintf("%d", int(v.(float64)))
			},
		},
		YAxis: chart.YAxis{
			Name:  "Agents",
			Style: chart.Style{FontSize: 10.0},
			Range: &chart.ContinuousRange{Min: 0, Max: yMax},
			ValueFormatter: func(v interface{}) string {
				return fmt.Sprintf("%d", int(v.(float64)))
			},
		},
	}
	for _, st := range chartStates {
		series := h.Series(st)
		ys := make([]float64, len(series))
		for i, v := range series {
			ys[i] = float64(v)
		}
		graph.Series = append(graph.Series, chart.ContinuousSeries{
			Name:    st.Name(),
			XValues: days,
			YValues: ys,
			Style: chart.Style{
				StrokeColor: StateColor(st),
				StrokeWidth: 3.0,
			},
		})
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render history chart: %w", err)
	}
	return buf.Bytes(), nil
}
