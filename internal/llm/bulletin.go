package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/talgya/contagion/internal/engine"
)

// BulletinData holds the figures a bulletin reports on.
type BulletinData struct {
	Day        int
	Population int
	Stats      engine.Stats
	Previous   engine.Stats // Counts one day earlier; equal to Stats on day 0
	PeakI      int
	PeakDay    int // 1-based; 0 when no day has run
	Params     engine.Parameters
}

// NewBulletinData extracts bulletin figures from a snapshot.
func NewBulletinData(p engine.Parameters, st engine.State) BulletinData {
	d := BulletinData{
		Day:        st.Day,
		Population: st.Stats.Total(),
		Stats:      st.Stats,
		Previous:   st.Stats,
		Params:     p,
	}
	if n := st.History.Len(); n >= 2 {
		d.Previous = st.History.At(n - 2)
	}
	if peak, day := st.History.Peak(); day >= 0 {
		d.PeakI, d.PeakDay = peak, day+1
	}
	return d
}

// NewCases is the drop in susceptibles since the previous day.
func (d BulletinData) NewCases() int {
	return d.Previous.S - d.Stats.S
}

// Bulletin is one generated health bulletin.
type Bulletin struct {
	GeneratedAt time.Time `json:"generated_at"`
	Day         int       `json:"day"`
	Source      string    `json:"source"` // "llm" or "fallback"
	Content     string    `json:"content"`
}

const bulletinSystem = `You are the public health officer of a small walled town writing the daily outbreak bulletin posted in the square. Report the figures you are given plainly and accurately, note the trend, and give one practical piece of advice that follows from the figures (masks, distance, staying home). Keep it under 200 words. Do not invent numbers and do not mention simulations.`

// GenerateBulletin writes a narrative bulletin. Without a configured client,
// or when the API fails, it returns a plain-text bulletin built from the
// figures alone.
func GenerateBulletin(ctx context.Context, client *Client, data BulletinData) (*Bulletin, error) {
	if !client.Enabled() {
		return fallbackBulletin(data), nil
	}

	content, err := client.Write(ctx, bulletinSystem, buildBulletinPrompt(data), 400)
	if err != nil {
		slog.Warn("bulletin generation failed, using fallback", "error", err)
		return fallbackBulletin(data), nil
	}
	return &Bulletin{
		GeneratedAt: time.Now(),
		Day:         data.Day,
		Source:      "llm",
		Content:     content,
	}, nil
}

func buildBulletinPrompt(d BulletinData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write the bulletin for day %d of the outbreak.\n\n", d.Day)
	fmt.Fprintf(&b, "POPULATION: %d\n", d.Population)
	fmt.Fprintf(&b, "HEALTHY (never infected): %d\n", d.Stats.S)
	fmt.Fprintf(&b, "CURRENTLY ILL: %d (yesterday %d)\n", d.Stats.I, d.Previous.I)
	fmt.Fprintf(&b, "RECOVERED: %d\n", d.Stats.R)
	fmt.Fprintf(&b, "DEATHS TO DATE: %d (yesterday %d)\n", d.Stats.D, d.Previous.D)
	fmt.Fprintf(&b, "NEW CASES TODAY: %d\n", d.NewCases())
	if d.PeakDay > 0 {
		fmt.Fprintf(&b, "PEAK SO FAR: %d ill on day %d\n", d.PeakI, d.PeakDay)
	}
	fmt.Fprintf(&b, "\nCONDITIONS: mask use %.0f%%, vaccinated share %.0f%%, social activity %.0f%%.\n",
		d.Params.MaskUsage*100, d.Params.VaccinationRate*100, d.Params.SocialActivity*100)
	return b.String()
}

func fallbackBulletin(d BulletinData) *Bulletin {
	var b strings.Builder

	fmt.Fprintf(&b, "OUTBREAK BULLETIN\n")
	fmt.Fprintf(&b, "=================\n")
	fmt.Fprintf(&b, "Day %d\n\n", d.Day)

	fmt.Fprintf(&b, "Population %d: %d healthy, %d ill, %d recovered, %d dead.\n",
		d.Population, d.Stats.S, d.Stats.I, d.Stats.R, d.Stats.D)

	switch {
	case d.Day == 0:
		fmt.Fprintf(&b, "The first cases have been identified.\n")
	case d.Stats.I == 0:
		fmt.Fprintf(&b, "No active cases remain.\n")
	case d.Stats.I > d.Previous.I:
		fmt.Fprintf(&b, "Active cases are rising (%d new today).\n", d.NewCases())
	case d.Stats.I < d.Previous.I:
		fmt.Fprintf(&b, "Active cases are falling.\n")
	default:
		fmt.Fprintf(&b, "Active cases are holding steady.\n")
	}
	if d.PeakDay > 0 {
		fmt.Fprintf(&b, "Peak so far: %d ill on day %d.\n", d.PeakI, d.PeakDay)
	}
	if died := d.Stats.D - d.Previous.D; died > 0 {
		fmt.Fprintf(&b, "%d died since yesterday.\n", died)
	}

	return &Bulletin{
		GeneratedAt: time.Now(),
		Day:         d.Day,
		Source:      "fallback",
		Content:     b.String(),
	}
}
