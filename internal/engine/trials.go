package engine

import (
	"math"

	"github.com/talgya/contagion/internal/entropy"
)

// TrialSummary aggregates independent runs of the same parameters.
type TrialSummary struct {
	Trials        int     `json:"trials"`
	Days          int     `json:"days"`
	NewInfections []int   `json:"new_infections"` // Per trial, excluding the seed infections
	Final         []Stats `json:"final"`

	MeanNewInfections float64 `json:"mean_new_infections"`
	StdNewInfections  float64 `json:"std_new_infections"`
	MeanDeaths        float64 `json:"mean_deaths"`
	MeanPeakInfected  float64 `json:"mean_peak_infected"`
}

// RunTrials runs n independent simulations for the given number of days.
// newSource is called once per trial with the trial index.
func RunTrials(p Parameters, days, n int, newSource func(trial int) entropy.Source) TrialSummary {
	summary := TrialSummary{Trials: n, Days: days}

	var peakSum, deathSum float64
	for i := 0; i < n; i++ {
		sim := NewSimulation(p, newSource(i))
		seeded := sim.Stats.I

		infections := 0
		for d := 0; d < days; d++ {
			infections += sim.Step().NewInfections
		}
		peak, _ := sim.History.Peak()
		if seeded > peak {
			peak = seeded
		}

		summary.NewInfections = append(summary.NewInfections, infections)
		summary.Final = append(summary.Final, sim.Stats)
		peakSum += float64(peak)
		deathSum += float64(sim.Stats.D)
	}

	if n == 0 {
		return summary
	}
	summary.MeanNewInfections, summary.StdNewInfections = meanStd(summary.NewInfections)
	summary.MeanDeaths = deathSum / float64(n)
	summary.MeanPeakInfected = peakSum / float64(n)
	return summary
}

func meanStd(xs []int) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += float64(x)
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		d := float64(x) - mean
		std += d * d
	}
	return mean, math.Sqrt(std / float64(len(xs)))
}
