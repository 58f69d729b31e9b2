package eonclos

// stats.go accumulates the counters and the blocking-ratio series of a run

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// SimStats holds the outcome counters of one run and the cumulative blocking
// ratio observed at the end of every tick.  Rejected requests are counted in
// Invalid only; TotalRequests counts the requests that were evaluated.
type SimStats struct {
	TotalRequests     int       `json:"total" yaml:"total"`
	Admitted          int       `json:"admitted" yaml:"admitted"`
	ExternallyBlocked int       `json:"external" yaml:"external"`
	InternallyBlocked int       `json:"internal" yaml:"internal"`
	Invalid           int       `json:"invalid" yaml:"invalid"`
	Released          int       `json:"released" yaml:"released"`
	BlockingRatio     []float64 `json:"ratio" yaml:"ratio"`
}

// createSimStats is a constructor
func createSimStats() *SimStats {
	ss := new(SimStats)
	ss.BlockingRatio = make([]float64, 0)
	return ss
}

// record counts one admission decision
func (ss *SimStats) record(oc Outcome) {
	switch oc {
	case Admitted:
		ss.TotalRequests += 1
		ss.Admitted += 1
	case ExternallyBlocked:
		ss.TotalRequests += 1
		ss.ExternallyBlocked += 1
	case InternallyBlocked:
		ss.TotalRequests += 1
		ss.InternallyBlocked += 1
	case Rejected:
		ss.Invalid += 1
	}
}

// Blocked returns the number of requests blocked for either reason
func (ss *SimStats) Blocked() int {
	return ss.ExternallyBlocked + ss.InternallyBlocked
}

// Ratio returns the cumulative blocking ratio, 0 when no request has been evaluated
func (ss *SimStats) Ratio() float64 {
	if ss.TotalRequests == 0 {
		return 0.0
	}
	return float64(ss.Blocked()) / float64(ss.TotalRequests)
}

// closeTick appends the current ratio to the series
func (ss *SimStats) closeTick() {
	ss.BlockingRatio = append(ss.BlockingRatio, ss.Ratio())
}

// StatsSummary condenses a run for reports
type StatsSummary struct {
	Ticks         int     `json:"ticks" yaml:"ticks"`
	FinalRatio    float64 `json:"finalratio" yaml:"finalratio"`
	MeanRatio     float64 `json:"meanratio" yaml:"meanratio"`
	PeakRatio     float64 `json:"peakratio" yaml:"peakratio"`
	ExternalShare float64 `json:"externalshare" yaml:"externalshare"`
}

// Summary computes the mean and peak of the ratio series and the share of
// blocking that happened at egress
func (ss *SimStats) Summary() StatsSummary {
	sum := StatsSummary{Ticks: len(ss.BlockingRatio), FinalRatio: ss.Ratio()}
	if len(ss.BlockingRatio) > 0 {
		sum.MeanRatio = stat.Mean(ss.BlockingRatio, nil)
		sum.PeakRatio = floats.Max(ss.BlockingRatio)
	}
	if ss.Blocked() > 0 {
		sum.ExternalShare = float64(ss.ExternallyBlocked) / float64(ss.Blocked())
	}
	return sum
}
