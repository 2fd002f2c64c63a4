package stats

import (
	"sort"

	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

// Percentile computes the p-th percentile (0-100) of values with linear
// interpolation between closest ranks. Returns 0 for an empty input.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(rank)
	frac := rank - float64(lo)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// BuildSummary aggregates instance results and per-action latencies into the
// run-level summary consumed by CI gating. Latencies are the successful
// network action timings across all instances.
func BuildSummary(runID string, results []*schema.InstanceResult, latencies []float64) *schema.RunSummary {
	s := &schema.RunSummary{RunID: runID, Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case schema.InstancePassed:
			s.PassCount++
		case schema.InstanceFailed:
			s.FailCount++
		case schema.InstanceAborted:
			s.AbortCount++
			s.ErrorCount++
		}
	}
	if s.Total > 0 {
		s.PassRate = float64(s.PassCount) / float64(s.Total) * 100
	}
	s.P50LatencyMs = Percentile(latencies, 50)
	s.P95LatencyMs = Percentile(latencies, 95)
	s.P99LatencyMs = Percentile(latencies, 99)
	return s
}
