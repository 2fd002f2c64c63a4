package gating

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

var thresholdRe = regexp.MustCompile(`^\s*([a-z0-9_]+)\s*(<=|>=|==|!=|<|>)\s*([0-9.]+)\s*$`)

// Threshold is one parsed gate expression, e.g. "pass_rate>=99" or
// "p95_latency_ms<250".
type Threshold struct {
	Metric string
	Op     string
	Value  float64
}

// Parse reads a `metric<op>value` expression.
func Parse(expr string) (Threshold, error) {
	m := thresholdRe.FindStringSubmatch(expr)
	if m == nil {
		return Threshold{}, schema.NewErrorf(schema.ErrCodeValidation,
			"threshold %q must look like metric<op>value", expr)
	}
	value, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return Threshold{}, schema.NewErrorf(schema.ErrCodeValidation,
			"threshold %q has a malformed value", expr).WithCause(err)
	}
	return Threshold{Metric: m[1], Op: m[2], Value: value}, nil
}

// ParseAll parses a list of gate expressions.
func ParseAll(exprs []string) ([]Threshold, error) {
	out := make([]Threshold, 0, len(exprs))
	for _, e := range exprs {
		t, err := Parse(e)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// CheckResult is the evaluation of one threshold against a run summary.
type CheckResult struct {
	Threshold Threshold
	Actual    float64
	Passed    bool
}

func (c CheckResult) String() string {
	verdict := "PASS"
	if !c.Passed {
		verdict = "FAIL"
	}
	return fmt.Sprintf("%s: %s%s%v (actual %.2f)",
		verdict, c.Threshold.Metric, c.Threshold.Op, c.Threshold.Value, c.Actual)
}

// Evaluate checks every threshold against the summary. A pass_rate threshold
// written as a ratio (value <= 1) is compared against the rate scaled down
// from its percentage form.
func Evaluate(summary *schema.RunSummary, thresholds []Threshold) ([]CheckResult, bool) {
	results := make([]CheckResult, 0, len(thresholds))
	allPassed := true
	for _, t := range thresholds {
		actual, ok := metricValue(summary, t)
		passed := ok && compare(actual, t.Op, t.Value)
		if !passed {
			allPassed = false
		}
		results = append(results, CheckResult{Threshold: t, Actual: actual, Passed: passed})
	}
	return results, allPassed
}

func metricValue(s *schema.RunSummary, t Threshold) (float64, bool) {
	switch t.Metric {
	case "pass_rate":
		if t.Value <= 1 {
			return s.PassRate / 100, true
		}
		return s.PassRate, true
	case "p50_latency_ms":
		return s.P50LatencyMs, true
	case "p95_latency_ms":
		return s.P95LatencyMs, true
	case "p99_latency_ms":
		return s.P99LatencyMs, true
	case "total":
		return float64(s.Total), true
	case "pass_count":
		return float64(s.PassCount), true
	case "fail_count":
		return float64(s.FailCount), true
	case "abort_count":
		return float64(s.AbortCount), true
	case "error_count":
		return float64(s.ErrorCount), true
	}
	return 0, false
}

func compare(actual float64, op string, value float64) bool {
	switch op {
	case "<":
		return actual < value
	case "<=":
		return actual <= value
	case ">":
		return actual > value
	case ">=":
		return actual >= value
	case "==":
		return actual == value
	case "!=":
		return actual != value
	}
	return false
}
