package schema

import "time"

// InstanceStatus is the lifecycle state of one workflow instance.
type InstanceStatus string

const (
	InstancePending InstanceStatus = "pending"
	InstanceRunning InstanceStatus = "running"
	InstancePassed  InstanceStatus = "passed"
	InstanceFailed  InstanceStatus = "failed"
	InstanceAborted InstanceStatus = "aborted"
)

// Terminal reports whether the status is final.
func (s InstanceStatus) Terminal() bool {
	return s == InstancePassed || s == InstanceFailed || s == InstanceAborted
}

// Attempt records a single try of a retried action.
type Attempt struct {
	Number     int     `json:"number"`
	StatusCode int     `json:"status_code,omitempty"`
	LatencyMs  float64 `json:"latency_ms"`
	Error      string  `json:"error,omitempty"`
}

// Observation is the recorded outcome of one executed action. Append-only:
// the engine emits it once and never rewrites it.
type Observation struct {
	RunID      string     `json:"run_id"`
	InstanceID string     `json:"instance_id"`
	Step       int        `json:"step"`
	ActionName string     `json:"action_name"`
	Kind       ActionKind `json:"kind"`
	Service    string     `json:"service,omitempty"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	LatencyMs float64   `json:"latency_ms"`

	OK         bool              `json:"ok"`
	StatusCode int               `json:"status_code,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       any               `json:"body,omitempty"`

	Error     string    `json:"error,omitempty"`
	ErrorCode string    `json:"error_code,omitempty"`
	Attempts  []Attempt `json:"attempts,omitempty"`
	Polls     int       `json:"polls,omitempty"`

	// branch metadata
	BranchCondition  string `json:"branch_condition,omitempty"`
	BranchResult     *bool  `json:"branch_result,omitempty"`
	BranchTaken      string `json:"branch_taken,omitempty"`
	ConditionSkipped bool   `json:"condition_skipped,omitempty"`

	// decide metadata
	Decision       string `json:"decision,omitempty"`
	DecisionResult string `json:"decision_result,omitempty"`

	// fault-injection metadata
	InjectedLatencyMs float64 `json:"injected_latency_ms,omitempty"`
	InjectedFault     string  `json:"injected_fault,omitempty"`
}

// AssertionOutcome is the result of one final-assertion action.
type AssertionOutcome struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// InstanceResult is the terminal record of one instance.
type InstanceResult struct {
	RunID         string             `json:"run_id"`
	InstanceID    string             `json:"instance_id"`
	InstanceIndex int                `json:"instance_index"`
	CorrelationID string             `json:"correlation_id"`
	Status        InstanceStatus     `json:"status"`
	Steps         int                `json:"steps"`
	Assertions    []AssertionOutcome `json:"assertions,omitempty"`
	Error         string             `json:"error,omitempty"`
	StartedAt     time.Time          `json:"started_at"`
	EndedAt       time.Time          `json:"ended_at"`
	DurationMs    int64              `json:"duration_ms"`
}

// RunManifest captures everything needed to reproduce a run.
type RunManifest struct {
	RunID      string    `json:"run_id"`
	ScenarioID string    `json:"scenario_id"`
	Seed       int64     `json:"seed"`
	Instances  int       `json:"instances"`
	Parallel   int       `json:"parallel"`
	SUTName    string    `json:"sut_name,omitempty"`
	Profile    string    `json:"profile,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// RunSummary is the run-level aggregate handed to the CI gating collaborator.
// PassRate is a percentage in [0,100].
type RunSummary struct {
	RunID        string  `json:"run_id"`
	Total        int     `json:"total"`
	PassCount    int     `json:"pass_count"`
	FailCount    int     `json:"fail_count"`
	AbortCount   int     `json:"abort_count"`
	ErrorCount   int     `json:"error_count"`
	PassRate     float64 `json:"pass_rate"`
	P50LatencyMs float64 `json:"p50_latency_ms"`
	P95LatencyMs float64 `json:"p95_latency_ms"`
	P99LatencyMs float64 `json:"p99_latency_ms"`
}
