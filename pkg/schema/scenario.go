package schema

// ActionKind tags the variant of an ActionSpec.
type ActionKind string

const (
	ActionHTTP   ActionKind = "http"
	ActionWait   ActionKind = "wait"
	ActionAssert ActionKind = "assert"
	ActionBranch ActionKind = "branch"
	ActionDecide ActionKind = "decide"
)

// ScenarioDefinition is one parsed scenario. It is immutable once loaded and
// shared read-only across every instance of a run.
type ScenarioDefinition struct {
	ID          string         `yaml:"id" json:"id"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Entry       map[string]any `yaml:"entry,omitempty" json:"entry,omitempty"`
	Flow        []*ActionSpec  `yaml:"flow" json:"flow"`
	Assertions  []*ActionSpec  `yaml:"assertions,omitempty" json:"assertions,omitempty"`
	StopWhen    StopWhen       `yaml:"stop_when,omitempty" json:"stop_when,omitempty"`
	MaxSteps    int            `yaml:"max_steps,omitempty" json:"max_steps,omitempty"`

	// ConditionLanguage selects the engine for branch/expect expressions:
	// "expr" (default) or "cel".
	ConditionLanguage string `yaml:"condition_language,omitempty" json:"condition_language,omitempty"`
}

// DefaultMaxSteps bounds flow execution when max_steps is unset.
const DefaultMaxSteps = 100

// EffectiveMaxSteps returns max_steps or the default bound.
func (s *ScenarioDefinition) EffectiveMaxSteps() int {
	if s.MaxSteps > 0 {
		return s.MaxSteps
	}
	return DefaultMaxSteps
}

// StopWhen configures early termination of an instance's flow.
type StopWhen struct {
	AnyActionFails    bool `yaml:"any_action_fails,omitempty" json:"any_action_fails,omitempty"`
	AnyAssertionFails bool `yaml:"any_assertion_fails,omitempty" json:"any_assertion_fails,omitempty"`
}

// ActionSpec is the tagged variant over {http, wait, assert, branch, decide}.
// Only the fields relevant to the declared Kind are populated.
type ActionSpec struct {
	Kind ActionKind `yaml:"kind" json:"kind"`
	Name string     `yaml:"name" json:"name"`

	// Condition optionally skips the action when false. Branch actions use
	// it as the branch predicate instead.
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`

	// http / wait
	Service string            `yaml:"service,omitempty" json:"service,omitempty"`
	Method  string            `yaml:"method,omitempty" json:"method,omitempty"`
	Path    string            `yaml:"path,omitempty" json:"path,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Body    any               `yaml:"body,omitempty" json:"body,omitempty"`

	// wait
	IntervalSeconds float64 `yaml:"interval_seconds,omitempty" json:"interval_seconds,omitempty"`
	TimeoutSeconds  float64 `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`

	// branch
	IfTrue  []*ActionSpec `yaml:"if_true,omitempty" json:"if_true,omitempty"`
	IfFalse []*ActionSpec `yaml:"if_false,omitempty" json:"if_false,omitempty"`

	// decide
	Decision  string `yaml:"decision,omitempty" json:"decision,omitempty"`
	PolicyRef string `yaml:"policy_ref,omitempty" json:"policy_ref,omitempty"`
	OutputVar string `yaml:"output_var,omitempty" json:"output_var,omitempty"`

	// cross-cutting
	Retry   *RetryConfig      `yaml:"retry,omitempty" json:"retry,omitempty"`
	Expect  *ExpectSpec       `yaml:"expect,omitempty" json:"expect,omitempty"`
	Extract map[string]string `yaml:"extract,omitempty" json:"extract,omitempty"`
}

// RetryConfig bounds retries around one network-capable action.
type RetryConfig struct {
	MaxAttempts       int    `yaml:"max_attempts" json:"max_attempts"`
	OnStatus          []int  `yaml:"on_status,omitempty" json:"on_status,omitempty"`
	OnTimeout         bool   `yaml:"on_timeout,omitempty" json:"on_timeout,omitempty"`
	OnConnectionError bool   `yaml:"on_connection_error,omitempty" json:"on_connection_error,omitempty"`
	Backoff           string `yaml:"backoff,omitempty" json:"backoff,omitempty"` // fixed | exponential
	DelayMs           int    `yaml:"delay_ms,omitempty" json:"delay_ms,omitempty"`
	BaseDelayMs       int    `yaml:"base_delay_ms,omitempty" json:"base_delay_ms,omitempty"`
	MaxDelayMs        int    `yaml:"max_delay_ms,omitempty" json:"max_delay_ms,omitempty"`
}

// BackoffFixed and BackoffExponential are the supported backoff kinds.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// ExpectSpec describes an expectation over a response or the context.
// All set fields must hold for the expectation to pass.
type ExpectSpec struct {
	Status int `yaml:"status,omitempty" json:"status,omitempty"`

	// BodyPath is a jq program applied to the response body; its result is
	// compared with Equals/Contains when either is set, otherwise the path
	// only needs to produce a non-null value.
	BodyPath string `yaml:"body_path,omitempty" json:"body_path,omitempty"`
	Equals   any    `yaml:"equals,omitempty" json:"equals,omitempty"`
	Contains any    `yaml:"contains,omitempty" json:"contains,omitempty"`

	// Expression is a boolean expression over the workflow context, rendered
	// and evaluated with the scenario's condition engine.
	Expression string `yaml:"expression,omitempty" json:"expression,omitempty"`

	// Schema validates the response body against an inline JSON Schema.
	Schema map[string]any `yaml:"schema,omitempty" json:"schema,omitempty"`
}

// IsZero reports whether the expectation constrains anything.
func (e *ExpectSpec) IsZero() bool {
	return e == nil || (e.Status == 0 && e.BodyPath == "" && e.Equals == nil &&
		e.Contains == nil && e.Expression == "" && e.Schema == nil)
}
