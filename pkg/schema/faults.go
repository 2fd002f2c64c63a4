package schema

// LatencyRange is a uniform injected-latency window in milliseconds.
type LatencyRange struct {
	MinMs int `yaml:"min_ms" json:"min_ms"`
	MaxMs int `yaml:"max_ms" json:"max_ms"`
}

// FaultLayer is one layer of fault-injection settings. Nil fields mean
// "not set here"; resolution merges layers field-by-field, most specific
// layer winning per field.
type FaultLayer struct {
	Latency     *LatencyRange `yaml:"latency,omitempty" json:"latency,omitempty"`
	ErrorRate   *float64      `yaml:"error_rate,omitempty" json:"error_rate,omitempty"`
	TimeoutRate *float64      `yaml:"timeout_rate,omitempty" json:"timeout_rate,omitempty"`
	TimeoutMs   *int          `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
	RetryCount  *int          `yaml:"retry_count,omitempty" json:"retry_count,omitempty"`
}

// FaultPolicy layers fault injection global -> per-service -> per-action.
// Immutable once loaded.
type FaultPolicy struct {
	Global   *FaultLayer            `yaml:"global,omitempty" json:"global,omitempty"`
	Services map[string]*FaultLayer `yaml:"services,omitempty" json:"services,omitempty"`
	Actions  map[string]*FaultLayer `yaml:"actions,omitempty" json:"actions,omitempty"`
}
