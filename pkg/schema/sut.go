package schema

// ServiceConfig describes one HTTP service of the system under test.
type ServiceConfig struct {
	BaseURL        string            `yaml:"base_url" json:"base_url"`
	TimeoutSeconds float64           `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// SUTConfig names the target system and its services. Action specs refer to
// services by key.
type SUTConfig struct {
	Name     string                   `yaml:"name" json:"name"`
	Services map[string]ServiceConfig `yaml:"services" json:"services"`
}

// DefaultServiceTimeoutSeconds applies when a service omits its own.
const DefaultServiceTimeoutSeconds = 10.0
