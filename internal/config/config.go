package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/windtunnel-dev/windtunnel/internal/persona"
	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

// LoadScenario reads and validates a scenario definition.
func LoadScenario(path string) (*schema.ScenarioDefinition, error) {
	var scenario schema.ScenarioDefinition
	if err := loadYAML(path, &scenario); err != nil {
		return nil, err
	}
	if err := ValidateScenario(&scenario); err != nil {
		return nil, err
	}
	return &scenario, nil
}

// ValidateScenario enforces the structural rules the engine assumes: an id,
// a non-empty flow, unique action names, known kinds, and a condition on
// every branch.
func ValidateScenario(s *schema.ScenarioDefinition) error {
	if s.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "scenario must have an id")
	}
	if len(s.Flow) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "scenario flow is empty")
	}
	seen := make(map[string]bool)
	if err := validateActions(s.Flow, seen); err != nil {
		return err
	}
	return validateActions(s.Assertions, seen)
}

func validateActions(specs []*schema.ActionSpec, seen map[string]bool) error {
	for _, spec := range specs {
		if spec.Name == "" {
			return schema.NewError(schema.ErrCodeValidation, "every action must have a name")
		}
		if seen[spec.Name] {
			return schema.NewErrorf(schema.ErrCodeValidation, "duplicate action name %q", spec.Name)
		}
		seen[spec.Name] = true

		switch spec.Kind {
		case schema.ActionHTTP, schema.ActionWait:
			if spec.Service == "" {
				return schema.NewErrorf(schema.ErrCodeValidation, "action %q must name a service", spec.Name)
			}
		case schema.ActionAssert:
			if spec.Expect == nil || spec.Expect.IsZero() {
				return schema.NewErrorf(schema.ErrCodeValidation, "assert action %q needs an expect clause", spec.Name)
			}
		case schema.ActionBranch:
			if spec.Condition == "" {
				return schema.NewErrorf(schema.ErrCodeValidation, "branch action %q needs a condition", spec.Name)
			}
			if err := validateActions(spec.IfTrue, seen); err != nil {
				return err
			}
			if err := validateActions(spec.IfFalse, seen); err != nil {
				return err
			}
		case schema.ActionDecide:
			if spec.Decision == "" {
				return schema.NewErrorf(schema.ErrCodeValidation, "decide action %q must name a decision", spec.Name)
			}
		default:
			return schema.NewErrorf(schema.ErrCodeValidation, "action %q has unknown kind %q", spec.Name, spec.Kind)
		}
	}
	return nil
}

// sutFile is the on-disk shape of the SUT config: a base definition plus
// optional per-environment overlays.
type sutFile struct {
	Name     string                             `yaml:"name"`
	Services map[string]schema.ServiceConfig    `yaml:"services"`
	Profiles map[string]map[string]serviceEdits `yaml:"profiles,omitempty"`
}

type serviceEdits struct {
	BaseURL        string            `yaml:"base_url,omitempty"`
	TimeoutSeconds float64           `yaml:"timeout_seconds,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty"`
}

// LoadSUT reads the target-system config and applies the named environment
// profile, overriding services field by field.
func LoadSUT(path, profile string) (*schema.SUTConfig, error) {
	var file sutFile
	if err := loadYAML(path, &file); err != nil {
		return nil, err
	}
	if len(file.Services) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "target config defines no services")
	}

	sut := &schema.SUTConfig{Name: file.Name, Services: make(map[string]schema.ServiceConfig, len(file.Services))}
	for name, svc := range file.Services {
		sut.Services[name] = svc
	}

	if profile != "" {
		edits, ok := file.Profiles[profile]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeConfig, "profile %q not defined in %s", profile, path)
		}
		for name, edit := range edits {
			svc, ok := sut.Services[name]
			if !ok {
				return nil, schema.NewErrorf(schema.ErrCodeConfig, "profile %q edits unknown service %q", profile, name)
			}
			if edit.BaseURL != "" {
				svc.BaseURL = edit.BaseURL
			}
			if edit.TimeoutSeconds > 0 {
				svc.TimeoutSeconds = edit.TimeoutSeconds
			}
			for k, v := range edit.Headers {
				if svc.Headers == nil {
					svc.Headers = make(map[string]string)
				}
				svc.Headers[k] = v
			}
			sut.Services[name] = svc
		}
	}

	for name, svc := range sut.Services {
		if svc.BaseURL == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "service %q has no base_url", name)
		}
	}
	return sut, nil
}

// LoadFaults reads an optional fault policy; an empty path means no faults.
func LoadFaults(path string) (*schema.FaultPolicy, error) {
	if path == "" {
		return nil, nil
	}
	var policy schema.FaultPolicy
	if err := loadYAML(path, &policy); err != nil {
		return nil, err
	}
	return &policy, nil
}

type policiesFile struct {
	Personas map[string]*persona.Policy `yaml:"personas"`
}

// LoadPolicies reads an optional persona policy file keyed by persona id.
func LoadPolicies(path string) (persona.PolicySet, error) {
	if path == "" {
		return nil, nil
	}
	var file policiesFile
	if err := loadYAML(path, &file); err != nil {
		return nil, err
	}
	set := make(persona.PolicySet, len(file.Personas))
	for id, policy := range file.Personas {
		if policy == nil {
			policy = &persona.Policy{}
		}
		policy.PersonaID = id
		set[id] = policy
	}
	return set, nil
}

func loadYAML(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return schema.NewError(schema.ErrCodeConfig, fmt.Sprintf("cannot read %s", path)).WithCause(err)
	}
	raw, err = ResolveEnv(raw)
	if err != nil {
		return schema.NewError(schema.ErrCodeConfig, fmt.Sprintf("cannot resolve environment variables in %s", path)).WithCause(err)
	}
	if err := yaml.Unmarshal(raw, v); err != nil {
		return schema.NewError(schema.ErrCodeConfig, fmt.Sprintf("cannot parse %s", path)).WithCause(err)
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default}. Bare $VAR is left alone
// so jq programs in config values keep their variable syntax.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ResolveEnv expands ${VAR} references in raw config text before parsing.
// A set variable wins over the default; an unset variable without a default
// is an error rather than a silent empty string.
func ResolveEnv(raw []byte) ([]byte, error) {
	var missing []string
	expanded := envVarPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		groups := envVarPattern.FindSubmatch(match)
		name := string(groups[1])
		if value, ok := os.LookupEnv(name); ok {
			return []byte(value)
		}
		if len(groups[2]) > 0 {
			return groups[3]
		}
		missing = append(missing, name)
		return nil
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("environment variable %s is not set and has no default", missing[0])
	}
	return expanded, nil
}
