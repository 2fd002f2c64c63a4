package persona

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// WeightedOption is one candidate of a decision point. Declaration order is
// significant: the cumulative-weight scan walks options in the order they
// appear in the policy file.
type WeightedOption struct {
	Name   string
	Weight float64
}

// DecisionWeights is the ordered option set for one decision point.
// Weights need not sum to 1; they are normalized at draw time.
type DecisionWeights struct {
	Options []WeightedOption
}

// UnmarshalYAML decodes `options: {name: weight, ...}` preserving the
// mapping's declaration order, which Go maps would lose.
func (d *DecisionWeights) UnmarshalYAML(node *yaml.Node) error {
	var doc struct {
		Options yaml.Node `yaml:"options"`
	}
	if err := node.Decode(&doc); err != nil {
		return err
	}
	if doc.Options.Kind != yaml.MappingNode {
		return fmt.Errorf("decision options must be a mapping of name to weight")
	}
	for i := 0; i+1 < len(doc.Options.Content); i += 2 {
		var name string
		var weight float64
		if err := doc.Options.Content[i].Decode(&name); err != nil {
			return err
		}
		if err := doc.Options.Content[i+1].Decode(&weight); err != nil {
			return err
		}
		if weight < 0 {
			return fmt.Errorf("weight for %q must be non-negative, got %v", name, weight)
		}
		d.Options = append(d.Options, WeightedOption{Name: name, Weight: weight})
	}
	return nil
}

// Policy is the generated behavior policy for one persona. Immutable once
// loaded.
type Policy struct {
	PersonaID string                     `yaml:"persona_id"`
	Decisions map[string]DecisionWeights `yaml:"decisions"`
	Data      map[string][]any           `yaml:"data,omitempty"`
}

// PolicySet maps persona_id to its policy.
type PolicySet map[string]*Policy

// Resolve returns the policy for ref, or any single policy when ref is empty
// and exactly one choice exists.
func (ps PolicySet) Resolve(ref string) (*Policy, bool) {
	if ref != "" {
		p, ok := ps[ref]
		return p, ok
	}
	if len(ps) == 1 {
		for _, p := range ps {
			return p, true
		}
	}
	return nil, false
}
