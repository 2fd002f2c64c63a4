package persona

import (
	"math/rand"

	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

// Decider draws weighted decisions for a single workflow instance. Each
// instance owns its own RNG stream derived from the run seed and the
// instance index, so a run replays identically for the same seed while
// concurrent instances diverge from each other.
//
// Not safe for concurrent use; each instance goroutine holds its own Decider.
type Decider struct {
	policy *Policy
	rng    *rand.Rand
}

// NewDecider seeds a per-instance decision stream.
func NewDecider(policy *Policy, seed int64, instanceIndex int) *Decider {
	return &Decider{
		policy: policy,
		rng:    rand.New(rand.NewSource(seed*31 + int64(instanceIndex))),
	}
}

// Decide draws one option for the named decision point. The draw normalizes
// weights and scans cumulative mass in declaration order, so adding an
// option at the end never reorders earlier outcomes for the same seed.
func (d *Decider) Decide(decision string) (string, error) {
	if d.policy == nil {
		return "", schema.NewErrorf(schema.ErrCodeValidation,
			"decision %q requested but no policy is loaded", decision)
	}
	weights, ok := d.policy.Decisions[decision]
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeValidation,
			"decision %q not defined in policy %q", decision, d.policy.PersonaID)
	}
	if len(weights.Options) == 0 {
		return "", schema.NewErrorf(schema.ErrCodeValidation,
			"decision %q in policy %q has no options", decision, d.policy.PersonaID)
	}

	var total float64
	for _, opt := range weights.Options {
		total += opt.Weight
	}
	if total <= 0 {
		return "", schema.NewErrorf(schema.ErrCodeValidation,
			"decision %q in policy %q has zero total weight", decision, d.policy.PersonaID)
	}

	draw := d.rng.Float64()
	var cumulative float64
	for _, opt := range weights.Options {
		cumulative += opt.Weight / total
		if draw < cumulative {
			return opt.Name, nil
		}
	}
	// Floating point residue; the last option absorbs it.
	return weights.Options[len(weights.Options)-1].Name, nil
}

// Sample picks a random element from a named data pool, for seeding entry
// context with realistic values.
func (d *Decider) Sample(pool string) (any, error) {
	if d.policy == nil || len(d.policy.Data[pool]) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "data pool %q is empty or undefined", pool)
	}
	values := d.policy.Data[pool]
	return values[d.rng.Intn(len(values))], nil
}
