package persona

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const policyYAML = `
persona_id: window_shopper
decisions:
  after_browse:
    options:
      add_to_cart: 0.3
      keep_browsing: 0.5
      leave: 0.2
  payment_method:
    options:
      card: 3
      invoice: 1
data:
  search_terms:
    - shoes
    - jacket
    - scarf
`

func loadTestPolicy(t *testing.T) *Policy {
	t.Helper()
	var p Policy
	require.NoError(t, yaml.Unmarshal([]byte(policyYAML), &p))
	return &p
}

func TestDecisionWeightsPreserveDeclarationOrder(t *testing.T) {
	p := loadTestPolicy(t)
	opts := p.Decisions["after_browse"].Options
	require.Len(t, opts, 3)
	assert.Equal(t, "add_to_cart", opts[0].Name)
	assert.Equal(t, "keep_browsing", opts[1].Name)
	assert.Equal(t, "leave", opts[2].Name)
}

func TestDecideDeterministicPerSeed(t *testing.T) {
	p := loadTestPolicy(t)

	draw := func(seed int64, index, n int) []string {
		d := NewDecider(p, seed, index)
		out := make([]string, n)
		for i := range out {
			choice, err := d.Decide("after_browse")
			require.NoError(t, err)
			out[i] = choice
		}
		return out
	}

	first := draw(42, 0, 20)
	second := draw(42, 0, 20)
	assert.Equal(t, first, second, "same seed and index must replay identically")

	other := draw(42, 1, 20)
	assert.NotEqual(t, first, other, "sibling instances draw from distinct streams")
}

func TestDecideNormalizesWeights(t *testing.T) {
	p := loadTestPolicy(t)
	d := NewDecider(p, 7, 0)

	counts := map[string]int{}
	for i := 0; i < 2000; i++ {
		choice, err := d.Decide("payment_method")
		require.NoError(t, err)
		counts[choice]++
	}
	// card carries 3/4 of the mass
	assert.Greater(t, counts["card"], counts["invoice"])
	assert.InDelta(t, 1500, counts["card"], 150)
}

func TestDecideOnlyValidOptions(t *testing.T) {
	p := loadTestPolicy(t)
	d := NewDecider(p, 1, 5)
	valid := map[string]bool{"add_to_cart": true, "keep_browsing": true, "leave": true}
	for i := 0; i < 200; i++ {
		choice, err := d.Decide("after_browse")
		require.NoError(t, err)
		assert.True(t, valid[choice], "unexpected option %q", choice)
	}
}

func TestDecideErrors(t *testing.T) {
	p := loadTestPolicy(t)
	d := NewDecider(p, 1, 0)

	_, err := d.Decide("no_such_decision")
	assert.Error(t, err)

	_, err = NewDecider(nil, 1, 0).Decide("after_browse")
	assert.Error(t, err)

	zero := &Policy{
		PersonaID: "zero",
		Decisions: map[string]DecisionWeights{
			"stuck": {Options: []WeightedOption{{Name: "a", Weight: 0}}},
		},
	}
	_, err = NewDecider(zero, 1, 0).Decide("stuck")
	assert.Error(t, err)
}

func TestSampleDataPool(t *testing.T) {
	p := loadTestPolicy(t)
	d := NewDecider(p, 9, 0)

	v, err := d.Sample("search_terms")
	require.NoError(t, err)
	assert.Contains(t, []any{"shoes", "jacket", "scarf"}, v)

	_, err = d.Sample("missing_pool")
	assert.Error(t, err)
}

func TestPolicySetResolve(t *testing.T) {
	a := &Policy{PersonaID: "a"}
	b := &Policy{PersonaID: "b"}

	single := PolicySet{"a": a}
	p, ok := single.Resolve("")
	require.True(t, ok)
	assert.Equal(t, a, p)

	multi := PolicySet{"a": a, "b": b}
	_, ok = multi.Resolve("")
	assert.False(t, ok, "ambiguous empty ref must not resolve")

	p, ok = multi.Resolve("b")
	require.True(t, ok)
	assert.Equal(t, b, p)
}
