package expressions

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

func testContext() *Context {
	c := NewContext("run-1", "inst-1", "run-1-0003", 3, map[string]any{
		"user_id":  42,
		"plan":     "gold",
		"discount": 0.25,
		"active":   true,
		"profile":  map[string]any{"tier": "premium"},
	})
	c.SetVar("order_id", "ord-9")
	c.SetVar("total", 199.0)
	return c
}

func TestRenderStringTypePreserving(t *testing.T) {
	r := NewResolver()
	c := testContext()

	tests := []struct {
		name  string
		field string
		want  any
	}{
		{"number stays a number", "{{user_id}}", 42},
		{"bool stays a bool", "{{active}}", true},
		{"float stays a float", "{{discount}}", 0.25},
		{"object stays an object", "{{profile}}", map[string]any{"tier": "premium"}},
		{"surrounding spaces still whole", "  {{plan}}  ", "gold"},
		{"var beats nothing", "{{order_id}}", "ord-9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.RenderString(tt.field, c)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderStringEmbeddedCoercesToString(t *testing.T) {
	r := NewResolver()
	c := testContext()

	tests := []struct {
		field string
		want  string
	}{
		{"user-{{user_id}}", "user-42"},
		{"{{plan}}-{{user_id}}", "gold-42"},
		{"active={{active}}", "active=true"},
		{"total={{total}}", "total=199"},
		{"rate: {{discount}}", "rate: 0.25"},
	}
	for _, tt := range tests {
		got, err := r.RenderString(tt.field, c)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestRenderStringMissingVariable(t *testing.T) {
	r := NewResolver()
	c := testContext()

	_, err := r.RenderString("{{nonexistent}}", c)
	require.Error(t, err)
	var engineErr *schema.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, schema.ErrCodeTemplate, engineErr.Code)
}

func TestRenderStringUnclosedExpression(t *testing.T) {
	r := NewResolver()
	_, err := r.RenderString("broken {{plan", testContext())
	require.Error(t, err)
	var engineErr *schema.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, schema.ErrCodeTemplate, engineErr.Code)
}

func TestLookupPrecedence(t *testing.T) {
	c := NewContext("run-1", "inst-1", "corr-1", 0, map[string]any{"name": "from-entry"})

	v, err := c.Lookup("name")
	require.NoError(t, err)
	assert.Equal(t, "from-entry", v)

	// extracted vars shadow entry data
	c.SetVar("name", "from-vars")
	v, err = c.Lookup("name")
	require.NoError(t, err)
	assert.Equal(t, "from-vars", v)

	v, err = c.Lookup("run_id")
	require.NoError(t, err)
	assert.Equal(t, "run-1", v)

	v, err = c.Lookup("instance_index")
	require.NoError(t, err)
	assert.Equal(t, 0, v)
}

func TestLookupLastResponse(t *testing.T) {
	c := testContext()

	_, err := c.Lookup("last_response.status_code")
	require.Error(t, err, "no response recorded yet")

	c.SetLastResponse(200, map[string]string{"content-type": "application/json"},
		map[string]any{"id": "p1", "stock": map[string]any{"count": 7.0}})

	v, err := c.Lookup("last_response.status_code")
	require.NoError(t, err)
	assert.Equal(t, 200, v)

	v, err = c.Lookup("last_response.body.stock.count")
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)

	_, err = c.Lookup("last_response.body.missing")
	require.Error(t, err)
}

func TestRenderValueRecurses(t *testing.T) {
	r := NewResolver()
	c := testContext()

	rendered, err := r.RenderValue(map[string]any{
		"customer": "{{user_id}}",
		"items":    []any{"{{order_id}}", "literal"},
		"nested":   map[string]any{"plan": "tier-{{plan}}"},
		"count":    3,
	}, c)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"customer": 42,
		"items":    []any{"ord-9", "literal"},
		"nested":   map[string]any{"plan": "tier-gold"},
		"count":    3,
	}, rendered)
}

func TestLaterExtractionOverwrites(t *testing.T) {
	c := testContext()
	c.SetVar("token", "first")
	c.SetVar("token", "second")
	v, err := c.Lookup("token")
	require.NoError(t, err)
	assert.Equal(t, "second", v)
}
