package turbulence

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

func f(v float64) *float64 { return &v }
func n(v int) *int         { return &v }

func layeredPolicy() *schema.FaultPolicy {
	return &schema.FaultPolicy{
		Global: &schema.FaultLayer{
			Latency:   &schema.LatencyRange{MinMs: 10, MaxMs: 20},
			ErrorRate: f(0.1),
		},
		Services: map[string]*schema.FaultLayer{
			"catalog": {ErrorRate: f(0.5)},
		},
		Actions: map[string]*schema.FaultLayer{
			"checkout": {TimeoutRate: f(0.2), TimeoutMs: n(5), RetryCount: n(2)},
		},
	}
}

func TestResolveMergesFieldByField(t *testing.T) {
	policy := layeredPolicy()

	// service layer overrides error_rate only; global latency survives
	layer := Resolve(policy, "catalog", "browse")
	require.NotNil(t, layer.Latency)
	assert.Equal(t, 10, layer.Latency.MinMs)
	require.NotNil(t, layer.ErrorRate)
	assert.Equal(t, 0.5, *layer.ErrorRate)
	assert.Nil(t, layer.TimeoutRate)

	// action layer stacks on top of service and global
	layer = Resolve(policy, "catalog", "checkout")
	assert.Equal(t, 0.5, *layer.ErrorRate)
	assert.Equal(t, 0.2, *layer.TimeoutRate)
	assert.Equal(t, 5, *layer.TimeoutMs)
	assert.Equal(t, 2, *layer.RetryCount)

	// unknown service falls back to global
	layer = Resolve(policy, "payments", "pay")
	assert.Equal(t, 0.1, *layer.ErrorRate)

	assert.Equal(t, schema.FaultLayer{}, Resolve(nil, "catalog", "browse"))
}

func TestInjectorInducedError(t *testing.T) {
	policy := &schema.FaultPolicy{Global: &schema.FaultLayer{ErrorRate: f(1.0)}}
	in := NewInjector(policy, rand.New(rand.NewSource(1)))

	out, err := in.Before(context.Background(), "svc", "act")
	require.Error(t, err)
	assert.Equal(t, FaultInducedError, out.Fault)

	var engineErr *schema.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, schema.ErrCodeConnection, engineErr.Code)
}

func TestInjectorInducedTimeout(t *testing.T) {
	policy := &schema.FaultPolicy{Global: &schema.FaultLayer{TimeoutRate: f(1.0), TimeoutMs: n(1)}}
	in := NewInjector(policy, rand.New(rand.NewSource(1)))

	out, err := in.Before(context.Background(), "svc", "act")
	require.Error(t, err)
	assert.Equal(t, FaultInducedTimeout, out.Fault)

	var engineErr *schema.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, schema.ErrCodeTimeout, engineErr.Code)
}

func TestInjectorLatencyWithinRange(t *testing.T) {
	policy := &schema.FaultPolicy{Global: &schema.FaultLayer{Latency: &schema.LatencyRange{MinMs: 1, MaxMs: 3}}}
	in := NewInjector(policy, rand.New(rand.NewSource(7)))

	for k := 0; k < 20; k++ {
		out, err := in.Before(context.Background(), "svc", "act")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, out.AddedLatencyMs, int64(1))
		assert.LessOrEqual(t, out.AddedLatencyMs, int64(3))
	}
}

func TestInjectorNoPolicyIsNoop(t *testing.T) {
	out, err := NewInjector(nil, nil).Before(context.Background(), "svc", "act")
	require.NoError(t, err)
	assert.Equal(t, Outcome{}, out)
}

func TestInjectorCancelledDuringLatency(t *testing.T) {
	policy := &schema.FaultPolicy{Global: &schema.FaultLayer{Latency: &schema.LatencyRange{MinMs: 5000, MaxMs: 5000}}}
	in := NewInjector(policy, rand.New(rand.NewSource(1)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := in.Before(ctx, "svc", "act")
	require.Error(t, err)
	var engineErr *schema.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, schema.ErrCodeCancelled, engineErr.Code)
}

func TestRetryOverride(t *testing.T) {
	in := NewInjector(layeredPolicy(), rand.New(rand.NewSource(1)))

	forced, ok := in.RetryOverride("catalog", "checkout")
	require.True(t, ok)
	assert.Equal(t, 2, forced)

	_, ok = in.RetryOverride("catalog", "browse")
	assert.False(t, ok)
}
