package turbulence

import (
	"context"
	"math/rand"
	"time"

	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

// Fault labels recorded on observations when the injector fires.
const (
	FaultInducedError   = "induced_error"
	FaultInducedTimeout = "induced_timeout"
)

// Outcome reports what the injector did to one request.
type Outcome struct {
	// AddedLatencyMs is artificial delay applied before the request.
	AddedLatencyMs int64
	// Fault is FaultInducedError or FaultInducedTimeout when the call was
	// replaced with a synthetic failure, empty otherwise.
	Fault string
}

// Injector perturbs outbound requests according to a resolved fault layer.
// Draws come from the instance's dedicated RNG stream so fault timing is
// reproducible for a given seed.
//
// Not safe for concurrent use; one Injector per instance.
type Injector struct {
	policy *schema.FaultPolicy
	rng    *rand.Rand
}

func NewInjector(policy *schema.FaultPolicy, rng *rand.Rand) *Injector {
	return &Injector{policy: policy, rng: rng}
}

// Before resolves the layer for the action, applies injected latency, and
// decides whether to replace the call with a synthetic fault. A returned
// error means the real request must not be attempted. Induced errors and
// timeouts carry the same error codes as their organic counterparts so the
// retry policy treats them uniformly.
func (in *Injector) Before(ctx context.Context, service, action string) (Outcome, error) {
	var out Outcome
	if in == nil || in.policy == nil {
		return out, nil
	}
	layer := Resolve(in.policy, service, action)

	if layer.Latency != nil && layer.Latency.MaxMs > 0 {
		span := int64(layer.Latency.MaxMs - layer.Latency.MinMs)
		delay := int64(layer.Latency.MinMs)
		if span > 0 {
			delay += in.rng.Int63n(span + 1)
		}
		if delay > 0 {
			out.AddedLatencyMs = delay
			if err := sleep(ctx, time.Duration(delay)*time.Millisecond); err != nil {
				return out, err
			}
		}
	}

	if layer.ErrorRate != nil && in.rng.Float64() < *layer.ErrorRate {
		out.Fault = FaultInducedError
		return out, schema.NewError(schema.ErrCodeConnection, "injected connection failure")
	}
	if layer.TimeoutRate != nil && in.rng.Float64() < *layer.TimeoutRate {
		out.Fault = FaultInducedTimeout
		if layer.TimeoutMs != nil && *layer.TimeoutMs > 0 {
			if err := sleep(ctx, time.Duration(*layer.TimeoutMs)*time.Millisecond); err != nil {
				return out, err
			}
		}
		return out, schema.NewError(schema.ErrCodeTimeout, "injected request timeout")
	}
	return out, nil
}

// RetryOverride returns a forced attempt budget when the layer sets one.
func (in *Injector) RetryOverride(service, action string) (int, bool) {
	if in == nil || in.policy == nil {
		return 0, false
	}
	layer := Resolve(in.policy, service, action)
	if layer.RetryCount != nil {
		return *layer.RetryCount, true
	}
	return 0, false
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return schema.NewError(schema.ErrCodeCancelled, "run cancelled").WithCause(ctx.Err())
	case <-timer.C:
		return nil
	}
}
