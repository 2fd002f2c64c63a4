package turbulence

import "github.com/windtunnel-dev/windtunnel/pkg/schema"

// Resolve collapses the layered fault policy into one effective layer for a
// single action. Precedence is action over service over global, merged field
// by field: an action layer that only sets error_rate still inherits the
// service latency band.
func Resolve(policy *schema.FaultPolicy, service, action string) schema.FaultLayer {
	var out schema.FaultLayer
	if policy == nil {
		return out
	}
	merge(&out, policy.Global)
	if service != "" {
		if layer, ok := policy.Services[service]; ok {
			merge(&out, layer)
		}
	}
	if action != "" {
		if layer, ok := policy.Actions[action]; ok {
			merge(&out, layer)
		}
	}
	return out
}

func merge(dst *schema.FaultLayer, src *schema.FaultLayer) {
	if src == nil {
		return
	}
	if src.Latency != nil {
		dst.Latency = src.Latency
	}
	if src.ErrorRate != nil {
		dst.ErrorRate = src.ErrorRate
	}
	if src.TimeoutRate != nil {
		dst.TimeoutRate = src.TimeoutRate
	}
	if src.TimeoutMs != nil {
		dst.TimeoutMs = src.TimeoutMs
	}
	if src.RetryCount != nil {
		dst.RetryCount = src.RetryCount
	}
}
