package engine

import (
	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

// transitions is the allowed instance lifecycle graph.
var transitions = map[schema.InstanceStatus][]schema.InstanceStatus{
	schema.InstancePending: {schema.InstanceRunning, schema.InstanceAborted},
	schema.InstanceRunning: {schema.InstancePassed, schema.InstanceFailed, schema.InstanceAborted},
}

// Transition validates and applies a lifecycle change.
func Transition(from, to schema.InstanceStatus) (schema.InstanceStatus, error) {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return to, nil
		}
	}
	return from, schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"cannot transition instance from %s to %s", from, to)
}
