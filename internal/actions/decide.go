package actions

import (
	"context"

	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

// DecideHandler draws a weighted option from the instance's decision stream
// and stores it in the workflow context.
type DecideHandler struct{}

func (h *DecideHandler) Kind() schema.ActionKind { return schema.ActionDecide }

func (h *DecideHandler) Execute(_ context.Context, in *Input) error {
	if in.Spec.Decision == "" {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"decide action %q names no decision", in.Spec.Name)
	}
	if in.Decider == nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"decide action %q requires a decision policy", in.Spec.Name)
	}
	choice, err := in.Decider.Decide(in.Spec.Decision)
	if err != nil {
		return err
	}

	in.Observation.Decision = in.Spec.Decision
	in.Observation.DecisionResult = choice

	outputVar := in.Spec.OutputVar
	if outputVar == "" {
		outputVar = in.Spec.Decision
	}
	in.Flow.SetVar(outputVar, choice)
	return nil
}
