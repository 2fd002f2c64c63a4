package actions

import (
	"context"

	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

// BranchHandler evaluates a boolean condition and recursively dispatches the
// chosen nested action list through the flow state machine, which keeps one
// shared step counter across all nesting levels.
type BranchHandler struct{}

func (h *BranchHandler) Kind() schema.ActionKind { return schema.ActionBranch }

func (h *BranchHandler) Execute(ctx context.Context, in *Input) error {
	if in.Spec.Condition == "" {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"branch action %q has no condition", in.Spec.Name)
	}
	// An unresolvable condition falls back to false rather than failing
	// the branch; the if_false arm runs.
	result, rendered := in.Conditions.EvaluateSafe(ctx, in.Spec.Condition, in.Flow, false)
	if rendered == "" {
		rendered = in.Spec.Condition
	}

	obs := in.Observation
	obs.BranchCondition = rendered
	obs.BranchResult = &result

	var chosen []*schema.ActionSpec
	if result {
		obs.BranchTaken = "if_true"
		chosen = in.Spec.IfTrue
	} else {
		obs.BranchTaken = "if_false"
		chosen = in.Spec.IfFalse
	}
	// The branch decision is recorded before its children so observations
	// stay in step order within the instance.
	if in.Emit != nil {
		in.Emit(ctx)
	}
	if len(chosen) == 0 || in.RunBranch == nil {
		return nil
	}
	return in.RunBranch(ctx, chosen)
}
