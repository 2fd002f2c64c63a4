package actions

import (
	"context"

	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

// AssertHandler checks an expectation against the current context and last
// response without touching the network.
type AssertHandler struct{}

func (h *AssertHandler) Kind() schema.ActionKind { return schema.ActionAssert }

func (h *AssertHandler) Execute(ctx context.Context, in *Input) error {
	if in.Spec.Expect == nil || in.Spec.Expect.IsZero() {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"assert action %q has no expect clause", in.Spec.Name)
	}
	// An expression-only assert may run before any request was made.
	if in.Flow.LastResponse == nil && in.Spec.Expect.Expression != "" &&
		in.Spec.Expect.Status == 0 && in.Spec.Expect.BodyPath == "" && in.Spec.Expect.Schema == nil {
		ok, rendered, err := in.Conditions.Evaluate(ctx, in.Spec.Expect.Expression, in.Flow)
		if err != nil {
			return err
		}
		if !ok {
			return schema.NewErrorf(schema.ErrCodeAssertionFailure,
				"expression %q is false", in.Spec.Expect.Expression).
				WithDetails(map[string]any{"expression": rendered})
		}
		return nil
	}
	return checkExpect(ctx, in, in.Spec.Expect)
}
