package actions

import (
	"context"
	"fmt"

	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

// HTTPHandler renders the request, executes it through fault injection and
// the retry policy, stores the response as last_response, extracts variables,
// and checks expectations.
type HTTPHandler struct{}

func (h *HTTPHandler) Kind() schema.ActionKind { return schema.ActionHTTP }

func (h *HTTPHandler) Execute(ctx context.Context, in *Input) error {
	req, err := h.renderRequest(in)
	if err != nil {
		return err
	}

	resp, err := performRequest(ctx, in, req, in.Spec.Retry)
	if err != nil {
		return err
	}

	if err := extractVars(in, resp.Body); err != nil {
		return err
	}
	return checkExpect(ctx, in, in.Spec.Expect)
}

func (h *HTTPHandler) renderRequest(in *Input) (*Request, error) {
	spec := in.Spec
	path, err := renderToString(in, spec.Path)
	if err != nil {
		return nil, err
	}
	headers, err := in.Resolver.RenderStringMap(spec.Headers, in.Flow)
	if err != nil {
		return nil, err
	}
	body, err := in.Resolver.RenderValue(spec.Body, in.Flow)
	if err != nil {
		return nil, err
	}
	method := spec.Method
	if method == "" {
		method = "GET"
	}
	return &Request{
		Service: spec.Service,
		Method:  method,
		Path:    path,
		Headers: headers,
		Body:    body,
	}, nil
}

// performRequest runs one rendered request under the retry policy, routing
// the cycle through the fault injector first. The full attempt history and
// final response land on the observation; last_response is updated whenever
// a response came back, so later assertions can inspect a failing status.
func performRequest(ctx context.Context, in *Input, req *Request, retry *schema.RetryConfig) (*Response, error) {
	override := 0
	if forced, ok := in.Injector.RetryOverride(req.Service, in.Spec.Name); ok {
		override = forced
	}

	obs := in.Observation
	outcome, faultErr := in.Injector.Before(ctx, req.Service, in.Spec.Name)
	obs.InjectedLatencyMs += float64(outcome.AddedLatencyMs)
	if outcome.Fault != "" {
		obs.InjectedFault = outcome.Fault
	}
	if faultErr != nil {
		// An induced fault replaces the call entirely and is never retried.
		obs.Attempts = append(obs.Attempts, schema.Attempt{Number: 1, Error: faultErr.Error()})
		return nil, faultErr
	}

	resp, attempts, err := DoWithRetry(ctx, retry, override, func(ctx context.Context) (*Response, error) {
		return in.Transport.Do(ctx, req)
	})

	obs.Attempts = append(obs.Attempts, attempts...)
	if resp != nil {
		obs.StatusCode = resp.StatusCode
		obs.Headers = resp.Headers
		obs.Body = resp.Body
		in.Flow.SetLastResponse(resp.StatusCode, resp.Headers, resp.Body)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// extractVars pulls values out of the response body into the workflow
// context. A non-matching path stores nil; only a malformed path expression
// fails the action.
func extractVars(in *Input, body any) error {
	for name, program := range in.Spec.Extract {
		value, err := in.Extractor.Extract(program, body)
		if err != nil {
			return err
		}
		in.Flow.SetVar(name, value)
	}
	return nil
}

func renderToString(in *Input, raw string) (string, error) {
	rendered, err := in.Resolver.RenderString(raw, in.Flow)
	if err != nil {
		return "", err
	}
	if s, ok := rendered.(string); ok {
		return s, nil
	}
	return fmt.Sprintf("%v", rendered), nil
}
