package actions

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windtunnel-dev/windtunnel/internal/expressions"
	"github.com/windtunnel-dev/windtunnel/internal/turbulence"
	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

func newTestInput(t *testing.T, baseURL string, spec *schema.ActionSpec, entry map[string]any) *Input {
	t.Helper()
	resolver := expressions.NewResolver()
	return &Input{
		Spec:       spec,
		Flow:       expressions.NewContext("run-t", "inst-t", "run-t-0000", 0, entry),
		Resolver:   resolver,
		Conditions: expressions.NewConditionEvaluator(resolver, expressions.NewExprEngine()),
		Extractor:  expressions.NewExtractor(),
		Transport: NewHTTPTransport(&schema.SUTConfig{
			Name: "test",
			Services: map[string]schema.ServiceConfig{
				"api": {BaseURL: baseURL, TimeoutSeconds: 2},
			},
		}),
		Injector:    turbulence.NewInjector(nil, nil),
		Observation: &schema.Observation{},
	}
}

func TestHTTPHandlerRendersExtractsAndAsserts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products/p42", r.URL.Path)
		assert.Equal(t, "bearer tok-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id": "p42", "price": 19.9, "in_stock": true,
		})
	}))
	defer server.Close()

	spec := &schema.ActionSpec{
		Kind:    schema.ActionHTTP,
		Name:    "get_product",
		Service: "api",
		Method:  "GET",
		Path:    "/products/{{product_id}}",
		Headers: map[string]string{"Authorization": "bearer {{token}}"},
		Extract: map[string]string{"price": ".price", "stocked": ".in_stock"},
		Expect:  &schema.ExpectSpec{Status: 200, BodyPath: ".id", Equals: "p42"},
	}
	in := newTestInput(t, server.URL, spec, map[string]any{"product_id": "p42", "token": "tok-1"})

	err := (&HTTPHandler{}).Execute(context.Background(), in)
	require.NoError(t, err)

	price, err := in.Flow.Lookup("price")
	require.NoError(t, err)
	assert.Equal(t, 19.9, price)

	stocked, err := in.Flow.Lookup("stocked")
	require.NoError(t, err)
	assert.Equal(t, true, stocked)

	require.NotNil(t, in.Flow.LastResponse)
	assert.Equal(t, 200, in.Flow.LastResponse.StatusCode)
	assert.Equal(t, 200, in.Observation.StatusCode)
	require.Len(t, in.Observation.Attempts, 1)
}

func TestHTTPHandlerRetriesThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer server.Close()

	spec := &schema.ActionSpec{
		Kind:    schema.ActionHTTP,
		Name:    "flaky",
		Service: "api",
		Method:  "GET",
		Path:    "/flaky",
		Retry: &schema.RetryConfig{
			MaxAttempts: 3,
			OnStatus:    []int{503},
			Backoff:     schema.BackoffExponential,
			BaseDelayMs: 1,
			MaxDelayMs:  5,
		},
		Expect: &schema.ExpectSpec{Status: 200},
	}
	in := newTestInput(t, server.URL, spec, nil)

	err := (&HTTPHandler{}).Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	require.Len(t, in.Observation.Attempts, 3)
	assert.Equal(t, 503, in.Observation.Attempts[0].StatusCode)
	assert.Equal(t, 200, in.Observation.Attempts[2].StatusCode)
}

func TestHTTPHandlerExpectFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	spec := &schema.ActionSpec{
		Kind: schema.ActionHTTP, Name: "missing", Service: "api", Method: "GET", Path: "/nope",
		Expect: &schema.ExpectSpec{Status: 200},
	}
	in := newTestInput(t, server.URL, spec, nil)

	err := (&HTTPHandler{}).Execute(context.Background(), in)
	require.Error(t, err)
	var engineErr *schema.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, schema.ErrCodeAssertionFailure, engineErr.Code)
}

func TestHTTPHandlerLastResponseSurvivesFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	spec := &schema.ActionSpec{
		Kind: schema.ActionHTTP, Name: "always_down", Service: "api", Method: "GET", Path: "/down",
		Retry: &schema.RetryConfig{MaxAttempts: 2, OnStatus: []int{503}, DelayMs: 1},
	}
	in := newTestInput(t, server.URL, spec, nil)

	err := (&HTTPHandler{}).Execute(context.Background(), in)
	require.Error(t, err)
	var engineErr *schema.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, schema.ErrCodeRetryExhausted, engineErr.Code)

	// A later assertion can still inspect the failing status.
	require.NotNil(t, in.Flow.LastResponse)
	assert.Equal(t, 503, in.Flow.LastResponse.StatusCode)
}

func TestHTTPHandlerTemplateErrorFailsOnlyAction(t *testing.T) {
	spec := &schema.ActionSpec{
		Kind: schema.ActionHTTP, Name: "bad", Service: "api", Method: "GET",
		Path: "/items/{{unknown_var}}",
	}
	in := newTestInput(t, "http://127.0.0.1:0", spec, nil)

	err := (&HTTPHandler{}).Execute(context.Background(), in)
	require.Error(t, err)
	var engineErr *schema.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, schema.ErrCodeTemplate, engineErr.Code)
}

func TestHTTPHandlerMalformedExtract(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"a": 1}`))
	}))
	defer server.Close()

	spec := &schema.ActionSpec{
		Kind: schema.ActionHTTP, Name: "bad_extract", Service: "api", Method: "GET", Path: "/x",
		Extract: map[string]string{"v": ".[broken"},
	}
	in := newTestInput(t, server.URL, spec, nil)

	err := (&HTTPHandler{}).Execute(context.Background(), in)
	require.Error(t, err)
	var engineErr *schema.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, schema.ErrCodeJSONPath, engineErr.Code)
}

func TestHTTPHandlerInducedFaultSkipsCall(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	rate := 1.0
	spec := &schema.ActionSpec{Kind: schema.ActionHTTP, Name: "doomed", Service: "api", Method: "GET", Path: "/x"}
	in := newTestInput(t, server.URL, spec, nil)
	in.Injector = turbulence.NewInjector(
		&schema.FaultPolicy{Global: &schema.FaultLayer{ErrorRate: &rate}},
		rand.New(rand.NewSource(1)))

	err := (&HTTPHandler{}).Execute(context.Background(), in)
	require.Error(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls), "induced fault bypasses the real call")
	assert.Equal(t, turbulence.FaultInducedError, in.Observation.InjectedFault)
	var engineErr *schema.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, schema.ErrCodeConnection, engineErr.Code)
}

func TestTransportUnknownService(t *testing.T) {
	transport := NewHTTPTransport(&schema.SUTConfig{Services: map[string]schema.ServiceConfig{}})
	_, err := transport.Do(context.Background(), &Request{Service: "ghost", Method: "GET", Path: "/"})
	require.Error(t, err)
	var engineErr *schema.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, schema.ErrCodeConfig, engineErr.Code)
}

func TestTransportConnectionError(t *testing.T) {
	transport := NewHTTPTransport(&schema.SUTConfig{
		Services: map[string]schema.ServiceConfig{
			// nothing listens here
			"api": {BaseURL: "http://127.0.0.1:1", TimeoutSeconds: 1},
		},
	})
	_, err := transport.Do(context.Background(), &Request{Service: "api", Method: "GET", Path: "/"})
	require.Error(t, err)
	var engineErr *schema.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, schema.ErrCodeConnection, engineErr.Code)
}
