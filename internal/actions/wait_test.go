package actions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

func TestWaitHandlerPollsUntilReady(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": statusFor(n)})
	}))
	defer server.Close()

	spec := &schema.ActionSpec{
		Kind:            schema.ActionWait,
		Name:            "wait_ready",
		Service:         "api",
		Method:          "GET",
		Path:            "/status",
		IntervalSeconds: 0.01,
		TimeoutSeconds:  5,
		Expect:          &schema.ExpectSpec{Status: 200, BodyPath: ".status", Equals: "ready"},
	}
	in := newTestInput(t, server.URL, spec, nil)

	err := (&WaitHandler{}).Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, 3, in.Observation.Polls)
	require.Len(t, in.Observation.Attempts, 3, "every poll's attempt stays on the observation")
	assert.Equal(t, 200, in.Observation.Attempts[0].StatusCode)
}

func statusFor(call int32) string {
	if call < 3 {
		return "pending"
	}
	return "ready"
}

func TestWaitHandlerTimesOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": "pending"})
	}))
	defer server.Close()

	spec := &schema.ActionSpec{
		Kind:            schema.ActionWait,
		Name:            "wait_forever",
		Service:         "api",
		Method:          "GET",
		Path:            "/status",
		IntervalSeconds: 0.01,
		TimeoutSeconds:  0.05,
		Expect:          &schema.ExpectSpec{BodyPath: ".status", Equals: "ready"},
	}
	in := newTestInput(t, server.URL, spec, nil)

	err := (&WaitHandler{}).Execute(context.Background(), in)
	require.Error(t, err)
	var engineErr *schema.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, schema.ErrCodeTimeout, engineErr.Code)
	assert.Greater(t, in.Observation.Polls, 1)
}

func TestWaitHandlerTemplateErrorFailsFast(t *testing.T) {
	spec := &schema.ActionSpec{
		Kind: schema.ActionWait, Name: "bad_wait", Service: "api", Method: "GET",
		Path:            "/x/{{missing}}",
		IntervalSeconds: 0.01,
		TimeoutSeconds:  5,
	}
	in := newTestInput(t, "http://127.0.0.1:0", spec, nil)

	err := (&WaitHandler{}).Execute(context.Background(), in)
	require.Error(t, err)
	var engineErr *schema.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, schema.ErrCodeTemplate, engineErr.Code, "template errors must not be polled through")
	assert.Equal(t, 1, in.Observation.Polls)
}
