package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

// Response is the decoded result of one HTTP exchange. Body is the parsed
// JSON document when the payload is JSON, the raw string otherwise.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       any
	LatencyMs  int64
}

// Transport performs a single HTTP exchange against a named service.
// Implementations map transport failures to TIMEOUT_ERROR or
// CONNECTION_ERROR so the retry policy can classify them.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Request is one rendered HTTP call.
type Request struct {
	Service string
	Method  string
	Path    string
	Headers map[string]string
	Body    any
	// TimeoutMs overrides the service timeout when positive.
	TimeoutMs int64
}

// HTTPTransport routes requests to services from a SUT config, keeping one
// pooled client per service. Clients are created on first use and reused for
// the rest of the run.
type HTTPTransport struct {
	sut *schema.SUTConfig

	mu      sync.Mutex
	clients map[string]*http.Client
}

func NewHTTPTransport(sut *schema.SUTConfig) *HTTPTransport {
	return &HTTPTransport{sut: sut, clients: make(map[string]*http.Client)}
}

func (t *HTTPTransport) client(service string, svc schema.ServiceConfig) *http.Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.clients[service]; ok {
		return c
	}
	timeout := svc.TimeoutSeconds
	if timeout <= 0 {
		timeout = schema.DefaultServiceTimeoutSeconds
	}
	c := &http.Client{Timeout: time.Duration(timeout * float64(time.Second))}
	t.clients[service] = c
	return c
}

func (t *HTTPTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	if t.sut == nil {
		return nil, schema.NewError(schema.ErrCodeConfig, "no target system configured")
	}
	svc, ok := t.sut.Services[req.Service]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "unknown service %q", req.Service)
	}

	fullURL, err := joinURL(svc.BaseURL, req.Path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid request path %q", req.Path).WithCause(err)
	}

	var bodyReader io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "request body is not serializable").WithCause(err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, bodyReader)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "cannot build request").WithCause(err)
	}
	for k, v := range svc.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if bodyReader != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := t.client(req.Service, svc).Do(httpReq)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return nil, classifyTransportError(err, latency)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeConnection, "reading response body failed").WithCause(err)
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Headers:    flattenHeaders(resp.Header),
		LatencyMs:  latency,
	}
	out.Body = decodeBody(raw)
	return out, nil
}

func classifyTransportError(err error, latencyMs int64) error {
	code := schema.ErrCodeConnection
	msg := "request failed"
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		code = schema.ErrCodeTimeout
		msg = "request timed out"
	} else if errors.Is(err, context.Canceled) {
		code = schema.ErrCodeCancelled
		msg = "request cancelled"
	}
	return schema.NewError(code, msg).
		WithCause(err).
		WithDetails(map[string]any{"latency_ms": latencyMs})
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

func decodeBody(raw []byte) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	var parsed any
	if err := json.Unmarshal(trimmed, &parsed); err == nil {
		return parsed
	}
	return string(raw)
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		if len(vs) > 0 {
			out[strings.ToLower(k)] = vs[0]
		}
	}
	return out
}

func joinURL(base, path string) (string, error) {
	full := strings.TrimRight(base, "/")
	if path != "" {
		full += "/" + strings.TrimLeft(path, "/")
	}
	if _, err := url.Parse(full); err != nil {
		return "", err
	}
	return full, nil
}
