package expressions

import (
	"strings"

	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

// Response is the last HTTP-like response seen by an instance.
type Response struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       any               `json:"body,omitempty"`
}

// Context is the workflow context of a single instance. It is exclusively
// owned by that instance's flow runner and is never shared, so no locking.
type Context struct {
	RunID         string
	InstanceID    string
	CorrelationID string
	InstanceIndex int

	Entry        map[string]any
	Vars         map[string]any
	LastResponse *Response
}

// NewContext creates a context with its own vars map. The entry map is the
// scenario's shared read-only entry data; it is never written through.
func NewContext(runID, instanceID, correlationID string, index int, entry map[string]any) *Context {
	return &Context{
		RunID:         runID,
		InstanceID:    instanceID,
		CorrelationID: correlationID,
		InstanceIndex: index,
		Entry:         entry,
		Vars:          make(map[string]any),
	}
}

// SetVar records an extracted variable. Later writes overwrite earlier ones.
func (c *Context) SetVar(name string, value any) {
	c.Vars[name] = value
}

// SetLastResponse replaces the last-response view.
func (c *Context) SetLastResponse(status int, headers map[string]string, body any) {
	c.LastResponse = &Response{StatusCode: status, Headers: headers, Body: body}
}

// lastResponseMap exposes the last response for token traversal.
func (c *Context) lastResponseMap() map[string]any {
	if c.LastResponse == nil {
		return nil
	}
	headers := make(map[string]any, len(c.LastResponse.Headers))
	for k, v := range c.LastResponse.Headers {
		headers[k] = v
	}
	return map[string]any{
		"status_code": c.LastResponse.StatusCode,
		"headers":     headers,
		"body":        c.LastResponse.Body,
	}
}

// Lookup resolves a dotted token against the context. The head segment
// resolves in precedence order: extracted vars, entry data, run metadata,
// then the last_response namespace. Remaining segments traverse nested maps.
func (c *Context) Lookup(token string) (any, error) {
	segments := strings.Split(token, ".")
	head := segments[0]

	var root any
	switch {
	case hasKey(c.Vars, head):
		root = c.Vars[head]
	case hasKey(c.Entry, head):
		root = c.Entry[head]
	case head == "run_id":
		root = c.RunID
	case head == "instance_id":
		root = c.InstanceID
	case head == "correlation_id":
		root = c.CorrelationID
	case head == "instance_index":
		root = c.InstanceIndex
	case head == "entry":
		root = c.Entry
	case head == "last_response":
		lr := c.lastResponseMap()
		if lr == nil {
			return nil, schema.NewErrorf(schema.ErrCodeTemplate,
				"cannot resolve %q: no response recorded yet", token)
		}
		root = lr
	default:
		return nil, schema.NewErrorf(schema.ErrCodeTemplate,
			"variable %q not found in context", head).
			WithDetails(map[string]any{"token": token, "available": availableNames(c)})
	}

	return traverse(root, segments[1:], token)
}

// Env builds the flat evaluation environment for condition engines: every
// resolvable head name becomes a top-level variable.
func (c *Context) Env() map[string]any {
	env := make(map[string]any, len(c.Vars)+len(c.Entry)+5)
	for k, v := range c.Entry {
		env[k] = v
	}
	for k, v := range c.Vars {
		env[k] = v
	}
	env["run_id"] = c.RunID
	env["instance_id"] = c.InstanceID
	env["correlation_id"] = c.CorrelationID
	env["instance_index"] = c.InstanceIndex
	env["entry"] = c.Entry
	if lr := c.lastResponseMap(); lr != nil {
		env["last_response"] = lr
	} else {
		env["last_response"] = map[string]any{}
	}
	return env
}

func hasKey(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	_, ok := m[key]
	return ok
}

func traverse(root any, segments []string, token string) (any, error) {
	current := root
	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeTemplate,
				"cannot traverse into non-object at %q in %q", seg, token)
		}
		val, ok := m[seg]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeTemplate,
				"field %q not found in %q", seg, token)
		}
		current = val
	}
	return current, nil
}

func availableNames(c *Context) []string {
	names := make([]string, 0, len(c.Vars)+len(c.Entry))
	for k := range c.Vars {
		names = append(names, k)
	}
	for k := range c.Entry {
		names = append(names, k)
	}
	// insertion sort, small slices
	for i := 1; i < len(names); i++ {
		key := names[i]
		j := i - 1
		for j >= 0 && names[j] > key {
			names[j+1] = names[j]
			j--
		}
		names[j+1] = key
	}
	return names
}
