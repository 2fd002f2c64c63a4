package expressions

import (
	"sync"

	"github.com/itchyny/gojq"

	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

// Extractor evaluates jq programs against response bodies for the dispatcher's
// extract and body_path expectations.
//
// A malformed program is a JSONPATH_ERROR; a well-formed program that matches
// nothing yields nil, which callers record as a null extraction.
// Thread-safe: compiled *gojq.Code objects are cached and reused.
type Extractor struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewExtractor creates a jq extractor.
func NewExtractor() *Extractor {
	return &Extractor{cache: make(map[string]*gojq.Code)}
}

// Extract runs the jq program against the value and returns the first output.
func (e *Extractor) Extract(program string, value any) (any, error) {
	if program == "" {
		return nil, schema.NewError(schema.ErrCodeJSONPath, "empty jq program")
	}

	code, err := e.getOrCompile(program)
	if err != nil {
		return nil, err
	}

	iter := code.Run(normalizeForJQ(value))
	for {
		out, ok := iter.Next()
		if !ok {
			return nil, nil
		}
		if _, isErr := out.(error); isErr {
			// valid program, incompatible data: treated as no match
			return nil, nil
		}
		return out, nil
	}
}

func (e *Extractor) getOrCompile(program string) (*gojq.Code, error) {
	e.mu.RLock()
	if code, ok := e.cache[program]; ok {
		e.mu.RUnlock()
		return code, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if code, ok := e.cache[program]; ok {
		return code, nil
	}

	query, err := gojq.Parse(program)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeJSONPath,
			"jq parse error in %q: %s", program, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"program": program})
	}

	code, err := gojq.Compile(query,
		// sandbox: block $ENV and env access
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeJSONPath,
			"jq compile error in %q: %s", program, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"program": program})
	}

	e.cache[program] = code
	return code, nil
}

// normalizeForJQ converts Go native integer types to float64, matching jq's
// number handling.
func normalizeForJQ(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeForJQ(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeForJQ(item)
		}
		return out
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}
