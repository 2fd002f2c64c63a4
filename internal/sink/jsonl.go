package sink

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

// JSONL writes run artifacts to a directory tree:
//
//	<root>/<run_id>/manifest.json
//	<root>/<run_id>/observations.jsonl
//	<root>/<run_id>/results.jsonl
//	<root>/<run_id>/assertions.jsonl
//	<root>/<run_id>/summary.json
//
// Each record is flushed as soon as it is written so a crashed run still
// leaves usable partial artifacts.
type JSONL struct {
	root string

	mu           sync.Mutex
	runDir       string
	observations *lineWriter
	results      *lineWriter
	assertions   *lineWriter
}

// assertionRecord is one final-assertion outcome flattened into its own
// stream, keyed back to the instance that produced it.
type assertionRecord struct {
	RunID      string `json:"run_id"`
	InstanceID string `json:"instance_id"`
	Name       string `json:"name"`
	Passed     bool   `json:"passed"`
	Detail     string `json:"detail,omitempty"`
}

type lineWriter struct {
	file *os.File
	buf  *bufio.Writer
}

func newLineWriter(path string) (*lineWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &lineWriter{file: f, buf: bufio.NewWriter(f)}, nil
}

func (w *lineWriter) writeRecord(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.buf.Write(raw); err != nil {
		return err
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return err
	}
	return w.buf.Flush()
}

func (w *lineWriter) close() error {
	if w == nil {
		return nil
	}
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

func NewJSONL(root string) *JSONL {
	return &JSONL{root: root}
}

func (j *JSONL) WriteManifest(m *schema.RunManifest) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.runDir = filepath.Join(j.root, m.RunID)
	if err := os.MkdirAll(j.runDir, 0o755); err != nil {
		return schema.NewError(schema.ErrCodeSink, "cannot create artifact directory").WithCause(err)
	}
	if err := writeJSONFile(filepath.Join(j.runDir, "manifest.json"), m); err != nil {
		return err
	}

	var err error
	if j.observations, err = newLineWriter(filepath.Join(j.runDir, "observations.jsonl")); err != nil {
		return schema.NewError(schema.ErrCodeSink, "cannot open observations file").WithCause(err)
	}
	if j.results, err = newLineWriter(filepath.Join(j.runDir, "results.jsonl")); err != nil {
		return schema.NewError(schema.ErrCodeSink, "cannot open results file").WithCause(err)
	}
	if j.assertions, err = newLineWriter(filepath.Join(j.runDir, "assertions.jsonl")); err != nil {
		return schema.NewError(schema.ErrCodeSink, "cannot open assertions file").WithCause(err)
	}
	return nil
}

func (j *JSONL) WriteObservation(o *schema.Observation) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.observations == nil {
		return schema.NewError(schema.ErrCodeSink, "sink not initialized: manifest must be written first")
	}
	if err := j.observations.writeRecord(o); err != nil {
		return schema.NewError(schema.ErrCodeSink, "cannot append observation").WithCause(err)
	}
	return nil
}

func (j *JSONL) WriteResult(r *schema.InstanceResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.results == nil {
		return schema.NewError(schema.ErrCodeSink, "sink not initialized: manifest must be written first")
	}
	if err := j.results.writeRecord(r); err != nil {
		return schema.NewError(schema.ErrCodeSink, "cannot append result").WithCause(err)
	}
	for _, a := range r.Assertions {
		record := assertionRecord{
			RunID:      r.RunID,
			InstanceID: r.InstanceID,
			Name:       a.Name,
			Passed:     a.Passed,
			Detail:     a.Detail,
		}
		if err := j.assertions.writeRecord(record); err != nil {
			return schema.NewError(schema.ErrCodeSink, "cannot append assertion outcome").WithCause(err)
		}
	}
	return nil
}

func (j *JSONL) WriteSummary(s *schema.RunSummary) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.runDir == "" {
		return schema.NewError(schema.ErrCodeSink, "sink not initialized: manifest must be written first")
	}
	return writeJSONFile(filepath.Join(j.runDir, "summary.json"), s)
}

func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	obsErr := j.observations.close()
	resErr := j.results.close()
	assertErr := j.assertions.close()
	j.observations = nil
	j.results = nil
	j.assertions = nil
	if obsErr != nil {
		return obsErr
	}
	if resErr != nil {
		return resErr
	}
	return assertErr
}

// JSONLReader loads artifacts previously written by JSONL.
type JSONLReader struct {
	root string
}

func NewJSONLReader(root string) *JSONLReader { return &JSONLReader{root: root} }

func (r *JSONLReader) LoadManifest(runID string) (*schema.RunManifest, error) {
	var m schema.RunManifest
	if err := readJSONFile(filepath.Join(r.root, runID, "manifest.json"), &m); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSink, "cannot load manifest for run %s", runID).WithCause(err)
	}
	return &m, nil
}

func (r *JSONLReader) LoadResult(runID, instanceID string) (*schema.InstanceResult, error) {
	path := filepath.Join(r.root, runID, "results.jsonl")
	f, err := os.Open(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSink, "cannot open results for run %s", runID).WithCause(err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var result schema.InstanceResult
		if err := json.Unmarshal(scanner.Bytes(), &result); err != nil {
			return nil, schema.NewError(schema.ErrCodeSink, "corrupt results record").WithCause(err)
		}
		if result.InstanceID == instanceID {
			return &result, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, schema.NewError(schema.ErrCodeSink, "cannot read results").WithCause(err)
	}
	return nil, schema.NewErrorf(schema.ErrCodeSink, "instance %s not found in run %s", instanceID, runID)
}

func (r *JSONLReader) LoadSummary(runID string) (*schema.RunSummary, error) {
	var s schema.RunSummary
	if err := readJSONFile(filepath.Join(r.root, runID, "summary.json"), &s); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSink, "cannot load summary for run %s", runID).WithCause(err)
	}
	return &s, nil
}

func writeJSONFile(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return schema.NewError(schema.ErrCodeSink, "cannot encode artifact").WithCause(err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return schema.NewError(schema.ErrCodeSink, "cannot write artifact").WithCause(err)
	}
	return nil
}

func readJSONFile(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
