package sink

import (
	"sync"

	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

// Sink receives the artifact stream of a run. Implementations must tolerate
// concurrent writers: instances emit observations in parallel, each ordered
// within itself.
type Sink interface {
	WriteManifest(m *schema.RunManifest) error
	WriteObservation(o *schema.Observation) error
	WriteResult(r *schema.InstanceResult) error
	WriteSummary(s *schema.RunSummary) error
	Close() error
}

// Reader loads recorded artifacts for replay and gating.
type Reader interface {
	LoadManifest(runID string) (*schema.RunManifest, error)
	LoadResult(runID, instanceID string) (*schema.InstanceResult, error)
	LoadSummary(runID string) (*schema.RunSummary, error)
}

// Memory keeps everything in process, for tests and for runs that only need
// the summary.
type Memory struct {
	mu           sync.Mutex
	Manifest     *schema.RunManifest
	Observations []*schema.Observation
	Results      []*schema.InstanceResult
	Summary      *schema.RunSummary
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) WriteManifest(manifest *schema.RunManifest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Manifest = manifest
	return nil
}

func (m *Memory) WriteObservation(o *schema.Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Observations = append(m.Observations, o)
	return nil
}

func (m *Memory) WriteResult(r *schema.InstanceResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Results = append(m.Results, r)
	return nil
}

func (m *Memory) WriteSummary(s *schema.RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Summary = s
	return nil
}

func (m *Memory) Close() error { return nil }

// InstanceObservations returns the ordered observations of one instance.
func (m *Memory) InstanceObservations(instanceID string) []*schema.Observation {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*schema.Observation
	for _, o := range m.Observations {
		if o.InstanceID == instanceID {
			out = append(out, o)
		}
	}
	return out
}

// Multi fans every write out to all children, failing on the first error.
type Multi struct {
	sinks []Sink
}

func NewMulti(sinks ...Sink) *Multi { return &Multi{sinks: sinks} }

func (m *Multi) WriteManifest(manifest *schema.RunManifest) error {
	return m.each(func(s Sink) error { return s.WriteManifest(manifest) })
}

func (m *Multi) WriteObservation(o *schema.Observation) error {
	return m.each(func(s Sink) error { return s.WriteObservation(o) })
}

func (m *Multi) WriteResult(r *schema.InstanceResult) error {
	return m.each(func(s Sink) error { return s.WriteResult(r) })
}

func (m *Multi) WriteSummary(s *schema.RunSummary) error {
	return m.each(func(child Sink) error { return child.WriteSummary(s) })
}

func (m *Multi) Close() error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Multi) each(fn func(Sink) error) error {
	for _, s := range m.sinks {
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}
