package sink

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

func testManifest(runID string) *schema.RunManifest {
	return &schema.RunManifest{
		RunID:      runID,
		ScenarioID: "browse",
		Seed:       42,
		Instances:  2,
		Parallel:   2,
		StartedAt:  time.Now().UTC(),
	}
}

func TestJSONLRoundTrip(t *testing.T) {
	root := t.TempDir()
	s := NewJSONL(root)

	require.NoError(t, s.WriteManifest(testManifest("run-1")))
	require.NoError(t, s.WriteObservation(&schema.Observation{
		RunID: "run-1", InstanceID: "i-1", Step: 1, ActionName: "list", OK: true, StatusCode: 200,
	}))
	require.NoError(t, s.WriteResult(&schema.InstanceResult{
		RunID: "run-1", InstanceID: "i-1", InstanceIndex: 0, Status: schema.InstancePassed, Steps: 1,
	}))
	require.NoError(t, s.WriteSummary(&schema.RunSummary{RunID: "run-1", Total: 1, PassCount: 1, PassRate: 100}))
	require.NoError(t, s.Close())

	reader := NewJSONLReader(root)

	manifest, err := reader.LoadManifest("run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), manifest.Seed)
	assert.Equal(t, "browse", manifest.ScenarioID)

	result, err := reader.LoadResult("run-1", "i-1")
	require.NoError(t, err)
	assert.Equal(t, schema.InstancePassed, result.Status)

	summary, err := reader.LoadSummary("run-1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, summary.PassRate)

	_, err = reader.LoadResult("run-1", "no-such-instance")
	assert.Error(t, err)
	_, err = reader.LoadManifest("no-such-run")
	assert.Error(t, err)
}

func TestJSONLObservationsAreLineDelimited(t *testing.T) {
	root := t.TempDir()
	s := NewJSONL(root)
	require.NoError(t, s.WriteManifest(testManifest("run-2")))
	for i := 1; i <= 3; i++ {
		require.NoError(t, s.WriteObservation(&schema.Observation{RunID: "run-2", InstanceID: "i", Step: i}))
	}
	require.NoError(t, s.Close())

	f, err := os.Open(filepath.Join(root, "run-2", "observations.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var steps []int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var o schema.Observation
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &o))
		steps = append(steps, o.Step)
	}
	assert.Equal(t, []int{1, 2, 3}, steps)
}

func TestJSONLWritesAssertionStream(t *testing.T) {
	root := t.TempDir()
	s := NewJSONL(root)
	require.NoError(t, s.WriteManifest(testManifest("run-5")))
	require.NoError(t, s.WriteResult(&schema.InstanceResult{
		RunID: "run-5", InstanceID: "i-1", Status: schema.InstanceFailed,
		Assertions: []schema.AssertionOutcome{
			{Name: "order_recorded", Passed: true},
			{Name: "no_server_error", Passed: false, Detail: "last_response.status_code == 500"},
		},
	}))
	require.NoError(t, s.Close())

	f, err := os.Open(filepath.Join(root, "run-5", "assertions.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var records []assertionRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec assertionRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.Len(t, records, 2)
	assert.Equal(t, "i-1", records[0].InstanceID)
	assert.Equal(t, "order_recorded", records[0].Name)
	assert.True(t, records[0].Passed)
	assert.False(t, records[1].Passed)
	assert.Equal(t, "last_response.status_code == 500", records[1].Detail)
}

func TestJSONLRequiresManifestFirst(t *testing.T) {
	s := NewJSONL(t.TempDir())
	assert.Error(t, s.WriteObservation(&schema.Observation{}))
	assert.Error(t, s.WriteResult(&schema.InstanceResult{}))
	assert.Error(t, s.WriteSummary(&schema.RunSummary{}))
}

func TestJSONLConcurrentAppend(t *testing.T) {
	s := NewJSONL(t.TempDir())
	require.NoError(t, s.WriteManifest(testManifest("run-3")))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				assert.NoError(t, s.WriteObservation(&schema.Observation{RunID: "run-3", Step: i}))
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, s.Close())
}

func TestMemoryInstanceObservations(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.WriteObservation(&schema.Observation{InstanceID: "a", Step: 1}))
	require.NoError(t, m.WriteObservation(&schema.Observation{InstanceID: "b", Step: 1}))
	require.NoError(t, m.WriteObservation(&schema.Observation{InstanceID: "a", Step: 2}))

	obs := m.InstanceObservations("a")
	require.Len(t, obs, 2)
	assert.Equal(t, 1, obs[0].Step)
	assert.Equal(t, 2, obs[1].Step)
}

func TestMultiFansOut(t *testing.T) {
	a, b := NewMemory(), NewMemory()
	multi := NewMulti(a, b)

	require.NoError(t, multi.WriteManifest(testManifest("run-4")))
	require.NoError(t, multi.WriteObservation(&schema.Observation{RunID: "run-4"}))
	require.NoError(t, multi.WriteResult(&schema.InstanceResult{RunID: "run-4"}))
	require.NoError(t, multi.Close())

	assert.NotNil(t, a.Manifest)
	assert.NotNil(t, b.Manifest)
	assert.Len(t, a.Observations, 1)
	assert.Len(t, b.Observations, 1)
	assert.Len(t, a.Results, 1)
}
