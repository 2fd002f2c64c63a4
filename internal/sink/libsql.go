package sink

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

const libsqlMigration = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	scenario_id TEXT NOT NULL,
	seed        INTEGER NOT NULL,
	instances   INTEGER NOT NULL,
	parallel    INTEGER NOT NULL,
	sut_name    TEXT,
	profile     TEXT,
	started_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS observations (
	run_id      TEXT NOT NULL,
	instance_id TEXT NOT NULL,
	step        INTEGER NOT NULL,
	action_name TEXT NOT NULL,
	record      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_observations_instance ON observations (run_id, instance_id, step);
CREATE TABLE IF NOT EXISTS results (
	run_id      TEXT NOT NULL,
	instance_id TEXT NOT NULL,
	status      TEXT NOT NULL,
	record      TEXT NOT NULL,
	PRIMARY KEY (run_id, instance_id)
);
CREATE TABLE IF NOT EXISTS summaries (
	run_id TEXT PRIMARY KEY,
	record TEXT NOT NULL
);
`

// LibSQL persists run artifacts to a local libsql database. Full records are
// stored as JSON with the columns queries filter on broken out alongside.
type LibSQL struct {
	db *sql.DB
}

// NewLibSQL opens (and migrates) the database at path.
func NewLibSQL(path string) (*LibSQL, error) {
	db, err := sql.Open("libsql", "file:"+path)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeSink, "cannot open artifact database").WithCause(err)
	}
	if _, err := db.Exec(libsqlMigration); err != nil {
		db.Close()
		return nil, schema.NewError(schema.ErrCodeSink, "cannot migrate artifact database").WithCause(err)
	}
	return &LibSQL{db: db}, nil
}

func (l *LibSQL) WriteManifest(m *schema.RunManifest) error {
	_, err := l.db.Exec(
		`INSERT OR REPLACE INTO runs (run_id, scenario_id, seed, instances, parallel, sut_name, profile, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.RunID, m.ScenarioID, m.Seed, m.Instances, m.Parallel, m.SUTName, m.Profile,
		m.StartedAt.Format(time.RFC3339Nano))
	if err != nil {
		return schema.NewError(schema.ErrCodeSink, "cannot persist manifest").WithCause(err)
	}
	return nil
}

func (l *LibSQL) WriteObservation(o *schema.Observation) error {
	record, err := json.Marshal(o)
	if err != nil {
		return schema.NewError(schema.ErrCodeSink, "cannot encode observation").WithCause(err)
	}
	_, err = l.db.Exec(
		`INSERT INTO observations (run_id, instance_id, step, action_name, record) VALUES (?, ?, ?, ?, ?)`,
		o.RunID, o.InstanceID, o.Step, o.ActionName, string(record))
	if err != nil {
		return schema.NewError(schema.ErrCodeSink, "cannot persist observation").WithCause(err)
	}
	return nil
}

func (l *LibSQL) WriteResult(r *schema.InstanceResult) error {
	record, err := json.Marshal(r)
	if err != nil {
		return schema.NewError(schema.ErrCodeSink, "cannot encode result").WithCause(err)
	}
	_, err = l.db.Exec(
		`INSERT OR REPLACE INTO results (run_id, instance_id, status, record) VALUES (?, ?, ?, ?)`,
		r.RunID, r.InstanceID, string(r.Status), string(record))
	if err != nil {
		return schema.NewError(schema.ErrCodeSink, "cannot persist result").WithCause(err)
	}
	return nil
}

func (l *LibSQL) WriteSummary(s *schema.RunSummary) error {
	record, err := json.Marshal(s)
	if err != nil {
		return schema.NewError(schema.ErrCodeSink, "cannot encode summary").WithCause(err)
	}
	_, err = l.db.Exec(
		`INSERT OR REPLACE INTO summaries (run_id, record) VALUES (?, ?)`, s.RunID, string(record))
	if err != nil {
		return schema.NewError(schema.ErrCodeSink, "cannot persist summary").WithCause(err)
	}
	return nil
}

func (l *LibSQL) Close() error { return l.db.Close() }

func (l *LibSQL) LoadManifest(runID string) (*schema.RunManifest, error) {
	row := l.db.QueryRow(
		`SELECT run_id, scenario_id, seed, instances, parallel, sut_name, profile, started_at
		 FROM runs WHERE run_id = ?`, runID)
	var m schema.RunManifest
	var startedAt string
	err := row.Scan(&m.RunID, &m.ScenarioID, &m.Seed, &m.Instances, &m.Parallel, &m.SUTName, &m.Profile, &startedAt)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeSink, "run %s not found", runID)
	}
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeSink, "cannot load manifest").WithCause(err)
	}
	if m.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return nil, schema.NewError(schema.ErrCodeSink, "corrupt manifest timestamp").WithCause(err)
	}
	return &m, nil
}

func (l *LibSQL) LoadResult(runID, instanceID string) (*schema.InstanceResult, error) {
	row := l.db.QueryRow(
		`SELECT record FROM results WHERE run_id = ? AND instance_id = ?`, runID, instanceID)
	var record string
	err := row.Scan(&record)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeSink, "instance %s not found in run %s", instanceID, runID)
	}
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeSink, "cannot load result").WithCause(err)
	}
	var result schema.InstanceResult
	if err := json.Unmarshal([]byte(record), &result); err != nil {
		return nil, schema.NewError(schema.ErrCodeSink, "corrupt result record").WithCause(err)
	}
	return &result, nil
}

func (l *LibSQL) LoadSummary(runID string) (*schema.RunSummary, error) {
	row := l.db.QueryRow(`SELECT record FROM summaries WHERE run_id = ?`, runID)
	var record string
	err := row.Scan(&record)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeSink, "summary for run %s not found", runID)
	}
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeSink, "cannot load summary").WithCause(err)
	}
	var summary schema.RunSummary
	if err := json.Unmarshal([]byte(record), &summary); err != nil {
		return nil, schema.NewError(schema.ErrCodeSink, "corrupt summary record").WithCause(err)
	}
	return &summary, nil
}
