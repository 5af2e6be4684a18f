package trace

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver

	"ringsched/internal/sched"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	at           DATETIME NOT NULL,
	tick         INTEGER NOT NULL,
	kind         TEXT NOT NULL,
	task_id      INTEGER NOT NULL,
	parent_id    INTEGER NOT NULL,
	privilege    INTEGER NOT NULL,
	quantum_used INTEGER NOT NULL,
	ran_ticks    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS events_run_task ON events (run_id, task_id);
`

// SQLite stores events in an events table, one row each.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path and ensures the schema.
// The caller is responsible for calling Close.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Record(runID string, ev sched.StatusEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO events
			(run_id, at, tick, kind, task_id, parent_id, privilege, quantum_used, ran_ticks)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		runID, ev.Time.UTC(), ev.Tick, ev.Kind.String(),
		int(ev.TaskID), int(ev.ParentID), int(ev.Privilege),
		ev.QuantumUsed, ev.RanTicks,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Summary returns the lifetime ticks of each task that finished in a run.
func (s *SQLite) Summary(runID string) (map[sched.TaskID]int64, error) {
	rows, err := s.db.Query(`
		SELECT task_id, ran_ticks FROM events
		WHERE run_id = ? AND kind = ?
		ORDER BY id`, runID, sched.StatusFinish.String())
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	out := make(map[sched.TaskID]int64)
	for rows.Next() {
		var id int
		var ran int64
		if err := rows.Scan(&id, &ran); err != nil {
			return nil, err
		}
		out[sched.TaskID(id)] += ran
	}
	return out, rows.Err()
}

// Close releases the underlying database connection.
func (s *SQLite) Close() error { return s.db.Close() }
