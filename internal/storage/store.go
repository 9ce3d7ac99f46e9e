// Package storage persists count events, contexts and job outcomes in
// sqlite. The in-memory aggregator is the query path; storage exists so a
// restart can replay history back into it.
package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/beltline-data/conveyor.report/internal/count"
	"github.com/beltline-data/conveyor.report/internal/geom"
	"github.com/beltline-data/conveyor.report/internal/monitoring"
	"github.com/beltline-data/conveyor.report/internal/session"
	"github.com/beltline-data/conveyor.report/internal/stats"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the sqlite database.
type Store struct {
	*sql.DB
}

// Open opens (or creates) the database at path and applies pending
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// Single writer; avoids SQLITE_BUSY under the job pool.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}

	s := &Store{db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// migrateUp applies all pending migrations from the embedded set.
func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(s.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	// Not closed: closing would close the underlying DB connection.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// InsertCountEvent appends one count event. Event ids are unique, so a
// replayed insert of the same event is a conflict, not a duplicate row.
func (s *Store) InsertCountEvent(ev count.CountEvent) error {
	_, err := s.Exec(`
		INSERT INTO count_events
			(id, camera_id, conveyor_id, track_id, line_id, direction, class, ts_unix_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.CameraID, ev.ConveyorID, ev.TrackID,
		ev.LineID, string(ev.Direction), ev.Class, ev.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("insert count event %s: %w", ev.ID, err)
	}
	return nil
}

// ListCountEvents returns events with timestamps in [start, end), filtered,
// oldest first.
func (s *Store) ListCountEvents(start, end time.Time, f stats.Filter) ([]count.CountEvent, error) {
	query := `
		SELECT id, camera_id, conveyor_id, track_id, line_id, direction, class, ts_unix_ns
		FROM count_events
		WHERE ts_unix_ns >= ? AND ts_unix_ns < ?`
	args := []any{start.UnixNano(), end.UnixNano()}

	if f.CameraID != "" {
		query += " AND camera_id = ?"
		args = append(args, f.CameraID)
	}
	if f.ConveyorID != "" {
		query += " AND conveyor_id = ?"
		args = append(args, f.ConveyorID)
	}
	if f.Direction != "" {
		query += " AND direction = ?"
		args = append(args, string(f.Direction))
	}
	if f.Class != "" {
		query += " AND class = ?"
		args = append(args, f.Class)
	}
	query += " ORDER BY ts_unix_ns, id"

	rows, err := s.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list count events: %w", err)
	}
	defer rows.Close()

	var out []count.CountEvent
	for rows.Next() {
		var ev count.CountEvent
		var dir string
		var ns int64
		if err := rows.Scan(&ev.ID, &ev.CameraID, &ev.ConveyorID, &ev.TrackID,
			&ev.LineID, &dir, &ev.Class, &ns); err != nil {
			return nil, fmt.Errorf("scan count event: %w", err)
		}
		ev.Direction = geom.Direction(dir)
		ev.Timestamp = time.Unix(0, ns).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ReplayInto streams every stored event into the aggregator. Called once at
// startup so in-memory stats survive restarts.
func (s *Store) ReplayInto(agg *stats.Aggregator) (int, error) {
	rows, err := s.Query(`
		SELECT id, camera_id, conveyor_id, track_id, line_id, direction, class, ts_unix_ns
		FROM count_events ORDER BY ts_unix_ns`)
	if err != nil {
		return 0, fmt.Errorf("replay count events: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var ev count.CountEvent
		var dir string
		var ns int64
		if err := rows.Scan(&ev.ID, &ev.CameraID, &ev.ConveyorID, &ev.TrackID,
			&ev.LineID, &dir, &ev.Class, &ns); err != nil {
			return n, fmt.Errorf("scan count event: %w", err)
		}
		ev.Direction = geom.Direction(dir)
		ev.Timestamp = time.Unix(0, ns).UTC()
		agg.Record(ev)
		n++
	}
	if err := rows.Err(); err != nil {
		return n, err
	}
	monitoring.Logf("replayed %d count events into aggregator", n)
	return n, nil
}

// SaveContext persists a context's configuration so it can be recreated at
// startup.
func (s *Store) SaveContext(id session.ContextID, cfg session.ContextConfig) error {
	blob, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal context config: %w", err)
	}
	_, err = s.Exec(`
		INSERT INTO contexts (camera_id, conveyor_id, config, created_ns)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (camera_id, conveyor_id) DO UPDATE SET config = excluded.config`,
		id.CameraID, id.ConveyorID, string(blob), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("save context %s: %w", id, err)
	}
	return nil
}

// DeleteContext removes a persisted context.
func (s *Store) DeleteContext(id session.ContextID) error {
	_, err := s.Exec(`DELETE FROM contexts WHERE camera_id = ? AND conveyor_id = ?`,
		id.CameraID, id.ConveyorID)
	if err != nil {
		return fmt.Errorf("delete context %s: %w", id, err)
	}
	return nil
}

// StoredContext pairs a context id with its persisted configuration.
type StoredContext struct {
	ID     session.ContextID
	Config session.ContextConfig
}

// ListContexts returns all persisted contexts ordered by id.
func (s *Store) ListContexts() ([]StoredContext, error) {
	rows, err := s.Query(`
		SELECT camera_id, conveyor_id, config FROM contexts
		ORDER BY camera_id, conveyor_id`)
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}
	defer rows.Close()

	var out []StoredContext
	for rows.Next() {
		var sc StoredContext
		var blob string
		if err := rows.Scan(&sc.ID.CameraID, &sc.ID.ConveyorID, &blob); err != nil {
			return nil, fmt.Errorf("scan context: %w", err)
		}
		if err := json.Unmarshal([]byte(blob), &sc.Config); err != nil {
			return nil, fmt.Errorf("decode context %s config: %w", sc.ID, err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// SaveJob upserts a job snapshot. Called on submission and again when the
// job reaches a terminal state.
func (s *Store) SaveJob(j session.Job) error {
	_, err := s.Exec(`
		INSERT INTO jobs
			(id, camera_id, conveyor_id, state, frames_total, frames_processed,
			 frames_failed, events, error, enqueued_ns, started_ns, finished_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			state = excluded.state,
			frames_processed = excluded.frames_processed,
			frames_failed = excluded.frames_failed,
			events = excluded.events,
			error = excluded.error,
			started_ns = excluded.started_ns,
			finished_ns = excluded.finished_ns`,
		j.ID, j.Context.CameraID, j.Context.ConveyorID, string(j.State),
		j.FramesTotal, j.FramesProcessed, j.FramesFailed, j.Events, j.Error,
		j.EnqueuedAt.UnixNano(), nsOrZero(j.StartedAt), nsOrZero(j.FinishedAt))
	if err != nil {
		return fmt.Errorf("save job %s: %w", j.ID, err)
	}
	return nil
}

// ListJobs returns persisted job snapshots, newest first.
func (s *Store) ListJobs() ([]session.Job, error) {
	rows, err := s.Query(`
		SELECT id, camera_id, conveyor_id, state, frames_total, frames_processed,
		       frames_failed, events, error, enqueued_ns, started_ns, finished_ns
		FROM jobs ORDER BY enqueued_ns DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []session.Job
	for rows.Next() {
		var j session.Job
		var state string
		var enqueued, started, finished int64
		if err := rows.Scan(&j.ID, &j.Context.CameraID, &j.Context.ConveyorID,
			&state, &j.FramesTotal, &j.FramesProcessed, &j.FramesFailed,
			&j.Events, &j.Error, &enqueued, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.State = session.JobState(state)
		j.EnqueuedAt = time.Unix(0, enqueued).UTC()
		if started != 0 {
			j.StartedAt = time.Unix(0, started).UTC()
		}
		if finished != 0 {
			j.FinishedAt = time.Unix(0, finished).UTC()
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func nsOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
