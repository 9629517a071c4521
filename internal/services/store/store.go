package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"vehicle-counter-go/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run is one recorded pipeline run
type Run struct {
	ID         string            `json:"run_id"`
	Source     models.SourceSpec `json:"source"`
	StartedAt  time.Time         `json:"started_at"`
	StoppedAt  *time.Time        `json:"stopped_at,omitempty"`
	LastError  string            `json:"last_error,omitempty"`
	EventCount int               `json:"event_count"`
}

// Store persists counting events in SQLite
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (creating if needed) the database at path and applies pending migrations
func Open(path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}
	// One writer; also keeps ":memory:" databases on a single connection
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info().Str("path", path).Msg("Event store ready")
	return s, nil
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{logger: s.logger}
	// m is not closed: that would close the shared *sql.DB

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	s.logger.Debug().Uint("version", version).Bool("dirty", dirty).Msg("Event store schema migrated")
	return nil
}

// migrateLogger routes migrate output through zerolog
type migrateLogger struct {
	logger zerolog.Logger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug().Msgf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) RecordRun(ctx context.Context, runID string, source models.SourceSpec) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO runs (run_id, source_uri, source_kind) VALUES (?, ?, ?)",
		runID, source.URI, string(source.Kind))
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", runID, err)
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, runID, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE runs SET stopped_at = CURRENT_TIMESTAMP, last_error = NULLIF(?, '') WHERE run_id = ?",
		lastError, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	return nil
}

// Record inserts events in one transaction
func (s *Store) Record(ctx context.Context, events []models.CountingEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO counting_events (run_id, frame, event_time, track_id, class, direction) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx, ev.RunID, ev.Frame, ev.Timestamp.Format(time.RFC3339Nano),
			ev.TrackID, ev.Class, string(ev.Direction)); err != nil {
			return fmt.Errorf("failed to insert event for track %d: %w", ev.TrackID, err)
		}
	}
	return tx.Commit()
}

// Events returns a run's events oldest first, at most limit when limit > 0
func (s *Store) Events(ctx context.Context, runID string, limit int) ([]models.CountingEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, frame, event_time, track_id, class, direction
		   FROM counting_events WHERE run_id = ? ORDER BY event_id LIMIT ?`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []models.CountingEvent{}
	for rows.Next() {
		var (
			ev        models.CountingEvent
			eventTime string
			direction string
		)
		if err := rows.Scan(&ev.RunID, &ev.Frame, &eventTime, &ev.TrackID, &ev.Class, &direction); err != nil {
			return nil, err
		}
		ev.Timestamp, err = time.Parse(time.RFC3339Nano, eventTime)
		if err != nil {
			return nil, fmt.Errorf("bad event_time %q: %w", eventTime, err)
		}
		ev.Direction = models.Direction(direction)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// Totals aggregates a run's events per class and direction. Unknown-class
// events are stored but left out of the totals.
func (s *Store) Totals(ctx context.Context, runID string) (models.VehicleCounts, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT class, direction, COUNT(*) FROM counting_events
		  WHERE run_id = ? GROUP BY class, direction`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query totals: %w", err)
	}
	defer rows.Close()

	totals := models.VehicleCounts{}
	for rows.Next() {
		var (
			class, direction string
			n                int
		)
		if err := rows.Scan(&class, &direction, &n); err != nil {
			return nil, err
		}
		if class == models.ClassUnknown {
			continue
		}
		c := totals[class]
		switch models.Direction(direction) {
		case models.DirectionIn:
			c.In += n
		case models.DirectionOut:
			c.Out += n
		}
		totals[class] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return totals, nil
}

// Runs lists recorded runs, newest first
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.run_id, r.source_uri, r.source_kind, r.started_at, r.stopped_at,
		        COALESCE(r.last_error, ''),
		        (SELECT COUNT(*) FROM counting_events e WHERE e.run_id = r.run_id)
		   FROM runs r ORDER BY r.started_at DESC, r.rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var (
			r         Run
			kind      string
			stoppedAt sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.Source.URI, &kind, &r.StartedAt, &stoppedAt, &r.LastError, &r.EventCount); err != nil {
			return nil, err
		}
		r.Source.Kind = models.SourceKind(kind)
		if stoppedAt.Valid {
			t := stoppedAt.Time
			r.StoppedAt = &t
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}
