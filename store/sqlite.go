package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/arloliu/go-astm/logger"
	"github.com/arloliu/go-astm/record"
	"github.com/arloliu/go-astm/session"
)

//go:embed migrations/*.sql
var migrations embed.FS

const timeLayout = time.RFC3339Nano

// SQLite is a session sink backed by a SQLite database.
type SQLite struct {
	db     *sql.DB
	logger logger.Logger
}

// OpenSQLite opens or creates the database at path and migrates it to the
// latest schema.
func OpenSQLite(path string, l logger.Logger) (*SQLite, error) {
	if l == nil {
		l = logger.GetLogger()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	// A single writer avoids SQLITE_BUSY between links saving concurrently.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	s := &SQLite{db: db, logger: l}
	if err := s.migrateUp(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// DB returns the underlying database handle.
func (s *SQLite) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("store: migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("store: sqlite migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("store: create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{logger: s.logger}

	return m, nil
}

func (s *SQLite) migrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: that would close the shared *sql.DB.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: migration up failed: %w", err)
	}

	return nil
}

// SchemaVersion returns the applied migration version.
func (s *SQLite) SchemaVersion() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}

	return version, dirty, err
}

// Save stores s with its records and results in one transaction. Saving a
// session with a UUID that is already stored replaces it.
func (s *SQLite) Save(ctx context.Context, sess *session.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	id := sess.UUID.String()

	for _, table := range []string{"results", "records"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE session_uuid = ?`, id); err != nil {
			return fmt.Errorf("store: replace session: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE uuid = ?`, id); err != nil {
		return fmt.Errorf("store: replace session: %w", err)
	}

	var instrument string
	if h := sess.Header(); h != nil {
		instrument = h.InstrumentID
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (uuid, id, link, started_at, ended_at, complete, abort_reason, skipped, instrument)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, sess.ID, sess.Link, formatTime(sess.StartedAt), formatTime(sess.EndedAt),
		sess.Complete, nullString(sess.AbortReason), sess.Skipped, nullString(instrument),
	)
	if err != nil {
		return fmt.Errorf("store: insert session: %w", err)
	}

	if err := insertRecords(ctx, tx, id, sess.Records); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}

	s.logger.Debug("store: session stored", "session", sess.ID, "uuid", id, "records", len(sess.Records))

	return nil
}

func insertRecords(ctx context.Context, tx *sql.Tx, id string, recs []record.Record) error {
	recStmt, err := tx.PrepareContext(ctx, `INSERT INTO records (session_uuid, idx, type, raw, data) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare: %w", err)
	}
	defer recStmt.Close()

	resStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO results (session_uuid, idx, sample_id, test_code, value, units, flags, verdict, error_code, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare: %w", err)
	}
	defer resStmt.Close()

	for i, rec := range recs {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("store: encode record %d: %w", i, err)
		}

		if _, err := recStmt.ExecContext(ctx, id, i, string(rune(rec.Type())), rec.RawText(), string(data)); err != nil {
			return fmt.Errorf("store: insert record %d: %w", i, err)
		}

		r, ok := rec.(*record.Result)
		if !ok {
			continue
		}

		var sampleID string
		if r.Order != nil {
			sampleID = r.Order.SampleID
		}

		in := r.Interpret()

		var code any
		if in.Code != 0 {
			code = int(in.Code)
		}

		_, err = resStmt.ExecContext(ctx, id, i, nullString(sampleID), nullString(r.TestCode), r.Value,
			nullString(r.Units), nullString(strings.Join(r.Flags, ",")), in.Verdict.String(), code,
			formatTime(r.CompletedAt))
		if err != nil {
			return fmt.Errorf("store: insert result %d: %w", i, err)
		}
	}

	return nil
}

// StoredSession is a row of the sessions table.
type StoredSession struct {
	UUID        string
	ID          uint64
	Link        string
	StartedAt   time.Time
	EndedAt     time.Time
	Complete    bool
	AbortReason string
	Skipped     int
	Instrument  string
	Records     int
}

// Sessions returns the most recent sessions, newest first. A non-empty link
// restricts the result to that link.
func (s *SQLite) Sessions(ctx context.Context, link string, limit int) ([]StoredSession, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.uuid, s.id, s.link, s.started_at, s.ended_at, s.complete,
		       s.abort_reason, s.skipped, s.instrument,
		       (SELECT COUNT(*) FROM records r WHERE r.session_uuid = s.uuid)
		FROM sessions s
		WHERE ? = '' OR s.link = ?
		ORDER BY s.rowid DESC
		LIMIT ?`, link, link, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query sessions: %w", err)
	}
	defer rows.Close()

	var out []StoredSession
	for rows.Next() {
		var st StoredSession
		var started string
		var ended, reason, instrument sql.NullString

		err := rows.Scan(&st.UUID, &st.ID, &st.Link, &started, &ended, &st.Complete,
			&reason, &st.Skipped, &instrument, &st.Records)
		if err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}

		st.StartedAt = parseTime(started)
		st.EndedAt = parseTime(ended.String)
		st.AbortReason = reason.String
		st.Instrument = instrument.String
		out = append(out, st)
	}

	return out, rows.Err()
}

// LastID returns the highest session ID stored for link, or 0. A receiver
// restarted with WithFirstSessionID(LastID+1) continues the numbering.
func (s *SQLite) LastID(ctx context.Context, link string) (uint64, error) {
	var id sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM sessions WHERE link = ?`, link).Scan(&id); err != nil {
		return 0, fmt.Errorf("store: last id: %w", err)
	}

	return uint64(id.Int64), nil
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}

	return t.Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}

	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}

	return t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}

	return s
}

// migrateLogger implements migrate.Logger on top of logger.Logger.
type migrateLogger struct {
	logger logger.Logger
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug("store: migrate: " + strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *migrateLogger) Verbose() bool {
	return l.logger.Level() <= logger.DebugLevel
}
