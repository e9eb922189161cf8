package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pavelanni/cogbattery/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across queries.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reports (
		session_id TEXT PRIMARY KEY,
		participant TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME NOT NULL,
		max_span INTEGER NOT NULL DEFAULT 0,
		math_percent INTEGER NOT NULL DEFAULT 0,
		argumentative_total INTEGER,
		creative_total INTEGER,
		body TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS reports_completed_at ON reports (completed_at);

	CREATE TABLE IF NOT EXISTS archive_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// nullableTotal stores ungraded writing as NULL.
func nullableTotal(wr model.WritingReport) sql.NullInt64 {
	if wr.Outcome == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(wr.Total), Valid: true}
}

// SaveReport stores a finished report, replacing any earlier copy of the
// same session.
func (s *Store) SaveReport(r model.Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO reports (session_id, participant, started_at, completed_at, max_span, math_percent,
		                      argumentative_total, creative_total, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   participant = excluded.participant,
		   started_at = excluded.started_at,
		   completed_at = excluded.completed_at,
		   max_span = excluded.max_span,
		   math_percent = excluded.math_percent,
		   argumentative_total = excluded.argumentative_total,
		   creative_total = excluded.creative_total,
		   body = excluded.body`,
		r.SessionID, r.Demographics.Name, r.StartedAt.UTC(), r.CompletedAt.UTC(),
		r.DigitSpan.MaxSpan, r.OperationSpan.MathPercent,
		nullableTotal(r.Argumentative), nullableTotal(r.Creative), string(body),
	)
	if err != nil {
		return fmt.Errorf("save report %s: %w", r.SessionID, err)
	}
	return nil
}

// GetReport returns an archived report, or nil if the session is unknown.
func (s *Store) GetReport(sessionID string) (*model.Report, error) {
	var body string
	err := s.db.QueryRow(`SELECT body FROM reports WHERE session_id = ?`, sessionID).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r model.Report
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", sessionID, err)
	}
	return &r, nil
}

// ListReports returns archive entries, most recently completed first.
func (s *Store) ListReports() ([]model.ArchivedReport, error) {
	rows, err := s.db.Query(`SELECT session_id, participant, completed_at FROM reports ORDER BY completed_at DESC, session_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ArchivedReport
	for rows.Next() {
		var a model.ArchivedReport
		if err := rows.Scan(&a.SessionID, &a.Participant, &a.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ReportCount returns the number of archived reports.
func (s *Store) ReportCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM reports`).Scan(&n)
	return n, err
}
