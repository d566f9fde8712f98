// Package session tracks orchestrator sessions in SQLite: per-session
// compliance counters and token cost accounting across the runs a session
// drives.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	maestroerrors "github.com/tombee/maestro/pkg/errors"
)

// Session statuses.
const (
	StatusActive = "active"
	StatusEnded  = "ended"
)

// Session is one orchestrator session row.
type Session struct {
	ID        string     `json:"id"`
	RunID     string     `json:"run_id,omitempty"`
	Agent     string     `json:"agent,omitempty"`
	Status    string     `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	ComplianceChecks     int `json:"compliance_checks"`
	ComplianceViolations int `json:"compliance_violations"`
}

// ComplianceRate is checks passed over checks recorded, 1.0 when none.
func (s *Session) ComplianceRate() float64 {
	if s.ComplianceChecks == 0 {
		return 1.0
	}
	passed := s.ComplianceChecks - s.ComplianceViolations
	return float64(passed) / float64(s.ComplianceChecks)
}

// Usage is one cost-accounting sample attributed to a session.
type Usage struct {
	Model        string  `json:"model"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// CostSummary aggregates usage for a session or a run.
type CostSummary struct {
	Sessions     int     `json:"sessions"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Store is the SQLite session store.
//
// WAL mode keeps concurrent readers cheap; all mutations go through the
// single *sql.DB pool.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (creating if needed) the session database at path and runs
// migrations.
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, &maestroerrors.ValidationError{Field: "path", Message: "database path is required"}
	}

	connStr := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_foreign_keys=ON"
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect session database: %w", err)
	}

	store := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate session database: %w", err)
	}
	return store, nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			run_id TEXT,
			agent TEXT,
			status TEXT NOT NULL,
			compliance_checks INTEGER NOT NULL DEFAULT 0,
			compliance_violations INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL,
			ended_at TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS usage (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			model TEXT,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			recorded_at TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_sessions_run
			ON sessions(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_session
			ON usage(session_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Start opens a new session bound to a run and lead agent. Either may be
// empty for ad-hoc sessions.
func (s *Store) Start(ctx context.Context, runID, agent string) (*Session, error) {
	session := &Session{
		ID:        uuid.New().String(),
		RunID:     runID,
		Agent:     agent,
		Status:    StatusActive,
		StartedAt: s.now().UTC(),
	}

	query := `INSERT INTO sessions (id, run_id, agent, status, started_at)
	          VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query,
		session.ID, session.RunID, session.Agent, session.Status,
		session.StartedAt.Format(time.RFC3339Nano),
	); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	return session, nil
}

// Get loads a session by id.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	query := `SELECT id, run_id, agent, status, compliance_checks, compliance_violations,
	                 started_at, ended_at
	          FROM sessions WHERE id = ?`

	var session Session
	var startedAt string
	var endedAt sql.NullString

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.RunID,
		&session.Agent,
		&session.Status,
		&session.ComplianceChecks,
		&session.ComplianceViolations,
		&startedAt,
		&endedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &maestroerrors.NotFoundError{Resource: "session", ID: id}
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	session.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if endedAt.Valid && endedAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err == nil {
			session.EndedAt = &t
		}
	}
	return &session, nil
}

// End closes an active session.
func (s *Store) End(ctx context.Context, id string) (*Session, error) {
	query := `UPDATE sessions SET status = ?, ended_at = ?
	          WHERE id = ? AND status = ?`

	result, err := s.db.ExecContext(ctx, query,
		StatusEnded, s.now().UTC().Format(time.RFC3339Nano), id, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}
	if rows == 0 {
		// Either absent or already ended; Get distinguishes.
		session, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return session, nil
	}
	return s.Get(ctx, id)
}

// RecordCompliance bumps the session's compliance counters. A failed check
// increments both the check and the violation count.
func (s *Store) RecordCompliance(ctx context.Context, id string, passed bool) error {
	violation := 0
	if !passed {
		violation = 1
	}

	query := `UPDATE sessions
	          SET compliance_checks = compliance_checks + 1,
	              compliance_violations = compliance_violations + ?
	          WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, violation, id)
	if err != nil {
		return fmt.Errorf("record compliance: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record compliance: %w", err)
	}
	if rows == 0 {
		return &maestroerrors.NotFoundError{Resource: "session", ID: id}
	}
	return nil
}

// RecordUsage attributes a token usage sample to a session.
func (s *Store) RecordUsage(ctx context.Context, id string, usage Usage) error {
	if usage.InputTokens < 0 || usage.OutputTokens < 0 || usage.CostUSD < 0 {
		return &maestroerrors.ValidationError{
			Field:   "usage",
			Message: "usage counters must be non-negative",
		}
	}

	// Verify the session exists first; usage rows are meaningless without one.
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	query := `INSERT INTO usage (id, session_id, model, input_tokens, output_tokens, cost_usd, recorded_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query,
		uuid.New().String(), id, usage.Model,
		usage.InputTokens, usage.OutputTokens, usage.CostUSD,
		s.now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		if isForeignKeyError(err) {
			return &maestroerrors.NotFoundError{Resource: "session", ID: id}
		}
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// SessionCost aggregates usage for a single session.
func (s *Store) SessionCost(ctx context.Context, id string) (*CostSummary, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	query := `SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_usd), 0)
	          FROM usage WHERE session_id = ?`

	summary := &CostSummary{Sessions: 1}
	if err := s.db.QueryRowContext(ctx, query, id).Scan(
		&summary.InputTokens, &summary.OutputTokens, &summary.CostUSD,
	); err != nil {
		return nil, fmt.Errorf("summarise session cost: %w", err)
	}
	return summary, nil
}

// RunCost aggregates usage across every session attached to a run.
func (s *Store) RunCost(ctx context.Context, runID string) (*CostSummary, error) {
	query := `SELECT COUNT(DISTINCT s.id),
	                 COALESCE(SUM(u.input_tokens), 0),
	                 COALESCE(SUM(u.output_tokens), 0),
	                 COALESCE(SUM(u.cost_usd), 0)
	          FROM sessions s
	          LEFT JOIN usage u ON u.session_id = s.id
	          WHERE s.run_id = ?`

	summary := &CostSummary{}
	if err := s.db.QueryRowContext(ctx, query, runID).Scan(
		&summary.Sessions, &summary.InputTokens, &summary.OutputTokens, &summary.CostUSD,
	); err != nil {
		return nil, fmt.Errorf("summarise run cost: %w", err)
	}
	return summary, nil
}

// ListByRun returns a run's sessions, newest first.
func (s *Store) ListByRun(ctx context.Context, runID string) ([]*Session, error) {
	query := `SELECT id, run_id, agent, status, compliance_checks, compliance_violations,
	                 started_at, ended_at
	          FROM sessions
	          WHERE run_id = ?
	          ORDER BY started_at DESC`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var session Session
		var startedAt string
		var endedAt sql.NullString

		if err := rows.Scan(
			&session.ID,
			&session.RunID,
			&session.Agent,
			&session.Status,
			&session.ComplianceChecks,
			&session.ComplianceViolations,
			&startedAt,
			&endedAt,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}

		session.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		if endedAt.Valid && endedAt.String != "" {
			if t, err := time.Parse(time.RFC3339Nano, endedAt.String); err == nil {
				session.EndedAt = &t
			}
		}
		sessions = append(sessions, &session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
