// Package sqlite persists the evaluation audit trail in an embedded
// SQLite database, so the trail survives process restarts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/risk"
)

// EvaluationStore implements risk.EvaluationStore on database/sql.
// Evaluations are append-only rows; condition results are stored as a
// JSON column since they are only ever read back whole.
type EvaluationStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*EvaluationStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open evaluation database: %w", err)
	}
	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent appends.
	db.SetMaxOpenConns(1)

	s := &EvaluationStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewEvaluationStore wraps an existing handle and runs migrations.
func NewEvaluationStore(db *sql.DB) (*EvaluationStore, error) {
	s := &EvaluationStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *EvaluationStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS evaluations (
        evaluation_id  TEXT PRIMARY KEY,
        session_id     TEXT NOT NULL,
        fcb_state      TEXT NOT NULL,
        previous_state TEXT NOT NULL DEFAULT '',
        results        JSON,
        evaluated      INTEGER NOT NULL DEFAULT 0,
        triggered      INTEGER NOT NULL DEFAULT 0,
        risk_score     REAL NOT NULL DEFAULT 0,
        escalation_id  TEXT NOT NULL DEFAULT '',
        evaluated_at   DATETIME NOT NULL,
        seq            INTEGER
    );
    CREATE INDEX IF NOT EXISTS idx_evaluations_session
        ON evaluations (session_id, seq);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Append inserts an evaluation row. Rows are never updated or deleted.
func (s *EvaluationStore) Append(ctx context.Context, e *risk.Evaluation) error {
	resultsJSON, err := json.Marshal(e.Results)
	if err != nil {
		return fmt.Errorf("failed to encode condition results: %w", err)
	}

	query := `INSERT INTO evaluations (
        evaluation_id, session_id, fcb_state, previous_state, results,
        evaluated, triggered, risk_score, escalation_id, evaluated_at, seq
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
        (SELECT COALESCE(MAX(seq), 0) + 1 FROM evaluations WHERE session_id = ?))`

	_, err = s.db.ExecContext(ctx, query,
		e.ID, e.SessionID, string(e.State), string(e.PreviousState), string(resultsJSON),
		e.Evaluated, e.Triggered, e.RiskScore, e.EscalationID,
		e.EvaluatedAt.UTC().Format(time.RFC3339Nano), e.SessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert evaluation: %w", err)
	}
	return nil
}

// BySession returns a session's evaluations in insertion order.
func (s *EvaluationStore) BySession(ctx context.Context, sessionID string) ([]*risk.Evaluation, error) {
	query := `
        SELECT evaluation_id, session_id, fcb_state, previous_state, results,
               evaluated, triggered, risk_score, escalation_id, evaluated_at
        FROM evaluations
        WHERE session_id = ?
        ORDER BY seq ASC`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var evaluations []*risk.Evaluation
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		evaluations = append(evaluations, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return evaluations, nil
}

// Close releases the database handle.
func (s *EvaluationStore) Close() error {
	return s.db.Close()
}

func scanEvaluation(rows *sql.Rows) (*risk.Evaluation, error) {
	var (
		id           string
		sessionID    string
		state        string
		prevState    string
		resultsJSON  sql.NullString
		evaluated    int
		triggered    int
		riskScore    float64
		escalationID string
		evaluatedAt  string
	)
	if err := rows.Scan(&id, &sessionID, &state, &prevState, &resultsJSON,
		&evaluated, &triggered, &riskScore, &escalationID, &evaluatedAt); err != nil {
		return nil, err
	}

	var results []risk.ConditionResult
	if resultsJSON.Valid && resultsJSON.String != "" {
		if err := json.Unmarshal([]byte(resultsJSON.String), &results); err != nil {
			return nil, fmt.Errorf("failed to decode condition results: %w", err)
		}
	}

	return &risk.Evaluation{
		ID:            id,
		SessionID:     sessionID,
		State:         risk.State(state),
		PreviousState: risk.State(prevState),
		Results:       results,
		Evaluated:     evaluated,
		Triggered:     triggered,
		RiskScore:     riskScore,
		EscalationID:  escalationID,
		EvaluatedAt:   parseTime(evaluatedAt),
	}, nil
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}

// Compile-time interface verification.
var _ risk.EvaluationStore = (*EvaluationStore)(nil)
