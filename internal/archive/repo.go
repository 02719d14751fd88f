package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"checkin/internal/ledger"
)

// Repository persists check-in records in Postgres for durable audit and
// export. It is written to by the worker only; the in-memory ledger remains
// the engine's source of truth.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// InsertRecord writes a record. Redelivered queue messages are absorbed by the
// primary-key conflict clause, so inserts are idempotent per record ID.
func (r *Repository) InsertRecord(ctx context.Context, rec ledger.Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO checkin_records (id, session_id, student_id, occurred_at, outcome, reason, distance_meters)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, rec.SessionID, rec.StudentID, rec.Timestamp, string(rec.Outcome), string(rec.Reason), rec.DistanceMeters)
	return err
}

// ListRecords returns archived records with basic filters, newest first.
func (r *Repository) ListRecords(ctx context.Context, sessionID, studentID string, limit, offset int) ([]ledger.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT id, session_id, student_id, occurred_at, outcome, reason, distance_meters FROM checkin_records`
	args := []any{}
	clauses := []string{}
	if sessionID != "" {
		clauses = append(clauses, "session_id = $"+itoa(len(args)+1))
		args = append(args, sessionID)
	}
	if studentID != "" {
		clauses = append(clauses, "student_id = $"+itoa(len(args)+1))
		args = append(args, studentID)
	}
	if len(clauses) > 0 {
		query += " WHERE " + joinClauses(clauses, " AND ")
	}
	query += " ORDER BY occurred_at DESC LIMIT $" + itoa(len(args)+1) + " OFFSET $" + itoa(len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ledger.Record
	for rows.Next() {
		var rec ledger.Record
		var outcome, reason string
		var when time.Time
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &when, &outcome, &reason, &rec.DistanceMeters); err != nil {
			return nil, err
		}
		rec.Timestamp = when.UTC()
		rec.Outcome = ledger.Outcome(outcome)
		rec.Reason = ledger.Reason(reason)
		res = append(res, rec)
	}
	return res, rows.Err()
}

// CountPresent returns the number of accepted check-ins for a session.
func (r *Repository) CountPresent(ctx context.Context, sessionID string) (int, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM checkin_records
		WHERE session_id = $1 AND outcome = $2
	`, sessionID, string(ledger.OutcomePresent))
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func itoa(i int) string { return fmt.Sprintf("%d", i) }

func joinClauses(parts []string, sep string) string {
	if len(parts) == 0 {
		return ""
	}
	out := parts[0]
	for i := 1; i < len(parts); i++ {
		out += sep + parts[i]
	}
	return out
}
