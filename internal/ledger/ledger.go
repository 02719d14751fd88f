package ledger

import (
	"context"
	"time"
)

// Outcome classifies a check-in attempt.
type Outcome string

const (
	OutcomePresent  Outcome = "present"
	OutcomeRejected Outcome = "rejected"
)

// Reason explains a rejected attempt. Empty for accepted ones.
type Reason string

const (
	ReasonSessionNotFound  Reason = "session_not_found"
	ReasonSessionNotActive Reason = "session_not_active"
	ReasonAlreadyCheckedIn Reason = "already_checked_in"
	ReasonOutOfRange       Reason = "out_of_range"
)

// Record is one immutable check-in outcome. Every attempt, accepted or
// rejected, produces exactly one record; records are never updated or deleted.
type Record struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	StudentID      string    `json:"student_id"`
	Timestamp      time.Time `json:"timestamp"`
	Outcome        Outcome   `json:"outcome"`
	Reason         Reason    `json:"reason,omitempty"`
	DistanceMeters float64   `json:"distance_meters"`
}

// Ledger is the append-only audit trail of attempt outcomes. Append is the
// sole write path, called only by the check-in engine. Reads return
// consistent snapshots and never block appends for the duration of a
// computation.
type Ledger interface {
	Append(ctx context.Context, rec Record) error
	RecordsForStudent(ctx context.Context, studentID string) ([]Record, error)
	RecordsForSession(ctx context.Context, sessionID string) ([]Record, error)
	HasPresent(ctx context.Context, sessionID, studentID string) (bool, error)
	Snapshot(ctx context.Context) ([]Record, error)
}
