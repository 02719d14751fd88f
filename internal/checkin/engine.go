package checkin

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"checkin/internal/geo"
	"checkin/internal/ledger"
	"checkin/internal/session"
)

// Engine validates one check-in attempt against session state and the
// geofence, and appends exactly one record per attempt. It holds no attempt
// state of its own; sessions and outcomes live in the store and the ledger.
type Engine struct {
	sessions *session.Store
	ledger   ledger.Ledger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates an engine over the given store and ledger.
func NewEngine(sessions *session.Store, l ledger.Ledger) *Engine {
	return &Engine{
		sessions: sessions,
		ledger:   l,
		locks:    make(map[string]*sync.Mutex),
	}
}

// pairLock returns the mutex serializing attempts for one (session, student)
// pair. Attempts for different pairs proceed in parallel; only the
// check-then-append for the same pair is a critical section, otherwise two
// near-simultaneous scans from one student could both pass the
// already-checked-in test.
func (e *Engine) pairLock(sessionID, studentID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := sessionID + "|" + studentID
	l, ok := e.locks[key]
	if !ok {
		l = &sync.Mutex{}
		e.locks[key] = l
	}
	return l
}

// Attempt validates and records a single check-in. Rejections are ordinary
// outcomes, not errors: every call appends one record and returns it. The
// error is non-nil only when the ledger itself fails to append.
func (e *Engine) Attempt(ctx context.Context, sessionID, studentID string, at geo.Coordinate, now time.Time) (ledger.Record, error) {
	l := e.pairLock(sessionID, studentID)
	l.Lock()
	defer l.Unlock()

	rec := ledger.Record{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		StudentID: studentID,
		Timestamp: now.UTC(),
	}

	s, err := e.sessions.Get(sessionID)
	if err != nil {
		return e.reject(ctx, rec, ledger.ReasonSessionNotFound)
	}

	if session.CurrentState(s, now) != session.StateActive {
		return e.reject(ctx, rec, ledger.ReasonSessionNotActive)
	}

	done, err := e.ledger.HasPresent(ctx, sessionID, studentID)
	if err != nil {
		return ledger.Record{}, err
	}
	if done {
		return e.reject(ctx, rec, ledger.ReasonAlreadyCheckedIn)
	}

	rec.DistanceMeters = geo.Distance(s.Center, at)
	if rec.DistanceMeters > s.RadiusMeters {
		return e.reject(ctx, rec, ledger.ReasonOutOfRange)
	}

	rec.Outcome = ledger.OutcomePresent
	if err := e.ledger.Append(ctx, rec); err != nil {
		return ledger.Record{}, err
	}
	attemptsTotal.WithLabelValues(string(ledger.OutcomePresent)).Inc()
	return rec, nil
}

func (e *Engine) reject(ctx context.Context, rec ledger.Record, reason ledger.Reason) (ledger.Record, error) {
	rec.Outcome = ledger.OutcomeRejected
	rec.Reason = reason
	if err := e.ledger.Append(ctx, rec); err != nil {
		return ledger.Record{}, err
	}
	attemptsTotal.WithLabelValues(string(reason)).Inc()
	return rec, nil
}
