package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"checkin/internal/geo"
)

var (
	// ErrInvalidWindow is returned when opensAt is not strictly before closesAt.
	ErrInvalidWindow = errors.New("session window invalid: opens_at must be before closes_at")
	// ErrInvalidRadius is returned when the geofence radius is not positive.
	ErrInvalidRadius = errors.New("session radius must be positive")
	// ErrNotFound is returned for unknown session tokens.
	ErrNotFound = errors.New("session not found")
)

// State is the lifecycle state of a session, derived from the clock.
type State string

const (
	StateDraft  State = "draft"
	StateActive State = "active"
	StateClosed State = "closed"
)

// Session is one time- and place-scoped attendance window. The ID doubles as
// the opaque token rendered to students as a scannable code.
type Session struct {
	ID           string         `json:"id"`
	Center       geo.Coordinate `json:"center"`
	RadiusMeters float64        `json:"radius_meters"`
	OpensAt      time.Time      `json:"opens_at"`
	ClosesAt     time.Time      `json:"closes_at"`
	ClosedEarly  bool           `json:"closed_early"`
}

// CurrentState derives the session state at the given instant. State is never
// stored; only an explicit early close is persisted, which pins the session
// Closed regardless of the window.
func CurrentState(s Session, now time.Time) State {
	switch {
	case s.ClosedEarly:
		return StateClosed
	case now.Before(s.OpensAt):
		return StateDraft
	case now.Before(s.ClosesAt):
		return StateActive
	default:
		return StateClosed
	}
}

// Store owns session lifecycle. All mutation goes through Create and Close;
// reads return copies so callers never observe a partially updated session.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Create registers a new session with a fresh token.
func (st *Store) Create(center geo.Coordinate, radiusMeters float64, opensAt, closesAt time.Time) (Session, error) {
	if !opensAt.Before(closesAt) {
		return Session{}, ErrInvalidWindow
	}
	if radiusMeters <= 0 {
		return Session{}, ErrInvalidRadius
	}
	s := Session{
		ID:           uuid.NewString(),
		Center:       center,
		RadiusMeters: radiusMeters,
		OpensAt:      opensAt.UTC(),
		ClosesAt:     closesAt.UTC(),
	}
	st.mu.Lock()
	st.sessions[s.ID] = &s
	st.mu.Unlock()
	return s, nil
}

// Get returns the session for the given token.
func (st *Store) Get(id string) (Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return *s, nil
}

// Close pins the session Closed, even before its window ends. Closing an
// already-closed session is a no-op.
func (st *Store) Close(id string, now time.Time) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if CurrentState(*s, now) == StateClosed {
		return nil
	}
	s.ClosedEarly = true
	return nil
}

// List returns all sessions ordered by opening time, then ID.
func (st *Store) List() []Session {
	st.mu.RLock()
	out := make([]Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, *s)
	}
	st.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpensAt.Equal(out[j].OpensAt) {
			return out[i].OpensAt.Before(out[j].OpensAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
