package ledger

import (
	"context"
	"sync"
)

// Memory is the in-memory Ledger. Records live in append order; per-student
// and per-session indexes keep the read paths cheap, and a present-pair set
// backs the engine's idempotency check.
type Memory struct {
	mu        sync.RWMutex
	records   []Record
	byStudent map[string][]int
	bySession map[string][]int
	present   map[string]struct{}
}

// NewMemory creates an empty ledger.
func NewMemory() *Memory {
	return &Memory{
		byStudent: make(map[string][]int),
		bySession: make(map[string][]int),
		present:   make(map[string]struct{}),
	}
}

func pairKey(sessionID, studentID string) string {
	return sessionID + "|" + studentID
}

// Append records one attempt outcome.
func (m *Memory) Append(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := len(m.records)
	m.records = append(m.records, rec)
	m.byStudent[rec.StudentID] = append(m.byStudent[rec.StudentID], idx)
	m.bySession[rec.SessionID] = append(m.bySession[rec.SessionID], idx)
	if rec.Outcome == OutcomePresent {
		m.present[pairKey(rec.SessionID, rec.StudentID)] = struct{}{}
	}
	return nil
}

// RecordsForStudent returns the student's records in chronological order.
func (m *Memory) RecordsForStudent(_ context.Context, studentID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(m.byStudent[studentID]), nil
}

// RecordsForSession returns the session's records in chronological order.
func (m *Memory) RecordsForSession(_ context.Context, sessionID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(m.bySession[sessionID]), nil
}

// HasPresent reports whether the pair already has an accepted check-in.
func (m *Memory) HasPresent(_ context.Context, sessionID, studentID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.present[pairKey(sessionID, studentID)]
	return ok, nil
}

// Snapshot returns a copy of all records in append order. Appends occurring
// after the copy is taken are not reflected, so long-running aggregations see
// a consistent view without holding the ledger lock.
func (m *Memory) Snapshot(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out, nil
}

func (m *Memory) collect(idxs []int) []Record {
	out := make([]Record, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, m.records[i])
	}
	return out
}
