package ranking

import (
	"context"
	"math"
	"sort"
	"time"

	"checkin/internal/ledger"
	"checkin/internal/session"
)

// Row is one leaderboard entry, derived on read and never stored.
type Row struct {
	StudentID       string  `json:"student_id"`
	SessionsPresent int     `json:"sessions_present"`
	SessionsTotal   int     `json:"sessions_total"`
	Percentage      float64 `json:"percentage"`
	Rank            int     `json:"rank"`
}

// Engine derives leaderboard and certificate eligibility from the ledger.
// It owns no state: every computation runs over a ledger snapshot plus the
// caller-supplied session roster, so concurrent appends never skew a result
// mid-computation.
type Engine struct {
	ledger ledger.Ledger
}

// NewEngine creates a ranking engine over the given ledger.
func NewEngine(l ledger.Ledger) *Engine {
	return &Engine{ledger: l}
}

// countable returns the IDs of sessions that count toward the attendance
// denominator: those Active or Closed at the given instant. Draft sessions
// have not happened yet.
func countable(sessions []session.Session, now time.Time) map[string]struct{} {
	ids := make(map[string]struct{}, len(sessions))
	for _, s := range sessions {
		if session.CurrentState(s, now) != session.StateDraft {
			ids[s.ID] = struct{}{}
		}
	}
	return ids
}

// round1 rounds to one decimal place for display; comparisons always use the
// unrounded ratio.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Leaderboard returns one row per student with at least one record against the
// supplied sessions, ordered by percentage descending, then sessions present
// descending, then student ID ascending. Rows equal on both percentage and
// presence share a rank.
func (e *Engine) Leaderboard(ctx context.Context, sessions []session.Session, now time.Time) ([]Row, error) {
	snap, err := e.ledger.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	ids := countable(sessions, now)
	total := len(ids)

	presentBy := make(map[string]int)
	seen := make(map[string]struct{})
	for _, rec := range snap {
		if _, ok := ids[rec.SessionID]; !ok {
			continue
		}
		seen[rec.StudentID] = struct{}{}
		if rec.Outcome == ledger.OutcomePresent {
			presentBy[rec.StudentID]++
		}
	}

	rows := make([]Row, 0, len(seen))
	for studentID := range seen {
		present := presentBy[studentID]
		pct := 0.0
		if total > 0 {
			pct = 100 * float64(present) / float64(total)
		}
		rows = append(rows, Row{
			StudentID:       studentID,
			SessionsPresent: present,
			SessionsTotal:   total,
			Percentage:      round1(pct),
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Percentage != rows[j].Percentage {
			return rows[i].Percentage > rows[j].Percentage
		}
		if rows[i].SessionsPresent != rows[j].SessionsPresent {
			return rows[i].SessionsPresent > rows[j].SessionsPresent
		}
		return rows[i].StudentID < rows[j].StudentID
	})

	rank := 0
	for i := range rows {
		if i == 0 || rows[i].Percentage != rows[i-1].Percentage || rows[i].SessionsPresent != rows[i-1].SessionsPresent {
			rank = i + 1
		}
		rows[i].Rank = rank
	}
	return rows, nil
}

// CertificateEligibility reports whether the student's attendance over the
// supplied sessions meets the threshold percentage. The comparison is
// inclusive: exactly meeting the threshold qualifies. The returned percentage
// is rounded to one decimal.
func (e *Engine) CertificateEligibility(ctx context.Context, studentID string, sessions []session.Session, thresholdPercentage float64, now time.Time) (bool, float64, error) {
	snap, err := e.ledger.Snapshot(ctx)
	if err != nil {
		return false, 0, err
	}
	ids := countable(sessions, now)
	total := len(ids)
	if total == 0 {
		return false, 0, nil
	}

	present := 0
	for _, rec := range snap {
		if rec.StudentID != studentID || rec.Outcome != ledger.OutcomePresent {
			continue
		}
		if _, ok := ids[rec.SessionID]; ok {
			present++
		}
	}

	pct := 100 * float64(present) / float64(total)
	return pct >= thresholdPercentage, round1(pct), nil
}
