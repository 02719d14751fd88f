package ranking

import (
	"context"
	"fmt"
	"testing"
	"time"

	"checkin/internal/ledger"
	"checkin/internal/session"
)

// closedSessions builds n sessions whose windows have already ended.
func closedSessions(n int, now time.Time) []session.Session {
	out := make([]session.Session, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, session.Session{
			ID:       fmt.Sprintf("s%02d", i),
			OpensAt:  now.Add(-time.Duration(n-i+2) * time.Hour),
			ClosesAt: now.Add(-time.Duration(n-i+1) * time.Hour),
		})
	}
	return out
}

func markPresent(t *testing.T, led *ledger.Memory, student string, sessions []session.Session, count int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < count; i++ {
		err := led.Append(ctx, ledger.Record{
			ID:        fmt.Sprintf("%s-%s", student, sessions[i].ID),
			SessionID: sessions[i].ID,
			StudentID: student,
			Timestamp: sessions[i].OpensAt,
			Outcome:   ledger.OutcomePresent,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestCertificateEligibility(t *testing.T) {
	now := time.Now()
	sessions := closedSessions(12, now)

	cases := []struct {
		name         string
		present      int
		threshold    float64
		wantEligible bool
		wantPct      float64
	}{
		{"ten of twelve at 75", 10, 75, true, 83.3},
		{"exactly on threshold", 9, 75, true, 75.0},
		{"just under threshold", 8, 75, false, 66.7},
		{"zero attendance", 0, 75, false, 0},
		{"full attendance at 100", 12, 100, true, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			led := ledger.NewMemory()
			markPresent(t, led, "alice", sessions, tc.present)
			engine := NewEngine(led)

			eligible, pct, err := engine.CertificateEligibility(context.Background(), "alice", sessions, tc.threshold, now)
			if err != nil {
				t.Fatal(err)
			}
			if eligible != tc.wantEligible {
				t.Errorf("eligible = %v, want %v", eligible, tc.wantEligible)
			}
			if pct != tc.wantPct {
				t.Errorf("percentage = %v, want %v", pct, tc.wantPct)
			}
		})
	}
}

func TestDraftSessionsExcludedFromDenominator(t *testing.T) {
	now := time.Now()
	sessions := closedSessions(4, now)
	// Two sessions that have not opened yet must not dilute the percentage.
	sessions = append(sessions,
		session.Session{ID: "future1", OpensAt: now.Add(time.Hour), ClosesAt: now.Add(2 * time.Hour)},
		session.Session{ID: "future2", OpensAt: now.Add(3 * time.Hour), ClosesAt: now.Add(4 * time.Hour)},
	)

	led := ledger.NewMemory()
	markPresent(t, led, "alice", sessions, 3)
	engine := NewEngine(led)

	eligible, pct, err := engine.CertificateEligibility(context.Background(), "alice", sessions, 75, now)
	if err != nil {
		t.Fatal(err)
	}
	if !eligible || pct != 75.0 {
		t.Errorf("got (%v, %v), want (true, 75.0) over 4 concluded sessions", eligible, pct)
	}
}

func TestCertificateNoCountableSessions(t *testing.T) {
	now := time.Now()
	drafts := []session.Session{
		{ID: "future", OpensAt: now.Add(time.Hour), ClosesAt: now.Add(2 * time.Hour)},
	}
	engine := NewEngine(ledger.NewMemory())
	eligible, pct, err := engine.CertificateEligibility(context.Background(), "alice", drafts, 75, now)
	if err != nil {
		t.Fatal(err)
	}
	if eligible || pct != 0 {
		t.Errorf("got (%v, %v), want (false, 0) with no concluded sessions", eligible, pct)
	}
}

func TestLeaderboardOrderingAndTies(t *testing.T) {
	now := time.Now()
	sessions := closedSessions(12, now)
	led := ledger.NewMemory()

	// Two students tied at 11/12, one ahead at 12/12.
	markPresent(t, led, "carol", sessions, 12)
	markPresent(t, led, "bob", sessions, 11)
	markPresent(t, led, "alice", sessions, 11)

	engine := NewEngine(led)
	rows, err := engine.Leaderboard(context.Background(), sessions, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}

	if rows[0].StudentID != "carol" || rows[0].Rank != 1 || rows[0].Percentage != 100.0 {
		t.Errorf("row 0 = %+v, want carol rank 1 at 100%%", rows[0])
	}
	// Tied pair ordered by ascending student ID, sharing rank 2.
	if rows[1].StudentID != "alice" || rows[2].StudentID != "bob" {
		t.Errorf("tie order = %s, %s, want alice then bob", rows[1].StudentID, rows[2].StudentID)
	}
	if rows[1].Rank != 2 || rows[2].Rank != 2 {
		t.Errorf("tie ranks = %d, %d, want both 2", rows[1].Rank, rows[2].Rank)
	}
	if rows[1].Percentage != 91.7 || rows[2].Percentage != 91.7 {
		t.Errorf("tie percentages = %v, %v, want 91.7", rows[1].Percentage, rows[2].Percentage)
	}
}

func TestLeaderboardIncludesRejectedOnlyStudents(t *testing.T) {
	now := time.Now()
	sessions := closedSessions(2, now)
	led := ledger.NewMemory()

	markPresent(t, led, "alice", sessions, 2)
	err := led.Append(context.Background(), ledger.Record{
		ID:        "bob-rejected",
		SessionID: sessions[0].ID,
		StudentID: "bob",
		Timestamp: now,
		Outcome:   ledger.OutcomeRejected,
		Reason:    ledger.ReasonOutOfRange,
	})
	if err != nil {
		t.Fatal(err)
	}

	engine := NewEngine(led)
	rows, err := engine.Leaderboard(context.Background(), sessions, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2 (a failed attempt still puts the student on the board)", len(rows))
	}
	if rows[1].StudentID != "bob" || rows[1].SessionsPresent != 0 || rows[1].Rank != 2 {
		t.Errorf("row 1 = %+v, want bob with 0 present at rank 2", rows[1])
	}
}

func TestLeaderboardIgnoresRecordsOutsideRoster(t *testing.T) {
	now := time.Now()
	sessions := closedSessions(2, now)
	led := ledger.NewMemory()
	markPresent(t, led, "alice", sessions, 2)

	// A record against a session not in the supplied set must not count.
	err := led.Append(context.Background(), ledger.Record{
		ID:        "other",
		SessionID: "unrelated-session",
		StudentID: "alice",
		Timestamp: now,
		Outcome:   ledger.OutcomePresent,
	})
	if err != nil {
		t.Fatal(err)
	}

	engine := NewEngine(led)
	rows, err := engine.Leaderboard(context.Background(), sessions, now)
	if err != nil {
		t.Fatal(err)
	}
	if rows[0].SessionsPresent != 2 || rows[0].SessionsTotal != 2 {
		t.Errorf("row = %+v, want 2/2", rows[0])
	}
}
