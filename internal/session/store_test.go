package session

import (
	"errors"
	"testing"
	"time"

	"checkin/internal/geo"
)

var center = geo.Coordinate{Lat: -6.2088, Lng: 106.8456}

func TestCreateValidation(t *testing.T) {
	st := NewStore()
	now := time.Now()

	if _, err := st.Create(center, 50, now.Add(time.Hour), now); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("inverted window: got %v, want ErrInvalidWindow", err)
	}
	if _, err := st.Create(center, 50, now, now); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("empty window: got %v, want ErrInvalidWindow", err)
	}
	if _, err := st.Create(center, 0, now, now.Add(time.Hour)); !errors.Is(err, ErrInvalidRadius) {
		t.Errorf("zero radius: got %v, want ErrInvalidRadius", err)
	}
	if _, err := st.Create(center, -5, now, now.Add(time.Hour)); !errors.Is(err, ErrInvalidRadius) {
		t.Errorf("negative radius: got %v, want ErrInvalidRadius", err)
	}

	s, err := st.Create(center, 50, now, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("valid session: %v", err)
	}
	if s.ID == "" {
		t.Error("created session has empty token")
	}
}

func TestCreateAssignsUniqueTokens(t *testing.T) {
	st := NewStore()
	now := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		s, err := st.Create(center, 50, now, now.Add(time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		if seen[s.ID] {
			t.Fatalf("duplicate token %s", s.ID)
		}
		seen[s.ID] = true
	}
}

func TestCurrentStateBoundaries(t *testing.T) {
	opens := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	closes := opens.Add(time.Hour)
	s := Session{OpensAt: opens, ClosesAt: closes}

	cases := []struct {
		name string
		at   time.Time
		want State
	}{
		{"before window", opens.Add(-time.Second), StateDraft},
		{"at open", opens, StateActive},
		{"mid window", opens.Add(30 * time.Minute), StateActive},
		{"just before close", closes.Add(-time.Second), StateActive},
		{"at close", closes, StateClosed},
		{"after close", closes.Add(time.Hour), StateClosed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CurrentState(s, tc.at); got != tc.want {
				t.Errorf("CurrentState = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCloseEarlyPinsState(t *testing.T) {
	st := NewStore()
	now := time.Now()
	s, err := st.Create(center, 50, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	if err := st.Close(s.ID, now); err != nil {
		t.Fatalf("close: %v", err)
	}
	got, err := st.Get(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if state := CurrentState(got, now); state != StateClosed {
		t.Errorf("state after early close = %v, want closed", state)
	}
	// Still closed well inside the original window.
	if state := CurrentState(got, now.Add(30*time.Minute)); state != StateClosed {
		t.Errorf("state mid-window after early close = %v, want closed", state)
	}

	// Idempotent.
	if err := st.Close(s.ID, now.Add(time.Minute)); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestCloseAndGetUnknown(t *testing.T) {
	st := NewStore()
	if err := st.Close("nope", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Close unknown: got %v, want ErrNotFound", err)
	}
	if _, err := st.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get unknown: got %v, want ErrNotFound", err)
	}
}

func TestListOrderedByOpening(t *testing.T) {
	st := NewStore()
	base := time.Now()
	if _, err := st.Create(center, 50, base.Add(2*time.Hour), base.Add(3*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Create(center, 50, base, base.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	list := st.List()
	if len(list) != 2 {
		t.Fatalf("List len = %d, want 2", len(list))
	}
	if list[0].OpensAt.After(list[1].OpensAt) {
		t.Error("List not ordered by opening time")
	}
}
