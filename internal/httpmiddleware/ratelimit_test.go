package httpmiddleware

import "testing"

func TestAllowWithinCapacity(t *testing.T) {
	l := NewTokenBucket(3, 60)
	for i := 0; i < 3; i++ {
		if !l.Allow("1.2.3.4") {
			t.Fatalf("request %d within capacity was denied", i)
		}
	}
	if l.Allow("1.2.3.4") {
		t.Error("request over capacity was allowed")
	}
	// Other clients have their own bucket.
	if !l.Allow("5.6.7.8") {
		t.Error("fresh client was denied")
	}
}

func TestZeroCapacityDefaultsToRate(t *testing.T) {
	l := NewTokenBucket(0, 2)
	if !l.Allow("a") || !l.Allow("a") {
		t.Error("capacity should default to the per-minute rate")
	}
	if l.Allow("a") {
		t.Error("third request should be denied")
	}
}
