package ratelimit

import (
	"testing"
	"time"
)

func TestAllowExactCeiling(t *testing.T) {
	l := New(3)
	for i := 0; i < 3; i++ {
		if !l.Allow("m1", "t1") {
			t.Fatalf("submission %d rejected below the ceiling", i+1)
		}
	}
	if l.Allow("m1", "t1") {
		t.Fatal("submission above the ceiling admitted")
	}
}

func TestAllowKeysAreIndependent(t *testing.T) {
	l := New(1)
	if !l.Allow("m1", "t1") {
		t.Fatal("first key rejected")
	}
	if !l.Allow("m1", "t2") {
		t.Fatal("other team throttled by first team's window")
	}
	if !l.Allow("m2", "t1") {
		t.Fatal("other match throttled by first match's window")
	}
	if l.Allow("m1", "t1") {
		t.Fatal("first key admitted above its ceiling")
	}
}

func TestWindowResets(t *testing.T) {
	l := New(2)
	current := time.Now()
	l.now = func() time.Time { return current }

	if !l.Allow("m1", "t1") || !l.Allow("m1", "t1") {
		t.Fatal("admissions below the ceiling rejected")
	}
	if l.Allow("m1", "t1") {
		t.Fatal("third submission admitted inside the window")
	}

	current = current.Add(windowLength)
	if !l.Allow("m1", "t1") {
		t.Fatal("fresh window did not reset the counter")
	}
}

func TestSweepPurgesStaleWindows(t *testing.T) {
	l := New(1)
	current := time.Now()
	l.now = func() time.Time { return current }

	l.Allow("m1", "t1")
	l.Allow("m2", "t2")
	if got := l.windows.Size(); got != 2 {
		t.Fatalf("windows = %d, want 2", got)
	}

	current = current.Add(3 * windowLength)
	l.sweep()
	if got := l.windows.Size(); got != 0 {
		t.Fatalf("stale windows survived the sweep: %d", got)
	}
}

func TestStartStop(t *testing.T) {
	l := New(1)
	l.Start()
	l.Stop()
	// Stop is safe to call again.
	l.Stop()
}
