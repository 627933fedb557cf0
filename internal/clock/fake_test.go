package clock

import (
	"testing"
	"time"
)

func TestFakeAdvanceFiresInDeadlineOrder(t *testing.T) {
	f := NewFake()
	var fired []string
	f.AfterFunc(200*time.Millisecond, func() { fired = append(fired, "b") })
	f.AfterFunc(100*time.Millisecond, func() { fired = append(fired, "a") })
	f.AfterFunc(time.Second, func() { fired = append(fired, "late") })

	f.Advance(500 * time.Millisecond)

	if len(fired) != 2 || fired[0] != "a" || fired[1] != "b" {
		t.Fatalf("fired = %v, want [a b]", fired)
	}

	f.Advance(time.Second)
	if len(fired) != 3 || fired[2] != "late" {
		t.Fatalf("fired = %v, want trailing timer", fired)
	}
}

func TestFakeStopPreventsFiring(t *testing.T) {
	f := NewFake()
	fired := false
	timer := f.AfterFunc(100*time.Millisecond, func() { fired = true })

	if !timer.Stop() {
		t.Fatal("Stop on an armed timer must report true")
	}
	f.Advance(time.Second)
	if fired {
		t.Error("stopped timer fired")
	}
	if timer.Stop() {
		t.Error("second Stop must report false")
	}
}

func TestFakeResetReschedules(t *testing.T) {
	f := NewFake()
	count := 0
	timer := f.AfterFunc(100*time.Millisecond, func() { count++ })

	f.Advance(50 * time.Millisecond)
	timer.Reset(100 * time.Millisecond)
	f.Advance(60 * time.Millisecond)
	if count != 0 {
		t.Fatal("reset timer fired at its original deadline")
	}
	f.Advance(50 * time.Millisecond)
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	// A fired timer can be re-armed.
	timer.Reset(10 * time.Millisecond)
	f.Advance(20 * time.Millisecond)
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}

func TestFakeNowAdvances(t *testing.T) {
	f := NewFake()
	start := f.Now()
	f.Advance(3 * time.Second)
	if got := f.Now().Sub(start); got != 3*time.Second {
		t.Errorf("advanced %v, want 3s", got)
	}
}

func TestRealClockTimer(t *testing.T) {
	c := New()
	done := make(chan struct{})
	timer := c.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("real timer never fired")
	}
	if timer.Stop() {
		t.Error("Stop after firing must report false")
	}
}
