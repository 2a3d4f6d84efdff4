package conn

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerFires(t *testing.T) {
	s := NewScheduler()
	var fired atomic.Int32
	s.Schedule("k", time.Millisecond, func() { fired.Add(1) })

	waitFor(t, "timer fired", func() bool { return fired.Load() == 1 })
	if s.Pending() != 0 {
		t.Errorf("pending = %d after fire, want 0", s.Pending())
	}
}

func TestSchedulerReplaceSameKey(t *testing.T) {
	s := NewScheduler()
	var first, second atomic.Int32
	s.Schedule("k", 50*time.Millisecond, func() { first.Add(1) })
	s.Schedule("k", time.Millisecond, func() { second.Add(1) })

	waitFor(t, "replacement fired", func() bool { return second.Load() == 1 })
	time.Sleep(80 * time.Millisecond)
	if first.Load() != 0 {
		t.Error("replaced timer still fired")
	}
}

func TestSchedulerCancel(t *testing.T) {
	s := NewScheduler()
	var fired atomic.Int32
	s.Schedule("k", 10*time.Millisecond, func() { fired.Add(1) })
	s.Cancel("k")

	time.Sleep(30 * time.Millisecond)
	if fired.Load() != 0 {
		t.Error("canceled timer fired")
	}
	if s.Pending() != 0 {
		t.Errorf("pending = %d, want 0", s.Pending())
	}
}

func TestSchedulerCancelPrefix(t *testing.T) {
	s := NewScheduler()
	var a, b atomic.Int32
	s.Schedule("messaging:reconnect", 10*time.Millisecond, func() { a.Add(1) })
	s.Schedule("messaging:pingTimeout:x", 10*time.Millisecond, func() { a.Add(1) })
	s.Schedule("presence:reconnect", 10*time.Millisecond, func() { b.Add(1) })

	s.CancelPrefix("messaging:")
	if s.Pending() != 1 {
		t.Errorf("pending = %d, want 1", s.Pending())
	}

	waitFor(t, "presence timer fired", func() bool { return b.Load() == 1 })
	if a.Load() != 0 {
		t.Error("prefix-canceled timers fired")
	}
}
