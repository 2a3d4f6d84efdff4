package messages

import (
	"sync"
	"testing"
)

func TestAppendAndSnapshot(t *testing.T) {
	s := NewStore()
	s.Append(&ChatMessage{ID: "m1", Content: "one"})
	s.Append(&ChatMessage{ID: "m2", Content: "two"})

	snap := s.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot len = %d, want 2", len(snap))
	}

	// Snapshot is a copy: mutating it must not touch the store.
	snap[0].Content = "mutated"
	if got := s.Snapshot()[0].Content; got != "one" {
		t.Errorf("stored content = %q, want %q", got, "one")
	}
}

func TestMarkRead(t *testing.T) {
	s := NewStore()
	s.Append(&ChatMessage{ID: "m1"})
	s.Append(&ChatMessage{ID: "m2", Read: true})
	s.Append(&ChatMessage{ID: "m3", MessageID: "alias-3"})

	n := s.MarkRead([]string{"m1", "m2", "alias-3", "missing"})
	// m2 was already read; m3 matches via its alias.
	if n != 2 {
		t.Errorf("marked = %d, want 2", n)
	}
	for _, m := range s.Snapshot() {
		if !m.Read {
			t.Errorf("message %s not read", m.ID)
		}
	}
}

func TestIndexByID(t *testing.T) {
	s := NewStore()
	s.Append(&ChatMessage{ID: "m1"})
	s.Append(&ChatMessage{ID: "m2", MessageID: "old-2"})

	s.With(func(l *List) {
		if i := l.IndexByID("m1"); i != 0 {
			t.Errorf("IndexByID(m1) = %d, want 0", i)
		}
		if i := l.IndexByID("old-2"); i != 1 {
			t.Errorf("IndexByID(old-2) = %d, want 1 via alias", i)
		}
		if i := l.IndexByID("nope"); i != -1 {
			t.Errorf("IndexByID(nope) = %d, want -1", i)
		}
		if i := l.IndexByID(""); i != -1 {
			t.Errorf("IndexByID(\"\") = %d, want -1", i)
		}
	})
}

func TestReplace(t *testing.T) {
	s := NewStore()
	s.Append(&ChatMessage{ID: "temp-1", Pending: true})

	s.With(func(l *List) {
		l.Replace(0, &ChatMessage{ID: "m1", TempID: "temp-1", Sent: true})
	})

	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].ID != "m1" || snap[0].TempID != "temp-1" {
		t.Errorf("after replace = %+v", snap)
	}
}

func TestConcurrentAppends(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Append(&ChatMessage{ID: "m"})
		}()
	}
	wg.Wait()
	if got := s.Len(); got != 50 {
		t.Errorf("len = %d, want 50", got)
	}
}
