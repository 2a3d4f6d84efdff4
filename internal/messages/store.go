package messages

import "sync"

// Store owns the message list. All reads and splices happen under one lock;
// With gives callers (the reconciler) an atomic multi-step view.
type Store struct {
	mu   sync.Mutex
	list List
}

// List is the raw message sequence. Only valid while the owning Store's
// lock is held.
type List struct {
	items []*ChatMessage
}

// NewStore creates an empty message store.
func NewStore() *Store {
	return &Store{}
}

// With runs fn with exclusive access to the list.
func (s *Store) With(fn func(l *List)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.list)
}

// Append adds a message to the end of the list.
func (s *Store) Append(m *ChatMessage) {
	s.With(func(l *List) { l.Append(m) })
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list.items)
}

// Snapshot returns a copy of the current messages.
func (s *Store) Snapshot() []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChatMessage, len(s.list.items))
	for i, m := range s.list.items {
		out[i] = *m
	}
	return out
}

// MarkRead flags the given message ids as read. Returns how many matched.
func (s *Store) MarkRead(ids []string) int {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	n := 0
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.list.items {
		if want[m.ID] || (m.MessageID != "" && want[m.MessageID]) {
			if !m.Read {
				m.Read = true
				n++
			}
		}
	}
	return n
}

// Append adds a message to the end of the list.
func (l *List) Append(m *ChatMessage) {
	l.items = append(l.items, m)
}

// Len returns the list length.
func (l *List) Len() int { return len(l.items) }

// At returns the message at index i.
func (l *List) At(i int) *ChatMessage { return l.items[i] }

// Replace swaps the message at index i.
func (l *List) Replace(i int, m *ChatMessage) { l.items[i] = m }

// IndexByID finds a message whose id, or prior message_id alias, equals id.
// Returns -1 when absent.
func (l *List) IndexByID(id string) int {
	if id == "" {
		return -1
	}
	for i, m := range l.items {
		if m.ID == id || (m.MessageID != "" && m.MessageID == id) {
			return i
		}
	}
	return -1
}

// Items exposes the backing slice for scans.
func (l *List) Items() []*ChatMessage { return l.items }
