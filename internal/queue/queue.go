// Package queue buffers outbound frames while the messaging channel is
// down and replays them on reconnect with bounded retries. The queue is
// persisted on every mutation so a restart does not lose pending sends.
package queue

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/AdrenalinApprizal/chatlink/internal/bus"
	"github.com/AdrenalinApprizal/chatlink/internal/wire"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// MaxSize is the queue capacity; the oldest entry is evicted beyond it.
	MaxSize = 50
	// MaxRetries is the per-entry send budget before the entry is dropped.
	MaxRetries = 3

	restoreMaxAge = 5 * time.Minute
	typingMaxAge  = 10 * time.Second
	entryMaxAge   = time.Hour

	retryBaseDelay = time.Second
	retryMaxDelay  = 10 * time.Second
)

// Message is the outbound payload held by a queue entry.
type Message struct {
	Type        string `json:"type"` // wire.TypeMessage, wire.TypeTyping, wire.TypeStopTyping
	ID          string `json:"id,omitempty"`
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content,omitempty"`
}

// Entry is one queued outbound message.
type Entry struct {
	QueueID    string  `json:"queue_id"`
	Message    Message `json:"message"`
	EnqueuedAt int64   `json:"enqueued_at_ms"`
	RetryCount int     `json:"retry_count"`
}

// Persister is the durable slot the serialized queue lives in. LoadQueue
// returns nil data when nothing was saved.
type Persister interface {
	PersistQueue(data []byte) error
	LoadQueue() ([]byte, error)
}

// DeliveryFailure is the bus payload emitted when a chat message exhausts
// its retry budget.
type DeliveryFailure struct {
	Message  Message
	Attempts int
}

// Queue is the bounded, deduplicating outbound buffer.
type Queue struct {
	persister Persister
	bus       *bus.Bus
	logger    *zap.Logger

	now   func() time.Time
	sleep func(time.Duration)

	mu       sync.Mutex
	entries  []*Entry
	flushing bool
}

// New creates an empty queue backed by the given persister.
func New(p Persister, b *bus.Bus, logger *zap.Logger) *Queue {
	return &Queue{
		persister: p,
		bus:       b,
		logger:    logger,
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// Enqueue appends a message unless an equivalent one is already queued.
// At capacity the oldest entry is evicted first. Returns false when the
// message was dropped as a duplicate.
func (q *Queue) Enqueue(msg Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if i := q.findEquivalentLocked(msg); i >= 0 {
		q.logger.Debug("dropping duplicate queued message",
			zap.String("type", msg.Type),
			zap.String("recipient_id", msg.RecipientID))
		return false
	}

	q.appendBoundedLocked(&Entry{
		QueueID:    uuid.NewString(),
		Message:    msg,
		EnqueuedAt: q.now().UnixMilli(),
	})
	q.persistLocked()
	return true
}

// appendBoundedLocked appends an entry, evicting the oldest one first when
// the queue is at capacity. Every append goes through here so the queue can
// never grow past MaxSize.
func (q *Queue) appendBoundedLocked(e *Entry) {
	if len(q.entries) >= MaxSize {
		evicted := q.entries[0]
		q.entries = q.entries[1:]
		q.logger.Warn("queue full, evicting oldest entry",
			zap.String("queue_id", evicted.QueueID),
			zap.String("type", evicted.Message.Type))
	}
	q.entries = append(q.entries, e)
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Entries returns a snapshot of the queued entries, oldest first.
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.entries))
	for i, e := range q.entries {
		out[i] = *e
	}
	return out
}

// Restore loads the persisted queue, dropping entries older than five
// minutes. Called once at manager start.
func (q *Queue) Restore() error {
	data, err := q.persister.LoadQueue()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var saved []*Entry
	if err := json.Unmarshal(data, &saved); err != nil {
		q.logger.Warn("discarding unreadable persisted queue", zap.Error(err))
		return q.persister.PersistQueue(nil)
	}

	cutoff := q.now().Add(-restoreMaxAge).UnixMilli()
	var kept []*Entry
	for _, e := range saved {
		if e.EnqueuedAt >= cutoff {
			kept = append(kept, e)
		}
	}

	q.mu.Lock()
	q.entries = kept
	q.persistLocked()
	q.mu.Unlock()

	if len(kept) > 0 {
		q.logger.Info("restored persisted queue",
			zap.Int("entries", len(kept)),
			zap.Int("dropped_stale", len(saved)-len(kept)))
	}
	return nil
}

// Flush replays queued entries through send. The in-memory queue is copied
// and cleared up front so sends enqueued mid-flush are untouched. Failed
// entries are re-enqueued until their retry budget runs out. Only one
// flush runs at a time.
func (q *Queue) Flush(send func(Message) error) {
	q.mu.Lock()
	if q.flushing || len(q.entries) == 0 {
		q.mu.Unlock()
		return
	}
	q.flushing = true
	batch := q.entries
	q.entries = nil
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.flushing = false
		q.persistLocked()
		q.mu.Unlock()
	}()

	now := q.now()
	for _, e := range batch {
		age := now.Sub(time.UnixMilli(e.EnqueuedAt))
		if isTyping(e.Message.Type) && age > typingMaxAge {
			// Stale typing indicators are worse than none.
			continue
		}
		if age > entryMaxAge {
			q.logger.Warn("dropping expired queue entry", zap.String("queue_id", e.QueueID))
			continue
		}

		if e.RetryCount > 0 {
			q.sleep(retryDelay(e.RetryCount))
		}

		if err := send(e.Message); err != nil {
			e.RetryCount++
			if e.RetryCount >= MaxRetries {
				q.logger.Error("message exceeded retry budget, dropping",
					zap.String("queue_id", e.QueueID),
					zap.Int("retries", e.RetryCount),
					zap.Error(err))
				if e.Message.Type == wire.TypeMessage {
					q.bus.Emit(bus.KindDeliveryFailed, DeliveryFailure{
						Message:  e.Message,
						Attempts: e.RetryCount,
					})
				}
				continue
			}
			q.mu.Lock()
			q.appendBoundedLocked(e)
			q.mu.Unlock()
			continue
		}
	}
}

func (q *Queue) persistLocked() {
	var data []byte
	if len(q.entries) > 0 {
		var err error
		data, err = json.Marshal(q.entries)
		if err != nil {
			q.logger.Error("failed to serialize queue", zap.Error(err))
			return
		}
	}
	if err := q.persister.PersistQueue(data); err != nil {
		q.logger.Error("failed to persist queue", zap.Error(err))
	}
}

// findEquivalentLocked returns the index of an entry that is a logical
// duplicate of msg: same trimmed content and (sender, recipient) for chat
// messages, same (type, sender, recipient) for typing indicators.
func (q *Queue) findEquivalentLocked(msg Message) int {
	for i, e := range q.entries {
		m := e.Message
		if isTyping(msg.Type) {
			if m.Type == msg.Type && m.SenderID == msg.SenderID && m.RecipientID == msg.RecipientID {
				return i
			}
			continue
		}
		if m.Type == msg.Type &&
			m.SenderID == msg.SenderID &&
			m.RecipientID == msg.RecipientID &&
			strings.TrimSpace(m.Content) == strings.TrimSpace(msg.Content) {
			return i
		}
	}
	return -1
}

func isTyping(t string) bool {
	return t == wire.TypeTyping || t == wire.TypeStopTyping
}

func retryDelay(retryCount int) time.Duration {
	d := retryBaseDelay << (retryCount - 1)
	if d > retryMaxDelay {
		d = retryMaxDelay
	}
	return d
}
