// Package reconcile merges server-confirmed chat messages into the shared
// message list: duplicates collapse, optimistic local messages get replaced
// by their authoritative echoes, and genuinely new messages append. After
// every merge exactly one stored entry represents the logical message.
package reconcile

import (
	"strings"
	"time"

	"github.com/AdrenalinApprizal/chatlink/internal/auth"
	"github.com/AdrenalinApprizal/chatlink/internal/bus"
	"github.com/AdrenalinApprizal/chatlink/internal/messages"
	"github.com/AdrenalinApprizal/chatlink/internal/wire"
	"go.uber.org/zap"
)

const (
	// pendingWindow bounds how old an optimistic message may be and still
	// match its server echo.
	pendingWindow = 45 * time.Second
	// duplicateWindow bounds the same-sender duplicate heuristic.
	duplicateWindow = 60 * time.Second
	// containmentMinLen is the minimum content length before substring
	// containment counts as a match.
	containmentMinLen = 10
)

// TempReplaced is the bus payload when an optimistic message is replaced
// by its server echo.
type TempReplaced struct {
	TempID  string
	Message messages.ChatMessage
}

// Reconciler applies inbound chat messages to the message store.
type Reconciler struct {
	store  *messages.Store
	bus    *bus.Bus
	auth   auth.Authenticator
	logger *zap.Logger
	now    func() time.Time
}

// New creates a reconciler over the shared message store.
func New(store *messages.Store, b *bus.Bus, a auth.Authenticator, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		bus:    b,
		auth:   a,
		logger: logger,
		now:    time.Now,
	}
}

// HandleMessage reconciles one inbound chat message. A failure inside the
// merge must not lose the message: the recovery path inserts a minimal
// marked record instead.
func (r *Reconciler) HandleMessage(evt *wire.MessageEvent) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic during reconciliation, inserting recovered record",
				zap.Any("panic", p),
				zap.String("id", evt.ID))
			r.insertRecovered(evt)
		}
	}()

	localUser := r.auth.UserID()
	incoming := r.toChatMessage(evt, localUser)

	var (
		outcome  string
		tempID   string
		resolved messages.ChatMessage
	)

	r.store.With(func(l *messages.List) {
		// 1. Same server id (or alias): merge over the stored entry.
		if i := l.IndexByID(incoming.ID); i >= 0 {
			stored := l.At(i)
			mergeInto(stored, incoming)
			outcome, resolved = "updated", *stored
			return
		}

		// 2. Optimistic echo: a recent pending message from the local user
		// with matching content gets replaced by the authoritative copy.
		if i := r.findPendingMatch(l, incoming, localUser); i >= 0 {
			old := l.At(i)
			replacement := *incoming
			replacement.IsCurrentUser = old.IsCurrentUser
			replacement.TempID = old.ID
			l.Replace(i, &replacement)
			outcome, tempID, resolved = "replaced", old.ID, replacement
			return
		}

		// 3. Same-sender duplicate arriving via a different path.
		if i := r.findDuplicate(l, incoming, evt); i >= 0 {
			stored := l.At(i)
			mergeInto(stored, incoming)
			outcome, resolved = "deduplicated", *stored
			return
		}

		// 4. Genuinely new message.
		incoming.IsCurrentUser = incoming.SenderID == localUser && localUser != ""
		l.Append(incoming)
		outcome, resolved = "appended", *incoming
	})

	switch outcome {
	case "replaced":
		r.bus.Emit(bus.KindTempReplaced, TempReplaced{TempID: tempID, Message: resolved})
	case "appended":
		if !resolved.IsCurrentUser {
			r.bus.Emit(bus.KindMessageNew, resolved)
		}
	}
	r.bus.Emit(bus.KindMessageReceived, resolved)
}

// HandleRead marks the given message ids read in the shared list.
func (r *Reconciler) HandleRead(ids []string, readerID string) {
	if len(ids) == 0 {
		return
	}
	n := r.store.MarkRead(ids)
	r.logger.Debug("read receipt applied",
		zap.Int("matched", n),
		zap.String("reader_id", readerID))
}

func (r *Reconciler) toChatMessage(evt *wire.MessageEvent, localUser string) *messages.ChatMessage {
	id := evt.ID
	if id == "" {
		id = evt.MessageID
	}
	sentAt := evt.SentAt()

	msg := &messages.ChatMessage{
		ID:            id,
		SenderID:      evt.SenderID,
		RecipientID:   evt.RecipientID,
		Content:       evt.Content,
		Type:          evt.Type,
		Read:          evt.Read,
		MediaURL:      evt.MediaURL,
		CreatedAt:     sentAt.UTC().Format(time.RFC3339),
		RawTimestamp:  sentAt.UTC().Format(time.RFC3339),
		Timestamp:     wire.DisplayTimestamp(sentAt),
		Sent:          true,
		Pending:       false,
		FromWebSocket: true,
		IsCurrentUser: evt.SenderID == localUser && localUser != "",
	}
	if msg.Type == "" {
		msg.Type = "text"
	}
	return msg
}

// mergeInto overlays the authoritative incoming fields onto the stored
// entry, keeping the existing display timestamp so the UI never sees a
// timestamp jump.
func mergeInto(stored *messages.ChatMessage, incoming *messages.ChatMessage) {
	if stored.ID != incoming.ID {
		// Matched via alias; keep both ids cross-referenced.
		stored.MessageID = stored.ID
		stored.ID = incoming.ID
	}
	stored.SenderID = incoming.SenderID
	stored.RecipientID = incoming.RecipientID
	stored.Content = incoming.Content
	stored.Type = incoming.Type
	stored.Read = stored.Read || incoming.Read
	if incoming.MediaURL != "" {
		stored.MediaURL = incoming.MediaURL
	}
	if stored.CreatedAt == "" {
		stored.CreatedAt = incoming.CreatedAt
	}
	stored.UpdatedAt = incoming.CreatedAt
	stored.RawTimestamp = incoming.RawTimestamp
	if stored.Timestamp == "" {
		stored.Timestamp = incoming.Timestamp
	}
	stored.Sent = true
	stored.Pending = false
	stored.FromWebSocket = true
}

func (r *Reconciler) findPendingMatch(l *messages.List, incoming *messages.ChatMessage, localUser string) int {
	if localUser == "" || incoming.SenderID != localUser {
		return -1
	}
	cutoff := r.now().Add(-pendingWindow)
	for i, m := range l.Items() {
		if !m.Pending || m.SenderID != localUser {
			continue
		}
		created, ok := wire.NormalizeTimestamp(m.CreatedAt)
		if !ok || created.Before(cutoff) {
			continue
		}
		if contentMatches(m.Content, incoming.Content) {
			return i
		}
	}
	return -1
}

func (r *Reconciler) findDuplicate(l *messages.List, incoming *messages.ChatMessage, evt *wire.MessageEvent) int {
	sentAt := evt.SentAt()
	for i, m := range l.Items() {
		if m.Deleted || m.SenderID != incoming.SenderID {
			continue
		}
		stored, ok := wire.NormalizeTimestamp(m.RawTimestamp)
		if !ok {
			stored, ok = wire.NormalizeTimestamp(m.CreatedAt)
		}
		if !ok {
			continue
		}
		delta := sentAt.Sub(stored)
		if delta < 0 {
			delta = -delta
		}
		if delta <= duplicateWindow && contentMatches(m.Content, incoming.Content) {
			return i
		}
	}
	return -1
}

// contentMatches compares normalized content: exact trimmed equality, or
// substring containment for longer messages. Known to be approximate for
// rapid identical messages from the same user; kept for compatibility.
func contentMatches(a, b string) bool {
	ta, tb := strings.TrimSpace(a), strings.TrimSpace(b)
	if ta == "" || tb == "" {
		return ta == tb
	}
	if ta == tb {
		return true
	}
	if len(ta) > containmentMinLen || len(tb) > containmentMinLen {
		return strings.Contains(ta, tb) || strings.Contains(tb, ta)
	}
	return false
}

// insertRecovered stores a minimal marked record for a message the normal
// merge path failed on, deduplicated by id.
func (r *Reconciler) insertRecovered(evt *wire.MessageEvent) {
	id := evt.ID
	if id == "" {
		id = evt.MessageID
	}
	now := r.now()
	r.store.With(func(l *messages.List) {
		if id != "" && l.IndexByID(id) >= 0 {
			return
		}
		l.Append(&messages.ChatMessage{
			ID:            id,
			SenderID:      evt.SenderID,
			RecipientID:   evt.RecipientID,
			Content:       evt.Content,
			Type:          "text",
			CreatedAt:     now.UTC().Format(time.RFC3339),
			Timestamp:     wire.DisplayTimestamp(now),
			Sent:          true,
			Recovered:     true,
			FromWebSocket: true,
		})
	})
}
