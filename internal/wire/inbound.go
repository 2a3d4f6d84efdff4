package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageEvent is a server-confirmed chat message.
type MessageEvent struct {
	ID          string `json:"id"`
	MessageID   string `json:"message_id,omitempty"`
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content"`
	Type        string `json:"type,omitempty"`
	Read        bool   `json:"read,omitempty"`
	MediaURL    string `json:"media_url,omitempty"`
	CreatedAt   any    `json:"created_at,omitempty"`
	UpdatedAt   any    `json:"updated_at,omitempty"`
	Timestamp   any    `json:"timestamp,omitempty"`
}

// SentAt resolves the event's creation instant from whichever timestamp
// field the backend populated. Falls back to now so a message without a
// usable timestamp still sorts near its arrival.
func (m *MessageEvent) SentAt() time.Time {
	for _, v := range []any{m.CreatedAt, m.Timestamp, m.UpdatedAt} {
		if ts, ok := NormalizeTimestamp(v); ok {
			return ts
		}
	}
	return time.Now()
}

// TypingEvent is a normalized typing indicator.
type TypingEvent struct {
	UserID      string `json:"user_id"`
	RecipientID string `json:"recipient_id"`
	Typing      bool   `json:"typing"`
}

// ReadEvent marks messages as read by the recipient.
type ReadEvent struct {
	MessageIDs []string `json:"message_ids"`
	ReaderID   string   `json:"reader_id,omitempty"`
	MessageID  string   `json:"message_id,omitempty"`
}

// IDs returns all message ids covered by the receipt, whichever field the
// server used.
func (r *ReadEvent) IDs() []string {
	if len(r.MessageIDs) > 0 {
		return r.MessageIDs
	}
	if r.MessageID != "" {
		return []string{r.MessageID}
	}
	return nil
}

// StatusEvent is a normalized presence update.
type StatusEvent struct {
	UserID   string `json:"user_id"`
	Status   string `json:"status"`
	LastSeen string `json:"last_seen,omitempty"`
}

var knownStatuses = map[string]bool{
	"online":  true,
	"offline": true,
	"away":    true,
	"busy":    true,
}

// ParseStatus validates and normalizes a presence frame body. Unknown
// statuses default to offline and last_seen is normalized to RFC 3339.
func ParseStatus(data json.RawMessage) (*StatusEvent, error) {
	var raw struct {
		UserID   string `json:"user_id"`
		Status   string `json:"status"`
		LastSeen any    `json:"last_seen"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	if raw.UserID == "" {
		return nil, fmt.Errorf("status frame missing user_id")
	}

	evt := &StatusEvent{UserID: raw.UserID, Status: raw.Status}
	if !knownStatuses[evt.Status] {
		evt.Status = "offline"
	}
	if ts, ok := NormalizeTimestamp(raw.LastSeen); ok {
		evt.LastSeen = ts.UTC().Format(time.RFC3339)
	}
	return evt, nil
}

// ErrorEvent is a server-side error report.
type ErrorEvent struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// PongPayload echoes a ping's correlation id and send time.
type PongPayload struct {
	ID     string `json:"id"`
	SentAt int64  `json:"sent_at"`
}

// ParseFrame decodes a raw inbound frame. The Data payload stays raw; the
// dispatcher decodes it per type.
func ParseFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("frame missing type")
	}
	return &f, nil
}
