// Package messages holds the shared in-memory message list the realtime
// core reconciles inbound frames against. The list is owned here; the
// reconciler scans and splices it under the store's lock.
package messages

// ChatMessage is the client view of one logical message. Server fields are
// merged in as authoritative echoes arrive; the remaining fields exist only
// on the client side.
type ChatMessage struct {
	ID          string `json:"id"`
	MessageID   string `json:"message_id,omitempty"` // prior id alias after reconciliation
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content"`
	Type        string `json:"type"`
	Read        bool   `json:"read"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at,omitempty"`
	MediaURL    string `json:"media_url,omitempty"`

	// Client-only state.
	Pending       bool   `json:"pending"`
	Sent          bool   `json:"sent"`
	RawTimestamp  string `json:"raw_timestamp,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"` // display form
	TempID        string `json:"temp_id,omitempty"`
	IsCurrentUser bool   `json:"is_current_user"`
	FromWebSocket bool   `json:"from_websocket,omitempty"`
	Recovered     bool   `json:"recovered,omitempty"`
	Deleted       bool   `json:"deleted,omitempty"`
}
