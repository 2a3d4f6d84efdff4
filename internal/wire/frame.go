// Package wire defines the JSON frame format spoken over both realtime
// channels and the normalization helpers applied at the boundary. Inbound
// payloads are decoded into a tagged variant per known frame type; nothing
// past this package trusts raw field presence.
package wire

import "encoding/json"

// Frame type discriminators.
const (
	TypeMessage    = "message"
	TypeTyping     = "typing"
	TypeStopTyping = "stop_typing"
	TypeStatus     = "status"
	TypeRead       = "read"
	TypeUnread     = "unread_count"
	TypeReaction   = "message_reaction"
	TypeError      = "error"
	TypePing       = "ping"
	TypePong       = "pong"
)

// Frame is the wire envelope for both channels: {"type": ..., "data": ...}.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewFrame builds a frame with the given payload marshaled into Data.
func NewFrame(frameType string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: frameType, Data: data}, nil
}

// SubscribeCommand is the presence-channel client command asking the server
// to push status updates for a channel.
type SubscribeCommand struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// Subscribe builds a presence subscribe command.
func Subscribe(channel string) SubscribeCommand {
	return SubscribeCommand{Action: "subscribe", Channel: channel}
}

// ChatPayload is the outbound body of a chat message frame.
type ChatPayload struct {
	ID          string `json:"id,omitempty"`
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content"`
}

// TypingPayload is the outbound body of a typing / stop_typing frame.
type TypingPayload struct {
	UserID      string `json:"user_id"`
	RecipientID string `json:"recipient_id"`
}

// PingPayload carries the heartbeat correlation id and client send time.
type PingPayload struct {
	ID     string `json:"id"`
	SentAt int64  `json:"sent_at"`
}
