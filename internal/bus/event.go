package bus

import "time"

// Event kinds published by the realtime core. Subscribers filter by
// namespace prefix, so "message." matches every message event.
const (
	KindMessageReceived = "message.received"
	KindMessageNew      = "message.new"
	KindTempReplaced    = "message.temp_replaced"
	KindMessageReaction = "message.reaction"
	KindDeliveryFailed  = "message.delivery_failed"
	KindTypingChanged   = "typing.changed"
	KindPresenceChanged = "presence.changed"
	KindUnreadUpdated   = "unread.updated"
	KindStateChanged    = "conn.state_changed"
	KindQualityChanged  = "conn.quality_changed"
	KindConnError       = "conn.error"
	KindLoggedOut       = "session.logged_out"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
