// Package conn owns the two realtime WebSocket sessions (messaging and
// presence): lifecycle, reconnection with backoff, heartbeat liveness,
// connection-quality assessment and inbound frame dispatch.
package conn

import (
	"fmt"
	"strings"
	"time"
)

// Channel identifies one of the two independent realtime sessions.
type Channel string

const (
	Messaging Channel = "messaging"
	Presence  Channel = "presence"
)

// Channels lists both channels in connect order.
var Channels = []Channel{Messaging, Presence}

// State is the lifecycle state of one channel.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Quality is the coarse liveness classification derived from heartbeat
// latency and inbound activity recency.
type Quality string

const (
	QualityExcellent    Quality = "excellent"
	QualityGood         Quality = "good"
	QualityPoor         Quality = "poor"
	QualityDisconnected Quality = "disconnected"
)

// Config holds the tunables for both channels.
type Config struct {
	MessagingURL string
	PresenceURL  string

	ConnectTimeout       time.Duration
	HeartbeatInterval    time.Duration
	PingTimeout          time.Duration
	BackoffBase          time.Duration
	BackoffMax           time.Duration
	MaxReconnectAttempts int
}

// DefaultConfig returns the production tunables for the given endpoints.
func DefaultConfig(messagingURL, presenceURL string) Config {
	return Config{
		MessagingURL:         messagingURL,
		PresenceURL:          presenceURL,
		ConnectTimeout:       10 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		PingTimeout:          10 * time.Second,
		BackoffBase:          time.Second,
		BackoffMax:           30 * time.Second,
		MaxReconnectAttempts: 8,
	}
}

type closeKind int

const (
	closeRetryable closeKind = iota
	closeTerminal
	closeAuthFatal
)

// classifyClose maps a close code and reason onto the retry decision:
// 1000/1001 are terminal, 1008 and the 4000-4099 range (or an auth/token
// reason) mean the credentials were rejected, everything else is retryable.
func classifyClose(code int, reason string) closeKind {
	switch code {
	case 1000, 1001:
		return closeTerminal
	}
	r := strings.ToLower(reason)
	if code == 1008 || (code >= 4000 && code <= 4099) ||
		strings.Contains(r, "auth") || strings.Contains(r, "token") {
		return closeAuthFatal
	}
	return closeRetryable
}
