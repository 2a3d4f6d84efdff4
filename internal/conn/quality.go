package conn

import (
	"time"

	"github.com/AdrenalinApprizal/chatlink/internal/bus"
)

const (
	latencyExcellent = 100 * time.Millisecond
	latencyGood      = 500 * time.Millisecond

	stalenessGood = 60 * time.Second
	stalenessPoor = 120 * time.Second
)

// classifyLatency maps a heartbeat round trip onto a quality bucket.
func classifyLatency(latency time.Duration) Quality {
	switch {
	case latency < latencyExcellent:
		return QualityExcellent
	case latency < latencyGood:
		return QualityGood
	default:
		return QualityPoor
	}
}

// assessStaleness derives quality from how long the channel has been
// silent: either clock past 120s is poor, past 60s is good, otherwise
// excellent.
func assessStaleness(sinceInbound, sincePong time.Duration) Quality {
	if sinceInbound > stalenessPoor || sincePong > stalenessPoor {
		return QualityPoor
	}
	if sinceInbound > stalenessGood || sincePong > stalenessGood {
		return QualityGood
	}
	return QualityExcellent
}

// setQuality is the single quality transition point. Re-asserting the
// current value never re-emits the change event.
func (m *Manager) setQuality(q Quality) {
	m.mu.Lock()
	if m.quality == q {
		m.mu.Unlock()
		return
	}
	m.quality = q
	m.mu.Unlock()
	m.bus.Emit(bus.KindQualityChanged, q)
}

// recomputeQuality re-derives quality from activity recency. A messaging
// channel that is not connected always reads as disconnected.
func (m *Manager) recomputeQuality() {
	m.mu.Lock()
	connected := m.channels[Messaging].state == Connected
	now := m.now()
	sinceInbound := now.Sub(m.lastInbound)
	sincePong := now.Sub(m.lastPong)
	m.mu.Unlock()

	if !connected {
		m.setQuality(QualityDisconnected)
		return
	}
	m.setQuality(assessStaleness(sinceInbound, sincePong))
}

// Quality returns the current connection quality.
func (m *Manager) CurrentQuality() Quality {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quality
}
