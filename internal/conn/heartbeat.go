package conn

import (
	"time"

	"github.com/AdrenalinApprizal/chatlink/internal/wire"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Heartbeat: while the messaging channel is connected, a ping frame goes
// out every HeartbeatInterval carrying a correlation id and the client
// send time. Each ping gets its own timeout; an unanswered ping downgrades
// quality to poor. Pong latency drives the latency classification.

func (m *Manager) startHeartbeat() {
	// Schedule replaces any running tick, so a restart never doubles timers.
	m.sched.Schedule(timerKey(Messaging, "heartbeatTick"), m.cfg.HeartbeatInterval, m.heartbeatTick)
}

func (m *Manager) stopHeartbeat() {
	m.sched.Cancel(timerKey(Messaging, "heartbeatTick"))
	m.mu.Lock()
	for id := range m.pendingPings {
		m.sched.Cancel(timerKey(Messaging, "pingTimeout:"+id))
		delete(m.pendingPings, id)
	}
	m.mu.Unlock()
}

func (m *Manager) heartbeatTick() {
	m.mu.Lock()
	cs := m.channels[Messaging]
	if m.closed || cs.state != Connected || cs.sock == nil {
		m.mu.Unlock()
		return
	}
	sock := cs.sock
	id := uuid.NewString()
	sentAt := m.now().UnixMilli()
	m.pendingPings[id] = sentAt
	m.mu.Unlock()

	f, _ := wire.NewFrame(wire.TypePing, wire.PingPayload{ID: id, SentAt: sentAt})
	if err := m.writeFrame(sock, f); err != nil {
		m.noteSendError(Messaging, err)
	}

	m.sched.Schedule(timerKey(Messaging, "pingTimeout:"+id), m.cfg.PingTimeout, func() {
		m.pingTimedOut(id)
	})
	m.sched.Schedule(timerKey(Messaging, "heartbeatTick"), m.cfg.HeartbeatInterval, m.heartbeatTick)
}

func (m *Manager) pingTimedOut(id string) {
	m.mu.Lock()
	_, outstanding := m.pendingPings[id]
	if outstanding {
		delete(m.pendingPings, id)
	}
	m.mu.Unlock()

	if !outstanding {
		return
	}
	m.logger.Warn("heartbeat pong overdue", zap.String("ping_id", id))
	m.setQuality(QualityPoor)
}

func (m *Manager) handlePong(p wire.PongPayload) {
	m.mu.Lock()
	sentAt, outstanding := m.pendingPings[p.ID]
	if outstanding {
		delete(m.pendingPings, p.ID)
	}
	m.lastPong = m.now()
	nowMs := m.now().UnixMilli()
	m.mu.Unlock()

	m.sched.Cancel(timerKey(Messaging, "pingTimeout:"+p.ID))
	if !outstanding {
		return
	}
	if p.SentAt > 0 {
		sentAt = p.SentAt
	}
	latency := time.Duration(nowMs-sentAt) * time.Millisecond
	m.setQuality(classifyLatency(latency))
}

// PendingPings reports the number of unanswered heartbeat pings.
func (m *Manager) PendingPings() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pendingPings)
}
