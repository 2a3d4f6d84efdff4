package conn

import (
	"encoding/json"

	"github.com/AdrenalinApprizal/chatlink/internal/bus"
	"github.com/AdrenalinApprizal/chatlink/internal/wire"
	"go.uber.org/zap"
)

// handleFrame decodes one inbound frame and routes it by type. Malformed
// frames are logged and dropped with a quality downgrade; the session
// stays up. Nothing here may panic out of the read loop.
func (m *Manager) handleFrame(ch Channel, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic in frame dispatch",
				zap.String("channel", string(ch)),
				zap.Any("panic", r))
		}
	}()

	f, err := wire.ParseFrame(data)
	if err != nil {
		m.logger.Warn("dropping malformed frame",
			zap.String("channel", string(ch)),
			zap.Error(err))
		m.setQuality(QualityPoor)
		return
	}

	m.mu.Lock()
	m.lastInbound = m.now()
	m.mu.Unlock()

	// Pong short-circuits: it feeds the heartbeat, not the dispatcher, and
	// its own latency classification supersedes the staleness rule.
	if f.Type == wire.TypePong {
		var p wire.PongPayload
		if err := json.Unmarshal(f.Data, &p); err != nil || p.ID == "" {
			m.logger.Warn("dropping malformed pong", zap.Error(err))
			return
		}
		m.handlePong(p)
		return
	}

	m.recomputeQuality()

	switch f.Type {
	case wire.TypePing:
		m.answerPing(ch, f.Data)

	case wire.TypeMessage:
		var evt wire.MessageEvent
		if err := json.Unmarshal(f.Data, &evt); err != nil {
			m.logger.Warn("dropping malformed message frame", zap.Error(err))
			return
		}
		m.handler.HandleMessage(&evt)

	case wire.TypeTyping, wire.TypeStopTyping:
		var evt wire.TypingEvent
		if err := json.Unmarshal(f.Data, &evt); err != nil {
			m.logger.Warn("dropping malformed typing frame", zap.Error(err))
			return
		}
		evt.Typing = f.Type == wire.TypeTyping
		m.bus.Emit(bus.KindTypingChanged, evt)

	case wire.TypeRead:
		var evt wire.ReadEvent
		if err := json.Unmarshal(f.Data, &evt); err != nil {
			m.logger.Warn("dropping malformed read receipt", zap.Error(err))
			return
		}
		m.handler.HandleRead(evt.IDs(), evt.ReaderID)

	case wire.TypeUnread:
		m.bus.Emit(bus.KindUnreadUpdated, json.RawMessage(f.Data))

	case wire.TypeReaction:
		m.bus.Emit(bus.KindMessageReaction, json.RawMessage(f.Data))

	case wire.TypeStatus:
		evt, err := wire.ParseStatus(f.Data)
		if err != nil {
			m.logger.Warn("dropping malformed status frame", zap.Error(err))
			return
		}
		m.bus.Emit(bus.KindPresenceChanged, *evt)

	case wire.TypeError:
		var evt wire.ErrorEvent
		_ = json.Unmarshal(f.Data, &evt)
		m.logger.Error("server error frame",
			zap.String("channel", string(ch)),
			zap.String("message", evt.Message))
		m.bus.Emit(bus.KindConnError, evt.Message)

	default:
		m.logger.Debug("ignoring unknown frame type",
			zap.String("channel", string(ch)),
			zap.String("type", f.Type))
	}
}

// answerPing echoes a server-initiated ping back as a pong.
func (m *Manager) answerPing(ch Channel, data json.RawMessage) {
	m.mu.Lock()
	sock := m.channels[ch].sock
	m.mu.Unlock()
	if sock == nil {
		return
	}
	var p wire.PingPayload
	_ = json.Unmarshal(data, &p)
	f, _ := wire.NewFrame(wire.TypePong, wire.PongPayload{ID: p.ID, SentAt: p.SentAt})
	if err := m.writeFrame(sock, f); err != nil {
		m.noteSendError(ch, err)
	}
}
