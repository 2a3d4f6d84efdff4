package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/AdrenalinApprizal/chatlink/internal/auth"
	"github.com/AdrenalinApprizal/chatlink/internal/bus"
	"github.com/AdrenalinApprizal/chatlink/internal/messages"
	"github.com/AdrenalinApprizal/chatlink/internal/queue"
	"github.com/AdrenalinApprizal/chatlink/internal/wire"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errNotConnected = errors.New("messaging channel not connected")

// InboundHandler consumes decoded chat-message and read-receipt frames.
// The reconciler implements it.
type InboundHandler interface {
	HandleMessage(evt *wire.MessageEvent)
	HandleRead(ids []string, readerID string)
}

// StateChange is the bus payload for channel state transitions.
type StateChange struct {
	Channel Channel
	State   string
}

// ChannelStatus is the externally visible state of one channel.
type ChannelStatus struct {
	Channel    Channel `json:"channel"`
	State      string  `json:"state"`
	Connected  bool    `json:"connected"`
	SocketOpen bool    `json:"socket_open"`
	Attempts   int     `json:"reconnect_attempts"`
	LastError  string  `json:"last_error,omitempty"`
}

// Snapshot is a point-in-time view of the manager for health checks and
// the control API.
type Snapshot struct {
	Channels      map[Channel]ChannelStatus `json:"channels"`
	Quality       Quality                   `json:"quality"`
	PendingPings  int                       `json:"pending_pings"`
	QueueDepth    int                       `json:"queue_depth"`
	LastInbound   time.Time                 `json:"last_inbound"`
	Subscriptions []string                  `json:"subscriptions"`
}

type channelState struct {
	state     State
	sock      Socket
	sockOpen  bool // false once a read or write proves the socket dead
	attempts  int
	epoch     uint64
	lastError string
}

// Manager owns both realtime sessions. Each channel runs an independent
// state machine with its own reconnect counter; the messaging channel
// additionally carries the heartbeat and the outbound queue flush.
type Manager struct {
	cfg     Config
	auth    auth.Authenticator
	bus     *bus.Bus
	queue   *queue.Queue
	store   *messages.Store
	handler InboundHandler
	dialer  Dialer
	sched   *Scheduler
	logger  *zap.Logger

	now func() time.Time

	mu           sync.Mutex
	channels     map[Channel]*channelState
	quality      Quality
	pendingPings map[string]int64 // ping id -> sent-at unix millis
	subs         map[string]struct{}
	lastInbound  time.Time
	lastPong     time.Time
	closed       bool
}

// NewManager wires a manager. The handler receives decoded chat frames;
// the dialer is injectable for tests.
func NewManager(cfg Config, a auth.Authenticator, b *bus.Bus, q *queue.Queue, store *messages.Store, h InboundHandler, d Dialer, logger *zap.Logger) *Manager {
	m := &Manager{
		cfg:          cfg,
		auth:         a,
		bus:          b,
		queue:        q,
		store:        store,
		handler:      h,
		dialer:       d,
		sched:        NewScheduler(),
		logger:       logger,
		now:          time.Now,
		channels:     make(map[Channel]*channelState),
		quality:      QualityDisconnected,
		pendingPings: make(map[string]int64),
		subs:         make(map[string]struct{}),
	}
	for _, ch := range Channels {
		m.channels[ch] = &channelState{}
	}
	return m
}

// Connect opens both channels.
func (m *Manager) Connect(ctx context.Context) {
	for _, ch := range Channels {
		m.ConnectChannel(ctx, ch)
	}
}

// ConnectChannel opens one channel. No-op while the channel is already
// connecting or connected, or when no bearer token is available.
func (m *Manager) ConnectChannel(ctx context.Context, ch Channel) {
	if !m.auth.IsAuthenticated() {
		m.logger.Warn("connect skipped, not authenticated", zap.String("channel", string(ch)))
		return
	}

	m.mu.Lock()
	cs := m.channels[ch]
	if m.closed || cs.state == Connecting || cs.state == Connected {
		m.mu.Unlock()
		return
	}
	cs.state = Connecting
	cs.epoch++
	epoch := cs.epoch
	m.mu.Unlock()

	m.emitState(ch, Connecting)
	go m.dial(ctx, ch, epoch)
}

// dial performs the handshake. Browsers cannot attach headers to WebSocket
// upgrades, so the backend authenticates via a token query parameter; the
// daemon speaks the same handshake.
func (m *Manager) dial(ctx context.Context, ch Channel, epoch uint64) {
	target, err := m.channelURL(ch)
	if err != nil {
		m.logger.Error("bad channel URL", zap.String("channel", string(ch)), zap.Error(err))
		m.handleClose(ch, epoch, 1006, err.Error())
		return
	}

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Connect timeout: force-abort the handshake if open never happens.
	key := timerKey(ch, "connectTimeout")
	m.sched.Schedule(key, m.cfg.ConnectTimeout, cancel)

	sock, err := m.dialer.Dial(dialCtx, target)
	m.sched.Cancel(key)
	if err != nil {
		reason := err.Error()
		if dialCtx.Err() != nil && ctx.Err() == nil {
			reason = "timeout"
		}
		m.logger.Warn("dial failed", zap.String("channel", string(ch)), zap.String("reason", reason))
		m.handleClose(ch, epoch, 1006, reason)
		return
	}
	m.handleOpen(ch, epoch, sock)
}

func (m *Manager) channelURL(ch Channel) (string, error) {
	raw := m.cfg.MessagingURL
	if ch == Presence {
		raw = m.cfg.PresenceURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse %s URL: %w", ch, err)
	}
	q := u.Query()
	q.Set("token", m.auth.Token())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (m *Manager) handleOpen(ch Channel, epoch uint64, sock Socket) {
	m.mu.Lock()
	cs := m.channels[ch]
	if m.closed || cs.epoch != epoch {
		m.mu.Unlock()
		_ = sock.Close(1000, "stale connection")
		return
	}
	cs.sock = sock
	cs.sockOpen = true
	cs.state = Connected
	cs.attempts = 0
	cs.lastError = ""
	now := m.now()
	m.lastInbound = now
	m.lastPong = now
	m.mu.Unlock()

	m.logger.Info("channel connected", zap.String("channel", string(ch)))
	m.emitState(ch, Connected)
	m.setQuality(QualityExcellent)

	switch ch {
	case Messaging:
		m.startHeartbeat()
		m.requestUnreadCounts(sock)
		go m.flushQueue()
	case Presence:
		m.resendSubscriptions(sock)
	}

	go m.readLoop(ch, epoch, sock)
}

func (m *Manager) readLoop(ch Channel, epoch uint64, sock Socket) {
	for {
		data, err := sock.ReadMessage()
		if err != nil {
			code, reason := closeInfo(err)
			m.handleClose(ch, epoch, code, reason)
			return
		}
		m.handleFrame(ch, data)
	}
}

// handleClose is the single exit point of a session. Socket errors never
// reconnect on their own; only the close path does, so one failure never
// produces two reconnect attempts.
func (m *Manager) handleClose(ch Channel, epoch uint64, code int, reason string) {
	m.mu.Lock()
	cs := m.channels[ch]
	if cs.epoch != epoch || cs.state == Disconnected || cs.state == Closing {
		// Stale close from a torn-down session.
		m.mu.Unlock()
		return
	}
	sock := cs.sock
	cs.sock = nil
	cs.sockOpen = false
	cs.lastError = reason
	// A live socket gets torn down in the closing state; a failed dial has
	// nothing to tear down and drops straight to disconnected.
	closing := sock != nil
	if closing {
		cs.state = Closing
	} else {
		cs.state = Disconnected
	}
	closed := m.closed
	m.mu.Unlock()

	m.sched.CancelPrefix(string(ch) + ":")
	if ch == Messaging {
		m.stopHeartbeat()
	}
	if closing {
		m.emitState(ch, Closing)
		_ = sock.Close(1000, "")

		m.mu.Lock()
		if cs.epoch != epoch {
			// A forced reconnect or shutdown superseded this teardown.
			m.mu.Unlock()
			return
		}
		cs.state = Disconnected
		closed = m.closed
		m.mu.Unlock()
	}

	m.logger.Warn("channel closed",
		zap.String("channel", string(ch)),
		zap.Int("code", code),
		zap.String("reason", reason))
	m.emitState(ch, Disconnected)
	if ch == Messaging {
		m.setQuality(QualityDisconnected)
	}

	if closed {
		return
	}

	switch classifyClose(code, reason) {
	case closeTerminal:
		m.logger.Info("terminal close, not reconnecting", zap.String("channel", string(ch)))
	case closeAuthFatal:
		m.recoverAuth(ch)
	default:
		m.scheduleReconnect(ch)
	}
}

// recoverAuth runs the single-refresh recovery path: one token refresh,
// then either resume connecting or log the session out. Never loops.
func (m *Manager) recoverAuth(ch Channel) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		m.logger.Warn("auth-classified close, attempting token refresh", zap.String("channel", string(ch)))
		if err := m.auth.Refresh(ctx); err != nil || !m.auth.IsAuthenticated() {
			if err != nil {
				m.logger.Error("token refresh failed", zap.Error(err))
			}
			m.auth.HandleAuthError(ctx)
			return
		}
		m.ConnectChannel(context.Background(), ch)
	}()
}

// ReconnectDelay computes the backoff for reconnect attempt n (0-based):
// base*2^n clipped to max, plus up to 30% random jitter.
func ReconnectDelay(attempt int, base, max time.Duration) time.Duration {
	d := base << attempt
	if d > max || d <= 0 {
		d = max
	}
	jitter := time.Duration(rand.Float64() * 0.3 * float64(d))
	return d + jitter
}

func (m *Manager) scheduleReconnect(ch Channel) {
	m.mu.Lock()
	cs := m.channels[ch]
	if m.closed {
		m.mu.Unlock()
		return
	}
	cs.attempts++
	attempt := cs.attempts
	m.mu.Unlock()

	if attempt > m.cfg.MaxReconnectAttempts {
		msg := fmt.Sprintf("%s channel failed after %d reconnect attempts", ch, m.cfg.MaxReconnectAttempts)
		m.logger.Error(msg)
		m.bus.Emit(bus.KindConnError, msg)
		return
	}

	delay := ReconnectDelay(attempt-1, m.cfg.BackoffBase, m.cfg.BackoffMax)
	m.logger.Info("scheduling reconnect",
		zap.String("channel", string(ch)),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay))

	m.sched.Schedule(timerKey(ch, "reconnect"), delay, func() {
		// Re-check: another path may have reconnected the channel already.
		m.mu.Lock()
		state := m.channels[ch].state
		m.mu.Unlock()
		if state != Disconnected {
			return
		}
		m.ConnectChannel(context.Background(), ch)
	})
}

// ForceReconnect tears both channels down, resets their attempt counters
// and reconnects immediately. Manual recovery path for the health monitor
// and the control API.
func (m *Manager) ForceReconnect() {
	for _, ch := range Channels {
		m.forceReconnectChannel(ch)
	}
}

func (m *Manager) forceReconnectChannel(ch Channel) {
	m.mu.Lock()
	cs := m.channels[ch]
	cs.epoch++ // orphan the running read loop and its close event
	cs.attempts = 0
	sock := cs.sock
	cs.sock = nil
	cs.sockOpen = false
	wasConnected := cs.state == Connected || cs.state == Connecting
	cs.state = Disconnected
	m.mu.Unlock()

	m.sched.CancelPrefix(string(ch) + ":")
	if ch == Messaging {
		m.stopHeartbeat()
	}
	if sock != nil {
		_ = sock.Close(1000, "reconnect")
	}
	if wasConnected {
		m.emitState(ch, Disconnected)
	}
	m.ConnectChannel(context.Background(), ch)
}

// Close tears everything down for shutdown. No reconnects fire afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	var socks []Socket
	for _, cs := range m.channels {
		cs.epoch++
		if cs.sock != nil {
			socks = append(socks, cs.sock)
			cs.sock = nil
		}
		cs.sockOpen = false
		cs.state = Disconnected
	}
	m.pendingPings = make(map[string]int64)
	m.mu.Unlock()

	m.sched.CancelAll()
	for _, s := range socks {
		_ = s.Close(1000, "client shutdown")
	}
	m.logger.Info("connection manager closed")
}

// SendChat creates the optimistic local message, then either writes the
// frame directly or queues it and triggers a connect attempt.
func (m *Manager) SendChat(recipientID, content string) (*messages.ChatMessage, error) {
	if content == "" || recipientID == "" {
		return nil, fmt.Errorf("recipient and content are required")
	}

	now := m.now()
	temp := &messages.ChatMessage{
		ID:            "temp-" + uuid.NewString(),
		SenderID:      m.auth.UserID(),
		RecipientID:   recipientID,
		Content:       content,
		Type:          "text",
		CreatedAt:     now.UTC().Format(time.RFC3339),
		RawTimestamp:  now.UTC().Format(time.RFC3339),
		Timestamp:     wire.DisplayTimestamp(now),
		Pending:       true,
		IsCurrentUser: true,
	}
	m.store.Append(temp)
	m.bus.Emit(bus.KindMessageReceived, *temp)

	qm := queue.Message{
		Type:        wire.TypeMessage,
		ID:          temp.ID,
		SenderID:    temp.SenderID,
		RecipientID: recipientID,
		Content:     content,
	}
	if err := m.sendNow(qm); err != nil {
		m.queue.Enqueue(qm)
		// Sending while disconnected kicks off a connect attempt so the
		// queued message goes out as soon as the channel opens.
		m.ConnectChannel(context.Background(), Messaging)
	}
	return temp, nil
}

// SendTyping sends (or queues) a typing indicator for the recipient.
func (m *Manager) SendTyping(recipientID string, typing bool) {
	t := wire.TypeTyping
	if !typing {
		t = wire.TypeStopTyping
	}
	qm := queue.Message{
		Type:        t,
		SenderID:    m.auth.UserID(),
		RecipientID: recipientID,
	}
	if err := m.sendNow(qm); err != nil {
		m.queue.Enqueue(qm)
	}
}

// sendNow writes a queued-message shape straight to the messaging socket.
func (m *Manager) sendNow(qm queue.Message) error {
	m.mu.Lock()
	cs := m.channels[Messaging]
	sock := cs.sock
	connected := cs.state == Connected
	m.mu.Unlock()

	if !connected || sock == nil {
		return errNotConnected
	}
	if err := m.writeFrame(sock, frameFor(qm)); err != nil {
		m.noteSendError(Messaging, err)
		return err
	}
	return nil
}

func frameFor(qm queue.Message) wire.Frame {
	var payload any
	switch qm.Type {
	case wire.TypeTyping, wire.TypeStopTyping:
		payload = wire.TypingPayload{UserID: qm.SenderID, RecipientID: qm.RecipientID}
	default:
		payload = wire.ChatPayload{
			ID:          qm.ID,
			SenderID:    qm.SenderID,
			RecipientID: qm.RecipientID,
			Content:     qm.Content,
		}
	}
	f, _ := wire.NewFrame(qm.Type, payload)
	return f
}

// flushQueue replays the outbound queue through the live socket.
func (m *Manager) flushQueue() {
	m.queue.Flush(func(qm queue.Message) error {
		m.mu.Lock()
		cs := m.channels[Messaging]
		sock := cs.sock
		connected := cs.state == Connected
		m.mu.Unlock()
		if !connected || sock == nil {
			return errNotConnected
		}
		return m.writeFrame(sock, frameFor(qm))
	})
}

// noteSendError records a socket-level write failure without touching the
// state machine: only closes drive reconnects. The socket is marked dead
// so the next health check can see the state disagree with it.
func (m *Manager) noteSendError(ch Channel, err error) {
	m.mu.Lock()
	cs := m.channels[ch]
	cs.lastError = err.Error()
	cs.sockOpen = false
	m.mu.Unlock()
	m.logger.Warn("socket write failed", zap.String("channel", string(ch)), zap.Error(err))
	if ch == Messaging {
		m.setQuality(QualityPoor)
	}
}

func (m *Manager) writeFrame(sock Socket, f wire.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return sock.WriteMessage(data)
}

func (m *Manager) writeJSON(sock Socket, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return sock.WriteMessage(data)
}

// Subscribe registers a presence channel subscription; it is re-issued
// after every presence reconnect. Idempotent.
func (m *Manager) Subscribe(channel string) {
	m.mu.Lock()
	m.subs[channel] = struct{}{}
	cs := m.channels[Presence]
	sock := cs.sock
	connected := cs.state == Connected
	m.mu.Unlock()

	if connected && sock != nil {
		if err := m.writeJSON(sock, wire.Subscribe(channel)); err != nil {
			m.logger.Warn("subscribe failed", zap.String("channel", channel), zap.Error(err))
		}
	}
}

func (m *Manager) resendSubscriptions(sock Socket) {
	m.mu.Lock()
	subs := make([]string, 0, len(m.subs))
	for s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	// One failed write must not starve the rest of the set; each
	// subscription gets its own attempt.
	for _, s := range subs {
		if err := m.writeJSON(sock, wire.Subscribe(s)); err != nil {
			m.logger.Warn("resubscribe failed", zap.String("channel", s), zap.Error(err))
		}
	}
}

func (m *Manager) requestUnreadCounts(sock Socket) {
	f, _ := wire.NewFrame(wire.TypeUnread, nil)
	if err := m.writeFrame(sock, f); err != nil {
		m.logger.Warn("unread count request failed", zap.Error(err))
	}
}

func (m *Manager) emitState(ch Channel, s State) {
	m.bus.Emit(bus.KindStateChanged, StateChange{Channel: ch, State: s.String()})
}

// State returns the current state of one channel.
func (m *Manager) State(ch Channel) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channels[ch].state
}

// Snapshot captures the manager state for health checks and the API.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	chans := make(map[Channel]ChannelStatus, len(m.channels))
	for ch, cs := range m.channels {
		chans[ch] = ChannelStatus{
			Channel:    ch,
			State:      cs.state.String(),
			Connected:  cs.state == Connected,
			SocketOpen: cs.sockOpen,
			Attempts:   cs.attempts,
			LastError:  cs.lastError,
		}
	}
	subs := make([]string, 0, len(m.subs))
	for s := range m.subs {
		subs = append(subs, s)
	}
	return Snapshot{
		Channels:      chans,
		Quality:       m.quality,
		PendingPings:  len(m.pendingPings),
		QueueDepth:    m.queue.Len(),
		LastInbound:   m.lastInbound,
		Subscriptions: subs,
	}
}
