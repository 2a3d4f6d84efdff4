// Package health runs the periodic self-diagnostic over the realtime
// connection state and schedules forced reconnects when the session looks
// wedged.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AdrenalinApprizal/chatlink/internal/auth"
	"github.com/AdrenalinApprizal/chatlink/internal/conn"
	"go.uber.org/zap"
)

const (
	// DefaultInterval is how often the monitor inspects the session.
	DefaultInterval = 60 * time.Second

	pendingPingWarn     = 3
	pendingPingCritical = 5
	queueDelayed        = 10
	silenceWarn         = 5 * time.Minute
	silenceCritical     = 10 * time.Minute
)

// Source is the view of the connection manager the monitor inspects.
type Source interface {
	Snapshot() conn.Snapshot
	ForceReconnect()
}

// ChannelHealth is one channel's entry in a report.
type ChannelHealth struct {
	Connected  bool   `json:"connected"`
	State      string `json:"state"`
	SocketOpen bool   `json:"socket_open"`
}

// Report is one health check result.
type Report struct {
	CheckedAt         time.Time                      `json:"checked_at"`
	Channels          map[conn.Channel]ChannelHealth `json:"channels"`
	PendingHeartbeats int                            `json:"pending_heartbeats"`
	QueueDepth        int                            `json:"queue_depth"`
	Quality           conn.Quality                   `json:"quality"`
	Silence           time.Duration                  `json:"silence_ms"`
	Issues            []string                       `json:"issues,omitempty"`
	ForcedReconnect   bool                           `json:"forced_reconnect"`
}

// Monitor periodically inspects the session while it is authenticated.
type Monitor struct {
	mgr      Source
	auth     auth.Authenticator
	logger   *zap.Logger
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	last   *Report
	cancel context.CancelFunc
}

// NewMonitor creates a monitor over the given connection manager.
func NewMonitor(mgr Source, a auth.Authenticator, logger *zap.Logger) *Monitor {
	return &Monitor{
		mgr:      mgr,
		auth:     a,
		logger:   logger,
		interval: DefaultInterval,
		now:      time.Now,
	}
}

// Start begins the periodic checks.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go m.loop(ctx)
}

// Stop halts the periodic checks.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !m.auth.IsAuthenticated() {
				continue
			}
			m.Check()
		case <-ctx.Done():
			return
		}
	}
}

// Last returns the most recent report, or nil before the first check.
func (m *Monitor) Last() *Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Check runs one diagnostic pass. It never blocks on recovery: a forced
// reconnect is scheduled, not awaited.
func (m *Monitor) Check() *Report {
	snap := m.mgr.Snapshot()
	now := m.now()

	rep := &Report{
		CheckedAt:         now,
		Channels:          make(map[conn.Channel]ChannelHealth, len(snap.Channels)),
		PendingHeartbeats: snap.PendingPings,
		QueueDepth:        snap.QueueDepth,
		Quality:           snap.Quality,
	}
	if !snap.LastInbound.IsZero() {
		rep.Silence = now.Sub(snap.LastInbound)
	}

	force := false
	for ch, cs := range snap.Channels {
		rep.Channels[ch] = ChannelHealth{
			Connected:  cs.Connected,
			State:      cs.State,
			SocketOpen: cs.SocketOpen,
		}
		if !cs.Connected {
			rep.Issues = append(rep.Issues, fmt.Sprintf("%s channel disconnected", ch))
		}
		if cs.Connected && !cs.SocketOpen {
			// Recorded state disagrees with the actual socket.
			rep.Issues = append(rep.Issues, fmt.Sprintf("%s channel marked connected but socket is closed", ch))
			force = true
		}
	}

	if rep.PendingHeartbeats > pendingPingWarn {
		rep.Issues = append(rep.Issues, fmt.Sprintf("%d heartbeats outstanding", rep.PendingHeartbeats))
	}
	if rep.PendingHeartbeats > pendingPingCritical {
		force = true
	}

	if rep.QueueDepth > queueDelayed {
		rep.Issues = append(rep.Issues, fmt.Sprintf("outbound messages may be delayed (%d queued)", rep.QueueDepth))
	} else if rep.QueueDepth > 0 {
		rep.Issues = append(rep.Issues, fmt.Sprintf("%d messages queued", rep.QueueDepth))
	}

	if rep.Quality == conn.QualityPoor {
		rep.Issues = append(rep.Issues, "connection quality poor")
	}

	messaging := snap.Channels[conn.Messaging]
	if messaging.Connected && rep.Silence > silenceWarn {
		rep.Issues = append(rep.Issues, fmt.Sprintf("no inbound activity for %s", rep.Silence.Round(time.Second)))
		if rep.Silence > silenceCritical {
			force = true
		}
	}

	if force {
		rep.ForcedReconnect = true
		m.logger.Warn("health check forcing reconnect", zap.Strings("issues", rep.Issues))
		go m.mgr.ForceReconnect()
	} else if len(rep.Issues) > 0 {
		m.logger.Info("health check found issues", zap.Strings("issues", rep.Issues))
	}

	m.mu.Lock()
	m.last = rep
	m.mu.Unlock()
	return rep
}
