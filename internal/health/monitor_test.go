package health

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/AdrenalinApprizal/chatlink/internal/conn"
)

type fakeSource struct {
	mu     sync.Mutex
	snap   conn.Snapshot
	forced int
}

func (s *fakeSource) Snapshot() conn.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *fakeSource) ForceReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forced++
}

func (s *fakeSource) forceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forced
}

type alwaysAuth struct{}

func (alwaysAuth) Token() string                   { return "tok" }
func (alwaysAuth) UserID() string                  { return "u-self" }
func (alwaysAuth) IsAuthenticated() bool           { return true }
func (alwaysAuth) Refresh(context.Context) error   { return nil }
func (alwaysAuth) HandleAuthError(context.Context) {}

func healthySnapshot(now time.Time) conn.Snapshot {
	return conn.Snapshot{
		Channels: map[conn.Channel]conn.ChannelStatus{
			conn.Messaging: {Channel: conn.Messaging, State: "connected", Connected: true, SocketOpen: true},
			conn.Presence:  {Channel: conn.Presence, State: "connected", Connected: true, SocketOpen: true},
		},
		Quality:     conn.QualityExcellent,
		LastInbound: now.Add(-10 * time.Second),
	}
}

func newTestMonitor(src *fakeSource) *Monitor {
	return NewMonitor(src, alwaysAuth{}, zap.NewNop())
}

func hasIssue(rep *Report, sub string) bool {
	for _, issue := range rep.Issues {
		if strings.Contains(issue, sub) {
			return true
		}
	}
	return false
}

func TestHealthyCheckHasNoIssues(t *testing.T) {
	now := time.Now()
	src := &fakeSource{snap: healthySnapshot(now)}
	m := newTestMonitor(src)
	m.now = func() time.Time { return now }

	rep := m.Check()
	if len(rep.Issues) != 0 {
		t.Errorf("issues = %v, want none", rep.Issues)
	}
	if rep.ForcedReconnect || src.forceCount() != 0 {
		t.Error("healthy session must not force a reconnect")
	}
	if m.Last() != rep {
		t.Error("Last() does not return the latest report")
	}
}

func TestDisconnectedChannelReported(t *testing.T) {
	now := time.Now()
	snap := healthySnapshot(now)
	snap.Channels[conn.Presence] = conn.ChannelStatus{Channel: conn.Presence, State: "disconnected"}
	src := &fakeSource{snap: snap}
	m := newTestMonitor(src)
	m.now = func() time.Time { return now }

	rep := m.Check()
	if !hasIssue(rep, "presence channel disconnected") {
		t.Errorf("issues = %v", rep.Issues)
	}
	if rep.ForcedReconnect {
		t.Error("a plainly disconnected channel reconnects via backoff, not force")
	}
}

func TestStateSocketDisagreementForcesReconnect(t *testing.T) {
	now := time.Now()
	snap := healthySnapshot(now)
	snap.Channels[conn.Messaging] = conn.ChannelStatus{
		Channel: conn.Messaging, State: "connected", Connected: true, SocketOpen: false,
	}
	src := &fakeSource{snap: snap}
	m := newTestMonitor(src)
	m.now = func() time.Time { return now }

	rep := m.Check()
	if !hasIssue(rep, "socket is closed") {
		t.Errorf("issues = %v", rep.Issues)
	}
	if !rep.ForcedReconnect {
		t.Error("state/socket disagreement must force a reconnect")
	}
	waitForce(t, src, 1)
}

func TestPendingHeartbeatThresholds(t *testing.T) {
	now := time.Now()

	snap := healthySnapshot(now)
	snap.PendingPings = 4
	src := &fakeSource{snap: snap}
	m := newTestMonitor(src)
	m.now = func() time.Time { return now }
	rep := m.Check()
	if !hasIssue(rep, "heartbeats outstanding") {
		t.Errorf("issues = %v", rep.Issues)
	}
	if rep.ForcedReconnect {
		t.Error("4 outstanding pings warns but does not force")
	}

	snap.PendingPings = 6
	src2 := &fakeSource{snap: snap}
	m2 := newTestMonitor(src2)
	m2.now = func() time.Time { return now }
	rep2 := m2.Check()
	if !rep2.ForcedReconnect {
		t.Error("6 outstanding pings must force a reconnect")
	}
	waitForce(t, src2, 1)
}

func TestQueueDepthIssues(t *testing.T) {
	now := time.Now()

	snap := healthySnapshot(now)
	snap.QueueDepth = 3
	src := &fakeSource{snap: snap}
	m := newTestMonitor(src)
	m.now = func() time.Time { return now }
	rep := m.Check()
	if !hasIssue(rep, "3 messages queued") {
		t.Errorf("issues = %v", rep.Issues)
	}
	if hasIssue(rep, "delayed") {
		t.Error("small queue is not a delay warning")
	}

	snap.QueueDepth = 15
	src2 := &fakeSource{snap: snap}
	m2 := newTestMonitor(src2)
	m2.now = func() time.Time { return now }
	rep2 := m2.Check()
	if !hasIssue(rep2, "delayed") {
		t.Errorf("issues = %v", rep2.Issues)
	}
	if rep2.ForcedReconnect {
		t.Error("queue depth alone never forces a reconnect")
	}
}

func TestSilenceThresholds(t *testing.T) {
	now := time.Now()

	snap := healthySnapshot(now)
	snap.LastInbound = now.Add(-6 * time.Minute)
	src := &fakeSource{snap: snap}
	m := newTestMonitor(src)
	m.now = func() time.Time { return now }
	rep := m.Check()
	if !hasIssue(rep, "no inbound activity") {
		t.Errorf("issues = %v", rep.Issues)
	}
	if rep.ForcedReconnect {
		t.Error("6 minutes of silence warns but does not force")
	}

	snap.LastInbound = now.Add(-11 * time.Minute)
	src2 := &fakeSource{snap: snap}
	m2 := newTestMonitor(src2)
	m2.now = func() time.Time { return now }
	rep2 := m2.Check()
	if !rep2.ForcedReconnect {
		t.Error("11 minutes of silence must force a reconnect")
	}
	waitForce(t, src2, 1)
}

func TestSilenceIgnoredWhileDisconnected(t *testing.T) {
	now := time.Now()
	snap := healthySnapshot(now)
	snap.Channels[conn.Messaging] = conn.ChannelStatus{Channel: conn.Messaging, State: "disconnected"}
	snap.LastInbound = now.Add(-time.Hour)
	src := &fakeSource{snap: snap}
	m := newTestMonitor(src)
	m.now = func() time.Time { return now }

	rep := m.Check()
	if hasIssue(rep, "no inbound activity") {
		t.Error("silence only counts while the messaging channel is connected")
	}
}

func TestPoorQualityReported(t *testing.T) {
	now := time.Now()
	snap := healthySnapshot(now)
	snap.Quality = conn.QualityPoor
	src := &fakeSource{snap: snap}
	m := newTestMonitor(src)
	m.now = func() time.Time { return now }

	rep := m.Check()
	if !hasIssue(rep, "quality poor") {
		t.Errorf("issues = %v", rep.Issues)
	}
}

func waitForce(t *testing.T, src *fakeSource, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if src.forceCount() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("ForceReconnect calls = %d, want %d", src.forceCount(), want)
}
