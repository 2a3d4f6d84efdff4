package conn

import (
	"testing"
	"time"
)

func TestClassifyClose(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		reason string
		want   closeKind
	}{
		{"normal closure", 1000, "", closeTerminal},
		{"going away", 1001, "", closeTerminal},
		{"abnormal closure", 1006, "", closeRetryable},
		{"server error", 1011, "internal error", closeRetryable},
		{"policy violation", 1008, "", closeAuthFatal},
		{"app auth code low", 4000, "", closeAuthFatal},
		{"app auth code high", 4099, "", closeAuthFatal},
		{"above auth range", 4100, "", closeRetryable},
		{"auth reason", 1011, "Auth check failed", closeAuthFatal},
		{"token reason", 1006, "invalid TOKEN", closeAuthFatal},
		{"unrelated reason", 1006, "load shedding", closeRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyClose(tt.code, tt.reason); got != tt.want {
				t.Errorf("classifyClose(%d, %q) = %v, want %v", tt.code, tt.reason, got, tt.want)
			}
		})
	}
}

func TestReconnectDelayBounds(t *testing.T) {
	base := time.Second
	max := 30 * time.Second
	for attempt := 0; attempt <= 12; attempt++ {
		d := ReconnectDelay(attempt, base, max)

		floor := base << attempt
		if floor > max || floor <= 0 {
			floor = max
		}
		ceil := floor + time.Duration(0.3*float64(floor))
		if d < floor || d > ceil {
			t.Errorf("attempt %d: delay %v outside [%v, %v]", attempt, d, floor, ceil)
		}
	}
}

func TestReconnectDelayCapped(t *testing.T) {
	// Large attempts must clip to max even when the shift overflows.
	d := ReconnectDelay(62, time.Second, 30*time.Second)
	if d > 39*time.Second {
		t.Errorf("delay = %v, want at most max plus jitter", d)
	}
}

func TestClassifyLatency(t *testing.T) {
	tests := []struct {
		latency time.Duration
		want    Quality
	}{
		{10 * time.Millisecond, QualityExcellent},
		{99 * time.Millisecond, QualityExcellent},
		{100 * time.Millisecond, QualityGood},
		{499 * time.Millisecond, QualityGood},
		{500 * time.Millisecond, QualityPoor},
		{2 * time.Second, QualityPoor},
	}
	for _, tt := range tests {
		if got := classifyLatency(tt.latency); got != tt.want {
			t.Errorf("classifyLatency(%v) = %s, want %s", tt.latency, got, tt.want)
		}
	}
}

func TestAssessStaleness(t *testing.T) {
	tests := []struct {
		name         string
		sinceInbound time.Duration
		sincePong    time.Duration
		want         Quality
	}{
		{"fresh", 5 * time.Second, 5 * time.Second, QualityExcellent},
		{"inbound stale", 61 * time.Second, 5 * time.Second, QualityGood},
		{"pong stale", 5 * time.Second, 61 * time.Second, QualityGood},
		{"inbound very stale", 121 * time.Second, 5 * time.Second, QualityPoor},
		{"pong very stale", 5 * time.Second, 121 * time.Second, QualityPoor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := assessStaleness(tt.sinceInbound, tt.sincePong); got != tt.want {
				t.Errorf("assessStaleness(%v, %v) = %s, want %s", tt.sinceInbound, tt.sincePong, got, tt.want)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	if Connected.String() != "connected" || Disconnected.String() != "disconnected" {
		t.Error("state strings do not match wire values")
	}
	if Connecting.String() != "connecting" || Closing.String() != "closing" {
		t.Error("state strings do not match wire values")
	}
}
