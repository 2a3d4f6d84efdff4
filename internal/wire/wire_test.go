package wire

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNormalizeTimestampRFC3339(t *testing.T) {
	ts, ok := NormalizeTimestamp("2026-08-30T12:00:00Z")
	if !ok {
		t.Fatal("expected RFC3339 string to normalize")
	}
	if ts.UTC().Hour() != 12 {
		t.Errorf("hour = %d, want 12", ts.UTC().Hour())
	}
}

func TestNormalizeTimestampUnixSeconds(t *testing.T) {
	want := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	ts, ok := NormalizeTimestamp(float64(want.Unix()))
	if !ok {
		t.Fatal("expected unix seconds to normalize")
	}
	if !ts.Equal(want) {
		t.Errorf("got %v, want %v", ts, want)
	}
}

func TestNormalizeTimestampUnixMillis(t *testing.T) {
	want := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	ts, ok := NormalizeTimestamp(float64(want.UnixMilli()))
	if !ok {
		t.Fatal("expected unix millis to normalize")
	}
	if !ts.Equal(want) {
		t.Errorf("got %v, want %v", ts, want)
	}
}

func TestNormalizeTimestampNumericString(t *testing.T) {
	want := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	ts, ok := NormalizeTimestamp("1788091200") // seconds as string
	_ = want
	if !ok {
		t.Fatal("expected numeric string to normalize")
	}
	if ts.Year() < 2026 || ts.Year() > 2027 {
		t.Errorf("year = %d, want ~2026", ts.Year())
	}
}

func TestNormalizeTimestampRejectsGarbage(t *testing.T) {
	for _, v := range []any{nil, "", "not a time", float64(0), -5} {
		if _, ok := NormalizeTimestamp(v); ok {
			t.Errorf("NormalizeTimestamp(%v) = ok, want not ok", v)
		}
	}
}

func TestParseFrame(t *testing.T) {
	f, err := ParseFrame([]byte(`{"type":"message","data":{"id":"m1"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if f.Type != TypeMessage {
		t.Errorf("type = %q, want message", f.Type)
	}
}

func TestParseFrameRejectsMissingType(t *testing.T) {
	if _, err := ParseFrame([]byte(`{"data":{}}`)); err == nil {
		t.Error("expected error for frame without type")
	}
	if _, err := ParseFrame([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestParseStatusDefaultsUnknownToOffline(t *testing.T) {
	evt, err := ParseStatus(json.RawMessage(`{"user_id":"u1","status":"lurking"}`))
	if err != nil {
		t.Fatal(err)
	}
	if evt.Status != "offline" {
		t.Errorf("status = %q, want offline", evt.Status)
	}
}

func TestParseStatusNormalizesLastSeen(t *testing.T) {
	evt, err := ParseStatus(json.RawMessage(`{"user_id":"u1","status":"online","last_seen":1788091200}`))
	if err != nil {
		t.Fatal(err)
	}
	if evt.LastSeen == "" {
		t.Fatal("last_seen not normalized")
	}
	if _, err := time.Parse(time.RFC3339, evt.LastSeen); err != nil {
		t.Errorf("last_seen %q is not RFC3339: %v", evt.LastSeen, err)
	}
}

func TestParseStatusRequiresUserID(t *testing.T) {
	if _, err := ParseStatus(json.RawMessage(`{"status":"online"}`)); err == nil {
		t.Error("expected error for status frame without user_id")
	}
}

func TestMessageEventSentAtPrefersCreatedAt(t *testing.T) {
	m := MessageEvent{
		CreatedAt: "2026-08-30T10:00:00Z",
		Timestamp: "2026-08-30T11:00:00Z",
	}
	if got := m.SentAt().UTC().Hour(); got != 10 {
		t.Errorf("SentAt hour = %d, want 10 (created_at wins)", got)
	}
}

func TestMessageEventSentAtFallsBackToNow(t *testing.T) {
	m := MessageEvent{}
	if time.Since(m.SentAt()) > time.Minute {
		t.Error("SentAt with no fields should be near now")
	}
}

func TestReadEventIDs(t *testing.T) {
	r := ReadEvent{MessageID: "m1"}
	if ids := r.IDs(); len(ids) != 1 || ids[0] != "m1" {
		t.Errorf("IDs = %v, want [m1]", ids)
	}
	r = ReadEvent{MessageIDs: []string{"a", "b"}, MessageID: "ignored"}
	if ids := r.IDs(); len(ids) != 2 {
		t.Errorf("IDs = %v, want [a b]", ids)
	}
}
