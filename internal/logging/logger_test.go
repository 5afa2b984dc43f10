package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestLevelFromString(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"chatty":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := levelFromString(in).Level(); got != want {
			t.Errorf("levelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWritesServiceField(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info", "booking-api").Info("booking created", "booking_id", "b1")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["service"] != "booking-api" || rec["booking_id"] != "b1" || rec["msg"] != "booking created" {
		t.Fatalf("unexpected record %v", rec)
	}
	buf.Reset()
	New(&buf, "warn", "").Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info record written at warn level")
	}
}
