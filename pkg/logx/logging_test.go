package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestWriterLoggerCarriesFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "DEBUG").With(String("comp", "manager"))
	log.Info("order created", String("order_id", "wo_1"), Int("plots", 4), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if m["comp"] != "manager" || m["order_id"] != "wo_1" || m["plots"] != float64(4) || m["err"] != "boom" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if !strings.HasPrefix(m["caller"].(string), "logging_test.go:") {
		t.Fatalf("caller = %v", m["caller"])
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "WARN")
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info leaked at WARN: %q", buf.String())
	}
	if log.Enabled(LevelDebug) || !log.Enabled(LevelError) {
		t.Fatal("Enabled does not follow the configured level")
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Error("dropped")
	if l.OrNop().IsZero() {
		t.Fatal("OrNop should return a usable logger")
	}
}

func TestFormatAlertSortsKeys(t *testing.T) {
	t.Parallel()
	got := FormatAlert([]byte(`{"level":"warn","message":"plot conflict","order_id":"wo_1","comp":"manager","time":"x"}`))
	want := "[WARN] plot conflict\n- comp=manager\n- order_id=wo_1"
	if got != want {
		t.Fatalf("FormatAlert() = %q, want %q", got, want)
	}
	if got := FormatAlert([]byte("not json\n")); got != "not json" {
		t.Fatalf("raw fallback = %q", got)
	}
}
