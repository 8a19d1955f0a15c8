package clock

import (
	"testing"
	"time"
)

func TestManualAdvance(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	m := NewManual(start)
	if got := m.Advance(90 * time.Minute); !got.Equal(start.Add(90 * time.Minute)) {
		t.Fatalf("Advance = %v", got)
	}
	if got := m.Now(); !got.Equal(start.Add(90 * time.Minute)) {
		t.Fatalf("Now = %v", got)
	}
	if _, ok := OrReal(nil).(Real); !ok {
		t.Fatal("OrReal(nil) should return Real")
	}
}
