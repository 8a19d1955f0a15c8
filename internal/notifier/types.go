package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Sender delivers one rendered message.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Event kinds that can be enabled in Config.Events.
const (
	EventCancelled  = "cancelled"
	EventEscalated  = "escalated"
	EventCompleted  = "completed"
	EventUnassigned = "unassigned"
)

var allEvents = []string{EventCancelled, EventEscalated, EventCompleted, EventUnassigned}

// ParseEvents normalizes an events list. An empty list selects cancelled and escalated.
func ParseEvents(in []string) ([]string, error) {
	if len(in) == 0 {
		return []string{EventCancelled, EventEscalated}, nil
	}
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, raw := range in {
		e := strings.ToLower(strings.TrimSpace(raw))
		ok := false
		for _, v := range allEvents {
			if v == e {
				ok = true
				break
			}
		}
		if !ok {
			return nil, fmt.Errorf("unknown notifier event %q", raw)
		}
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out, nil
}

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Events          []string
	Workers         int
	QueueSize       int
	RatePerSec      float64
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

// Level orders messages by urgency; it only affects the rendered prefix.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelAlert
)

// Message is one queued notification.
type Message struct {
	Event string
	// Key identifies the message for dedup; empty disables dedup.
	Key   string
	Level Level
	Text  string
}

type HistoryItem struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

type Snapshot struct {
	Enabled bool          `json:"enabled"`
	Running bool          `json:"running"`
	Queued  int           `json:"queued"`
	Sent    uint64        `json:"sent"`
	Failed  uint64        `json:"failed"`
	Deduped uint64        `json:"deduped"`
	Dropped uint64        `json:"dropped"`
	History []HistoryItem `json:"history"`
}
