package notifier

import (
	"fmt"
	"time"

	"farmcrew/internal/eventbus"
)

// Render maps a bus signal to a message. ok is false for signals that never notify.
func Render(sig eventbus.Signal) (Message, bool) {
	switch s := sig.(type) {
	case eventbus.OrderEscalated:
		return Message{
			Event: EventEscalated,
			Key:   "escalated:" + s.OrderID,
			Level: LevelAlert,
			Text:  fmt.Sprintf("Order %s (%s) is overdue: priority %s -> %s", s.OrderID, s.Kind, s.From, s.To),
		}, true
	case eventbus.OrderCancelled:
		reason := s.Reason
		if reason == "" {
			reason = "no reason given"
		}
		return Message{
			Event: EventCancelled,
			Key:   "cancelled:" + s.OrderID,
			Level: LevelWarn,
			Text:  fmt.Sprintf("Order %s (%s, %d plots) cancelled: %s", s.OrderID, s.Kind, len(s.Plots), reason),
		}, true
	case eventbus.OrderCompleted:
		return Message{
			Event: EventCompleted,
			Key:   "completed:" + s.OrderID,
			Level: LevelInfo,
			Text:  fmt.Sprintf("Order %s (%s) completed in %s, efficiency %.2f", s.OrderID, s.Kind, s.CompletionTime.Round(time.Second), s.EfficiencyRating),
		}, true
	case eventbus.ScanCompleted:
		if s.Unassigned == 0 {
			return Message{}, false
		}
		return Message{
			Event: EventUnassigned,
			Key:   fmt.Sprintf("unassigned:%d", s.Unassigned),
			Level: LevelWarn,
			Text:  fmt.Sprintf("%d work orders are waiting for a worker", s.Unassigned),
		}, true
	default:
		return Message{}, false
	}
}

func prefixFor(l Level) string {
	switch l {
	case LevelAlert:
		return "🚨 "
	case LevelWarn:
		return "⚠️ "
	default:
		return "ℹ️ "
	}
}
