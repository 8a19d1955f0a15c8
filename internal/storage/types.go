package storage

import (
	"errors"
	"time"

	"farmcrew/internal/workorder"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": jsonl journals + zstd snapshots under Path's directory
//   - "sqlite": SQLite database file at Path
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// OrderRecord is the archived form of a closed work order.
// Keep it compact and schema-stable.
type OrderRecord struct {
	ID              string             `json:"id"`
	Kind            workorder.TaskKind `json:"kind"`
	Status          workorder.Status   `json:"status"`
	Priority        workorder.Priority `json:"priority"`
	InitialPriority workorder.Priority `json:"initial_priority"`
	Escalated       bool               `json:"escalated,omitempty"`
	Plots           []workorder.Plot   `json:"plots"`
	Workers         []string           `json:"workers,omitempty"`
	Source          workorder.Source   `json:"source"`
	CreatedAt       time.Time          `json:"created_at"`
	ClosedAt        time.Time          `json:"closed_at"`
	ElapsedMS       int64              `json:"elapsed_ms"`
	Efficiency      float64            `json:"efficiency,omitempty"`
	Reason          string             `json:"reason,omitempty"`
}

// RecordFromOrder flattens a closed order. rating is the completion efficiency rating
// (zero for cancellations).
func RecordFromOrder(o workorder.WorkOrder, rating float64) OrderRecord {
	closed := o.CompletedAt
	if closed.IsZero() {
		closed = o.CancelledAt
	}
	ref := o.StartedAt
	if ref.IsZero() {
		ref = o.AssignedAt
	}
	if ref.IsZero() {
		ref = o.CreatedAt
	}
	var elapsed time.Duration
	if !closed.IsZero() {
		elapsed = max(closed.Sub(ref), 0)
	}
	return OrderRecord{
		ID:              o.ID,
		Kind:            o.Kind,
		Status:          o.Status(),
		Priority:        o.Priority,
		InitialPriority: o.InitialPriority,
		Escalated:       o.Escalated,
		Plots:           append([]workorder.Plot(nil), o.Plots...),
		Workers:         append([]string(nil), o.AssignedWorkers...),
		Source:          o.Source,
		CreatedAt:       o.CreatedAt,
		ClosedAt:        closed,
		ElapsedMS:       elapsed.Milliseconds(),
		Efficiency:      rating,
		Reason:          o.CancelReason,
	}
}
