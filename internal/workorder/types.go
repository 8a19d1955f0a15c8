package workorder

import (
	"fmt"
	"strings"
	"time"
)

// TaskKind is the category of labor a work order covers.
type TaskKind string

const (
	Tilling     TaskKind = "tilling"
	Fertilizing TaskKind = "fertilizing"
	Planting    TaskKind = "planting"
	Watering    TaskKind = "watering"
	Cultivating TaskKind = "cultivating"
	PestControl TaskKind = "pest_control"
	Harvesting  TaskKind = "harvesting"
	Processing  TaskKind = "processing"
	Storing     TaskKind = "storing"
)

// AllTaskKinds lists every kind in a stable order.
var AllTaskKinds = []TaskKind{
	Tilling, Fertilizing, Planting, Watering, Cultivating,
	PestControl, Harvesting, Processing, Storing,
}

func (k TaskKind) Valid() bool {
	for _, v := range AllTaskKinds {
		if v == k {
			return true
		}
	}
	return false
}

func (k TaskKind) String() string { return string(k) }

// ParseTaskKind accepts the canonical name, case-insensitive, with '-' or ' ' as separators.
func ParseTaskKind(s string) (TaskKind, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	k := TaskKind(norm)
	if !k.Valid() {
		return "", fmt.Errorf("unknown task kind %q", s)
	}
	return k, nil
}

// Priority is an ordinal where a lower number is more urgent.
type Priority int

const (
	Critical Priority = iota + 1
	High
	Normal
	Low
	Minimal
)

func (p Priority) Valid() bool { return p >= Critical && p <= Minimal }

func (p Priority) String() string {
	switch p {
	case Critical:
		return "critical"
	case High:
		return "high"
	case Normal:
		return "normal"
	case Low:
		return "low"
	case Minimal:
		return "minimal"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Multiplier is the auto-assignment scoring weight for the priority.
func (p Priority) Multiplier() float64 {
	switch p {
	case Critical:
		return 2.0
	case High:
		return 1.5
	case Normal:
		return 1.0
	case Low:
		return 0.8
	case Minimal:
		return 0.6
	default:
		return 1.0
	}
}

func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "1":
		return Critical, nil
	case "high", "2":
		return High, nil
	case "normal", "3", "":
		return Normal, nil
	case "low", "4":
		return Low, nil
	case "minimal", "5":
		return Minimal, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

// Role is a worker's primary specialization.
type Role string

const (
	RoleFieldHand   Role = "field_hand"
	RolePlanter     Role = "planter"
	RoleIrrigator   Role = "irrigator"
	RoleAgronomist  Role = "agronomist"
	RoleHarvester   Role = "harvester"
	RoleProcessor   Role = "processor"
	RoleStorekeeper Role = "storekeeper"
)

var AllRoles = []Role{
	RoleFieldHand, RolePlanter, RoleIrrigator, RoleAgronomist,
	RoleHarvester, RoleProcessor, RoleStorekeeper,
}

// Plot addresses one tile of farm surface.
type Plot struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Plot) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// Neighbors4 returns the orthogonal neighbours in a fixed order: up, left, right, down.
func (p Plot) Neighbors4() [4]Plot {
	return [4]Plot{
		{X: p.X, Y: p.Y - 1},
		{X: p.X - 1, Y: p.Y},
		{X: p.X + 1, Y: p.Y},
		{X: p.X, Y: p.Y + 1},
	}
}

// Less orders plots row-major (Y first, then X).
func (p Plot) Less(o Plot) bool {
	if p.Y != o.Y {
		return p.Y < o.Y
	}
	return p.X < o.X
}

// Status is derived from timestamps and assignment; it is never stored.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Source records what created an order.
type Source string

const (
	SourceRequest  Source = "request"
	SourceScan     Source = "scan"
	SourceReactive Source = "reactive"
)

// WorkOrder is a schedulable unit of labor covering one task kind over a set of plots.
type WorkOrder struct {
	ID       string   `json:"id"`
	Kind     TaskKind `json:"kind"`
	Plots    []Plot   `json:"plots"`
	Priority Priority `json:"priority"`
	// InitialPriority is the priority the order was created with (escalation only changes Priority).
	InitialPriority Priority `json:"initial_priority"`

	AssignedWorkers []string          `json:"assigned_workers,omitempty"`
	Allocations     map[string][]Plot `json:"allocations,omitempty"`

	Progress          float64       `json:"progress"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	Deadline          time.Time     `json:"deadline,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	AssignedAt  time.Time `json:"assigned_at,omitempty"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	CancelledAt time.Time `json:"cancelled_at,omitempty"`

	PreferredRole Role   `json:"preferred_role,omitempty"`
	Source        Source `json:"source"`
	Notes         string `json:"notes,omitempty"`
	CancelReason  string `json:"cancel_reason,omitempty"`

	// AwaitingVerification is set when every assigned worker reported finished but the
	// live farm state did not yet satisfy the completion predicate on all plots.
	AwaitingVerification bool `json:"awaiting_verification,omitempty"`
	Escalated            bool `json:"escalated,omitempty"`
}

func (o *WorkOrder) Status() Status {
	switch {
	case !o.CancelledAt.IsZero():
		return StatusCancelled
	case !o.CompletedAt.IsZero():
		return StatusCompleted
	case !o.StartedAt.IsZero():
		return StatusInProgress
	case len(o.AssignedWorkers) > 0:
		return StatusAssigned
	default:
		return StatusPending
	}
}

// Active reports whether the order is neither completed nor cancelled.
func (o *WorkOrder) Active() bool {
	return o.CompletedAt.IsZero() && o.CancelledAt.IsZero()
}

func (o *WorkOrder) HasDeadline() bool { return !o.Deadline.IsZero() }

// Overdue reports whether an active order's deadline has elapsed at now.
func (o *WorkOrder) Overdue(now time.Time) bool {
	return o.Active() && o.HasDeadline() && !now.Before(o.Deadline)
}

func (o *WorkOrder) IsAssigned(workerID string) bool {
	for _, id := range o.AssignedWorkers {
		if id == workerID {
			return true
		}
	}
	return false
}

// PlotsFor resolves the plots a worker acts on: its allocation for distributed orders,
// otherwise all of the order's plots.
func (o *WorkOrder) PlotsFor(workerID string) []Plot {
	if len(o.AssignedWorkers) > 1 {
		if alloc, ok := o.Allocations[workerID]; ok {
			return append([]Plot(nil), alloc...)
		}
		return nil
	}
	return append([]Plot(nil), o.Plots...)
}

// Clone returns a deep copy safe to hand out of the manager.
func (o *WorkOrder) Clone() WorkOrder {
	cp := *o
	cp.Plots = append([]Plot(nil), o.Plots...)
	cp.AssignedWorkers = append([]string(nil), o.AssignedWorkers...)
	if o.Allocations != nil {
		cp.Allocations = make(map[string][]Plot, len(o.Allocations))
		for k, v := range o.Allocations {
			cp.Allocations[k] = append([]Plot(nil), v...)
		}
	}
	return cp
}
