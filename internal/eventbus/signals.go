package eventbus

import (
	"time"

	"farmcrew/internal/workorder"
)

// Signal is the closed set of payloads carried on the bus.
// Subscribers type-switch on the concrete variant.
type Signal interface {
	// Name is the stable wire/log name of the variant.
	Name() string
	isSignal()
}

type OrderCreated struct {
	OrderID           string
	Kind              workorder.TaskKind
	PlotCount         int
	Priority          workorder.Priority
	EstimatedDuration time.Duration
	Source            workorder.Source
}

type OrderAssigned struct {
	OrderID   string
	WorkerID  string
	Kind      workorder.TaskKind
	PlotCount int
	Priority  workorder.Priority
}

// OrderMultiAssigned is published for every assigned worker after a redistribution.
type OrderMultiAssigned struct {
	OrderID      string
	WorkerID     string
	TotalWorkers int
	Kind         workorder.TaskKind
}

type OrderCompleted struct {
	OrderID string
	Kind    workorder.TaskKind
	// CompletionTime is zero when the order never recorded a start or assignment.
	CompletionTime   time.Duration
	EfficiencyRating float64
}

type OrderCancelled struct {
	OrderID string
	Kind    workorder.TaskKind
	Reason  string
	Plots   []workorder.Plot
}

type OrderEscalated struct {
	OrderID string
	Kind    workorder.TaskKind
	From    workorder.Priority
	To      workorder.Priority
}

// WorkerTaskFinished is consumed by the manager to trigger the live-state completion check.
type WorkerTaskFinished struct {
	OrderID        string
	WorkerID       string
	CompletedPlots int
}

// WorkerAvailable is published when a worker joins the roster or frees up.
type WorkerAvailable struct {
	WorkerID string
}

type DayPassed struct {
	Day int
	At  time.Time
}

// CropReady is a harvest-readiness notification raised outside the scan cadence.
type CropReady struct {
	Plot workorder.Plot
}

// ScanCompleted summarizes one generator pass.
type ScanCompleted struct {
	Trigger    string
	Created    int
	Rejected   int
	Unassigned int
	Took       time.Duration
}

func (OrderCreated) Name() string       { return "work_order_created" }
func (OrderAssigned) Name() string      { return "work_order_assigned" }
func (OrderMultiAssigned) Name() string { return "work_order_multi_assigned" }
func (OrderCompleted) Name() string     { return "work_order_completed" }
func (OrderCancelled) Name() string     { return "work_order_cancelled" }
func (OrderEscalated) Name() string     { return "work_order_escalated" }
func (WorkerTaskFinished) Name() string { return "worker_task_finished" }
func (WorkerAvailable) Name() string    { return "worker_available" }
func (DayPassed) Name() string          { return "day_passed" }
func (CropReady) Name() string          { return "crop_ready" }
func (ScanCompleted) Name() string      { return "scan_completed" }

func (OrderCreated) isSignal()       {}
func (OrderAssigned) isSignal()      {}
func (OrderMultiAssigned) isSignal() {}
func (OrderCompleted) isSignal()     {}
func (OrderCancelled) isSignal()     {}
func (OrderEscalated) isSignal()     {}
func (WorkerTaskFinished) isSignal() {}
func (WorkerAvailable) isSignal()    {}
func (DayPassed) isSignal()          {}
func (CropReady) isSignal()          {}
func (ScanCompleted) isSignal()      {}
