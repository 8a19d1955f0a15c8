package generator

import (
	"context"
	"time"

	"farmcrew/internal/farm"
	"farmcrew/internal/manager"
	"farmcrew/internal/workorder"
)

type Config struct {
	Enabled            bool
	MinPlotsForOrder   int
	AutoAssign         bool
	ReactiveHarvest    bool
	ReactiveDeadline   time.Duration
	ReactiveRatePerSec float64
}

const (
	DefaultMinPlots         = 3
	DefaultReactiveDeadline = 2 * time.Hour
	DefaultReactiveRate     = 2.0
)

func (c Config) withDefaults() Config {
	if c.MinPlotsForOrder <= 0 {
		c.MinPlotsForOrder = DefaultMinPlots
	}
	if c.ReactiveDeadline <= 0 {
		c.ReactiveDeadline = DefaultReactiveDeadline
	}
	if c.ReactiveRatePerSec <= 0 {
		c.ReactiveRatePerSec = DefaultReactiveRate
	}
	return c
}

// Orders is the slice of the manager the generator drives.
type Orders interface {
	Create(ctx context.Context, req manager.Request) (workorder.WorkOrder, error)
	AssignPending(ctx context.Context) (int, error)
	ClaimedPlots() map[workorder.Plot]string
	Active() []workorder.WorkOrder
}

// Batch is one connected group of plots sharing a condition.
type Batch struct {
	Condition farm.Condition
	Plots     []workorder.Plot
}

// Rule is the emission table entry for a condition.
type Rule struct {
	Priority     workorder.Priority
	BaseDeadline time.Duration
}

var rules = map[farm.Condition]Rule{
	farm.ReadyForHarvest:   {Priority: workorder.High, BaseDeadline: 12 * time.Hour},
	farm.PestControlNeeded: {Priority: workorder.High, BaseDeadline: 8 * time.Hour},
	farm.NeedsWatering:     {Priority: workorder.Normal, BaseDeadline: 6 * time.Hour},
	farm.NeedsFertilizing:  {Priority: workorder.Normal, BaseDeadline: 24 * time.Hour},
	farm.ReadyForPlanting:  {Priority: workorder.Normal, BaseDeadline: 24 * time.Hour},
	farm.NeedsTilling:      {Priority: workorder.Low, BaseDeadline: 48 * time.Hour},
	farm.ProcessingReady:   {Priority: workorder.Low, BaseDeadline: 48 * time.Hour},
	farm.StorageNeeded:     {Priority: workorder.Minimal, BaseDeadline: 72 * time.Hour},
}

// RuleFor returns the priority and base deadline for c.
func RuleFor(c farm.Condition) Rule {
	if r, ok := rules[c]; ok {
		return r
	}
	return Rule{Priority: workorder.Normal, BaseDeadline: 24 * time.Hour}
}

// SizeScale stretches deadlines for large batches.
func SizeScale(plots int) float64 {
	switch {
	case plots > 10:
		return 1.5
	case plots > 5:
		return 1.2
	default:
		return 1.0
	}
}

// Deadline is the base deadline for c scaled by batch size.
func Deadline(c farm.Condition, plots int) time.Duration {
	return time.Duration(float64(RuleFor(c).BaseDeadline) * SizeScale(plots))
}

// ScanReport summarizes one scan.
type ScanReport struct {
	Trigger    string        `json:"trigger"`
	At         time.Time     `json:"at"`
	Batches    int           `json:"batches"`
	Created    int           `json:"created"`
	Rejected   int           `json:"rejected"`
	Assigned   int           `json:"assigned"`
	Unassigned int           `json:"unassigned"`
	Took       time.Duration `json:"took"`
	Err        string        `json:"err,omitempty"`
}

type Snapshot struct {
	Enabled         bool        `json:"enabled"`
	Scans           uint64      `json:"scans"`
	ReactiveCreated uint64      `json:"reactive_created"`
	ReactiveDropped uint64      `json:"reactive_dropped"`
	Last            *ScanReport `json:"last,omitempty"`
}
