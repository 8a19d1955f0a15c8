package manager

import (
	"errors"
	"fmt"
	"strings"

	"farmcrew/internal/workorder"
)

var (
	ErrCapacity        = errors.New("active order capacity reached")
	ErrNotFound        = errors.New("work order not found")
	ErrUnknownWorker   = errors.New("unknown worker")
	ErrAlreadyAssigned = errors.New("work order already assigned")
	ErrNotAssigned     = errors.New("worker not assigned to work order")
	ErrOrderClosed     = errors.New("work order already closed")
	ErrPlotConflict    = errors.New("plots claimed by another active order")
	ErrNotDone         = errors.New("work order plots not done")
	ErrFarmUnavailable = errors.New("farm state unavailable")
	ErrInvalidRequest  = errors.New("invalid work order request")
	ErrStopped         = errors.New("work order manager stopped")
)

// ConflictError lists the plots a request overlapped and their current owners.
type ConflictError struct {
	Plots  []workorder.Plot
	Owners map[workorder.Plot]string
}

func (e *ConflictError) Error() string {
	parts := make([]string, 0, len(e.Plots))
	for _, p := range e.Plots {
		parts = append(parts, p.String()+"->"+e.Owners[p])
	}
	return fmt.Sprintf("%v: %s", ErrPlotConflict, strings.Join(parts, ", "))
}

func (e *ConflictError) Unwrap() error { return ErrPlotConflict }

// IncompleteError lists plots whose completion predicate does not hold yet.
type IncompleteError struct {
	OrderID string
	Pending []workorder.Plot
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("%v: order %s has %d pending plots", ErrNotDone, e.OrderID, len(e.Pending))
}

func (e *IncompleteError) Unwrap() error { return ErrNotDone }
