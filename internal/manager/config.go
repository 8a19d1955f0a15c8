package manager

import (
	"fmt"
	"strings"
	"time"
)

// ConflictPolicy decides what Create does with plots already claimed by another active order.
type ConflictPolicy string

const (
	// ConflictReject refuses the whole request.
	ConflictReject ConflictPolicy = "reject"
	// ConflictTrim drops the claimed plots and creates the order from the rest.
	ConflictTrim ConflictPolicy = "trim"
	// ConflictWarn logs and creates the overlapping order anyway. The first claimant keeps
	// the plot in the conflict table; when it closes, the plot passes to the oldest active
	// order still covering it. Kept for compatibility only; it breaks disjointness.
	ConflictWarn ConflictPolicy = "warn"
)

func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch p := ConflictPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ConflictReject, nil
	case ConflictReject, ConflictTrim, ConflictWarn:
		return p, nil
	default:
		return "", fmt.Errorf("unknown conflict policy %q (want reject, trim or warn)", s)
	}
}

type Config struct {
	MaxActiveOrders int
	// Retention is how long closed orders stay in history before the day tick purges them.
	Retention      time.Duration
	ConflictPolicy ConflictPolicy
	// DefaultDeadline applies when a request carries none. Zero means no deadline.
	DefaultDeadline time.Duration
}

const (
	DefaultMaxActiveOrders = 100
	DefaultRetention       = 7 * 24 * time.Hour
)

func (c Config) withDefaults() Config {
	if c.MaxActiveOrders <= 0 {
		c.MaxActiveOrders = DefaultMaxActiveOrders
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.ConflictPolicy == "" {
		c.ConflictPolicy = ConflictReject
	}
	if c.DefaultDeadline < 0 {
		c.DefaultDeadline = 0
	}
	return c
}
