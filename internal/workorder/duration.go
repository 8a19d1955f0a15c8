package workorder

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// perPlotTime is the base labor time for one plot at efficiency 1.0.
var perPlotTime = map[TaskKind]time.Duration{
	Tilling:     3 * time.Minute,
	Fertilizing: 2 * time.Minute,
	Planting:    150 * time.Second,
	Watering:    time.Minute,
	Cultivating: 2 * time.Minute,
	PestControl: 150 * time.Second,
	Harvesting:  3 * time.Minute,
	Processing:  4 * time.Minute,
	Storing:     90 * time.Second,
}

// PerPlotTime returns the base per-plot time for kind (one minute for unknown kinds).
func PerPlotTime(kind TaskKind) time.Duration {
	if d, ok := perPlotTime[kind]; ok {
		return d
	}
	return time.Minute
}

// EstimateDuration is plots × per-plot time, divided by the worker efficiency.
// Non-positive efficiency is treated as 1.0.
func EstimateDuration(kind TaskKind, plots int, efficiency float64) time.Duration {
	if plots <= 0 {
		return 0
	}
	if efficiency <= 0 {
		efficiency = 1.0
	}
	base := PerPlotTime(kind) * time.Duration(plots)
	return time.Duration(float64(base) / efficiency)
}

// NewID returns a sortable work-order id.
func NewID(now time.Time) string {
	return "wo_" + strings.ToLower(ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String())
}
