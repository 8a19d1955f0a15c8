// Package farm defines the read-only farm-state contract the scheduler consumes,
// the condition predicates evaluated against it, and an in-memory Grid provider.
package farm

import (
	"errors"

	"farmcrew/internal/workorder"
)

// ErrUnavailable is returned by providers that cannot serve state this cycle.
var ErrUnavailable = errors.New("farm state unavailable")

type Terrain string

const (
	TerrainGrass  Terrain = "grass"
	TerrainSoil   Terrain = "soil"
	TerrainTilled Terrain = "tilled"
)

type GrowthStage string

const (
	StageNone        GrowthStage = ""
	StageSeed        GrowthStage = "seed"
	StageGermination GrowthStage = "germination"
	StageSeedling    GrowthStage = "seedling"
	StageVegetative  GrowthStage = "vegetative"
	StageFlowering   GrowthStage = "flowering"
	StageMature      GrowthStage = "mature"
)

// Tile is a point-in-time view of one plot.
type Tile struct {
	Plot     workorder.Plot `json:"plot"`
	Occupied bool           `json:"occupied"`
	Terrain  Terrain        `json:"terrain"`
	Crop     string         `json:"crop,omitempty"`
	Stage    GrowthStage    `json:"stage,omitempty"`

	// Resource levels are normalized to [0,1].
	Water     float64 `json:"water"`
	Nutrients float64 `json:"nutrients"`
	Pests     float64 `json:"pests"`
	Weeds     float64 `json:"weeds"`

	// ProcessingReady marks harvested produce waiting to be processed on this plot.
	ProcessingReady bool `json:"processing_ready,omitempty"`
	// StorageNeeded marks processed goods waiting to be moved to storage.
	StorageNeeded bool `json:"storage_needed,omitempty"`
}

func (t Tile) HasCrop() bool { return t.Crop != "" }

// State is the read-only farm-state provider.
//
// Implementations must be safe for concurrent reads.
type State interface {
	// Tile returns the tile at p; ok is false when p is out of bounds.
	Tile(p workorder.Plot) (Tile, bool, error)
	// Tiles returns every tile in row-major order.
	Tiles() ([]Tile, error)
}
