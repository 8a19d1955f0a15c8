package farm

import "farmcrew/internal/workorder"

// Thresholds for the resource-based predicates.
const (
	WaterLow      = 0.3
	WaterDone     = 0.6
	NutrientsLow  = 0.25
	NutrientsDone = 0.6
	PestsHigh     = 0.5
	PestsDone     = 0.2
	WeedsDone     = 0.2
)

// Condition is a generator bucket.
type Condition string

const (
	ReadyForHarvest   Condition = "ready_for_harvest"
	PestControlNeeded Condition = "pest_control_needed"
	NeedsWatering     Condition = "needs_watering"
	NeedsFertilizing  Condition = "needs_fertilizing"
	ReadyForPlanting  Condition = "ready_for_planting"
	NeedsTilling      Condition = "needs_tilling"
	ProcessingReady   Condition = "processing_ready"
	StorageNeeded     Condition = "storage_needed"
)

// Conditions is the fixed evaluation order; a tile lands in the first bucket that matches.
var Conditions = []Condition{
	ReadyForHarvest,
	PestControlNeeded,
	NeedsWatering,
	NeedsFertilizing,
	ReadyForPlanting,
	NeedsTilling,
	ProcessingReady,
	StorageNeeded,
}

var conditionKind = map[Condition]workorder.TaskKind{
	ReadyForHarvest:   workorder.Harvesting,
	PestControlNeeded: workorder.PestControl,
	NeedsWatering:     workorder.Watering,
	NeedsFertilizing:  workorder.Fertilizing,
	ReadyForPlanting:  workorder.Planting,
	NeedsTilling:      workorder.Tilling,
	ProcessingReady:   workorder.Processing,
	StorageNeeded:     workorder.Storing,
}

// TaskKind returns the task kind that resolves c.
func (c Condition) TaskKind() workorder.TaskKind { return conditionKind[c] }

// Matches evaluates the condition predicate for t.
func (c Condition) Matches(t Tile) bool {
	switch c {
	case ReadyForHarvest:
		return t.HasCrop() && t.Stage == StageMature
	case PestControlNeeded:
		return t.HasCrop() && t.Pests > PestsHigh
	case NeedsWatering:
		return t.HasCrop() && t.Stage != StageMature && t.Water < WaterLow
	case NeedsFertilizing:
		return t.Terrain == TerrainTilled && t.Nutrients < NutrientsLow
	case ReadyForPlanting:
		return t.Terrain == TerrainTilled && !t.HasCrop()
	case NeedsTilling:
		return t.Terrain == TerrainSoil && !t.HasCrop()
	case ProcessingReady:
		return t.ProcessingReady
	case StorageNeeded:
		return t.StorageNeeded
	default:
		return false
	}
}

// Classify returns the first matching condition for t.
func Classify(t Tile) (Condition, bool) {
	for _, c := range Conditions {
		if c.Matches(t) {
			return c, true
		}
	}
	return "", false
}

// Done is the completion predicate: true once kind's work is reflected on t.
func Done(kind workorder.TaskKind, t Tile) bool {
	switch kind {
	case workorder.Tilling:
		return t.Terrain == TerrainTilled
	case workorder.Fertilizing:
		return t.Nutrients >= NutrientsDone
	case workorder.Planting:
		return t.HasCrop()
	case workorder.Watering:
		return t.Water >= WaterDone
	case workorder.Cultivating:
		return t.Weeds < WeedsDone
	case workorder.PestControl:
		return t.Pests < PestsDone
	case workorder.Harvesting:
		return !t.HasCrop()
	case workorder.Processing:
		return !t.ProcessingReady
	case workorder.Storing:
		return !t.StorageNeeded
	default:
		return false
	}
}

// Valid is the agricultural precondition for starting kind on t.
func Valid(kind workorder.TaskKind, t Tile) bool {
	switch kind {
	case workorder.Tilling:
		return t.Terrain != TerrainTilled && !t.HasCrop()
	case workorder.Planting:
		return t.Terrain == TerrainTilled && !t.HasCrop()
	case workorder.Harvesting:
		return t.HasCrop() && t.Stage == StageMature
	case workorder.Watering:
		return t.Terrain == TerrainTilled && t.Water < 1.0
	case workorder.Fertilizing:
		return t.Terrain == TerrainTilled && t.Nutrients < 1.0
	case workorder.Cultivating, workorder.PestControl:
		return t.HasCrop()
	case workorder.Processing:
		return t.ProcessingReady
	case workorder.Storing:
		return t.StorageNeeded
	default:
		return false
	}
}
