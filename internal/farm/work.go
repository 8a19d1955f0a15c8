package farm

import "farmcrew/internal/workorder"

// DefaultCrop is planted when a planting task names no crop.
const DefaultCrop = "wheat"

// Work applies the agronomic effect of kind to t, so that Done(kind, *t) holds afterwards.
// Workers backed by a Grid use it as their execution body.
func Work(kind workorder.TaskKind, t *Tile) {
	switch kind {
	case workorder.Tilling:
		t.Terrain = TerrainTilled
	case workorder.Fertilizing:
		t.Nutrients = 1
	case workorder.Planting:
		if !t.HasCrop() {
			t.Crop = DefaultCrop
		}
		t.Stage = StageSeed
	case workorder.Watering:
		t.Water = 1
	case workorder.Cultivating:
		t.Weeds = 0
	case workorder.PestControl:
		t.Pests = 0
	case workorder.Harvesting:
		t.Crop, t.Stage = "", StageNone
		t.ProcessingReady = true
	case workorder.Processing:
		t.ProcessingReady = false
		t.StorageNeeded = true
	case workorder.Storing:
		t.StorageNeeded = false
	}
}

var nextStage = map[GrowthStage]GrowthStage{
	StageSeed:        StageGermination,
	StageGermination: StageSeedling,
	StageSeedling:    StageVegetative,
	StageVegetative:  StageFlowering,
	StageFlowering:   StageMature,
}

// Grow advances a watered crop by one growth stage and reports whether it just matured.
// Dry crops do not grow.
func Grow(t *Tile) bool {
	if !t.HasCrop() || t.Water < WaterLow {
		return false
	}
	next, ok := nextStage[t.Stage]
	if !ok {
		return false
	}
	t.Stage = next
	return next == StageMature
}
