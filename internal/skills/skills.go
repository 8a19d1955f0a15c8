// Package skills models per-worker efficiency by task kind.
//
// Efficiencies are only scoring and duration inputs for the work-order manager;
// they never change what a task does.
package skills

import (
	"fmt"
	"strings"

	"farmcrew/internal/workorder"
)

// Level is a proficiency tier with a fixed efficiency multiplier.
type Level int

const (
	Novice Level = iota
	Apprentice
	Competent
	Expert
	Master
)

func (l Level) Multiplier() float64 {
	switch l {
	case Novice:
		return 0.5
	case Apprentice:
		return 0.75
	case Competent:
		return 1.0
	case Expert:
		return 1.25
	case Master:
		return 1.5
	default:
		return 1.0
	}
}

func (l Level) String() string {
	switch l {
	case Novice:
		return "novice"
	case Apprentice:
		return "apprentice"
	case Competent:
		return "competent"
	case Expert:
		return "expert"
	case Master:
		return "master"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "novice":
		return Novice, nil
	case "apprentice":
		return Apprentice, nil
	case "competent", "":
		return Competent, nil
	case "expert":
		return Expert, nil
	case "master":
		return Master, nil
	default:
		return Competent, fmt.Errorf("unknown skill level %q", s)
	}
}

// DefaultEfficiency applies to any task kind a profile has no entry for.
const DefaultEfficiency = 1.0

// Profile is a worker's skill sheet.
type Profile struct {
	PrimaryRole workorder.Role
	Efficiency  map[workorder.TaskKind]float64
}

// NewProfile returns a profile where the role's own task kinds are at Expert.
func NewProfile(role workorder.Role) Profile {
	p := Profile{PrimaryRole: role, Efficiency: map[workorder.TaskKind]float64{}}
	for _, k := range KindsForRole(role) {
		p.Efficiency[k] = Expert.Multiplier()
	}
	return p
}

// For returns the efficiency multiplier for kind (DefaultEfficiency when unset).
func (p Profile) For(kind workorder.TaskKind) float64 {
	if v, ok := p.Efficiency[kind]; ok && v > 0 {
		return v
	}
	return DefaultEfficiency
}

// WithLevel returns a copy of the profile with kind set to level's multiplier.
func (p Profile) WithLevel(kind workorder.TaskKind, level Level) Profile {
	cp := Profile{PrimaryRole: p.PrimaryRole, Efficiency: make(map[workorder.TaskKind]float64, len(p.Efficiency)+1)}
	for k, v := range p.Efficiency {
		cp.Efficiency[k] = v
	}
	cp.Efficiency[kind] = level.Multiplier()
	return cp
}

// WithEfficiency is WithLevel for an explicit multiplier.
func (p Profile) WithEfficiency(kind workorder.TaskKind, v float64) Profile {
	cp := p.WithLevel(kind, Competent)
	cp.Efficiency[kind] = v
	return cp
}

var roleForKind = map[workorder.TaskKind]workorder.Role{
	workorder.Tilling:     workorder.RoleFieldHand,
	workorder.Cultivating: workorder.RoleFieldHand,
	workorder.Planting:    workorder.RolePlanter,
	workorder.Watering:    workorder.RoleIrrigator,
	workorder.Fertilizing: workorder.RoleAgronomist,
	workorder.PestControl: workorder.RoleAgronomist,
	workorder.Harvesting:  workorder.RoleHarvester,
	workorder.Processing:  workorder.RoleProcessor,
	workorder.Storing:     workorder.RoleStorekeeper,
}

// RoleFor is the preferred-worker-role hint for a task kind.
func RoleFor(kind workorder.TaskKind) workorder.Role {
	if r, ok := roleForKind[kind]; ok {
		return r
	}
	return workorder.RoleFieldHand
}

// KindsForRole lists the task kinds whose preferred role is role, in workorder.AllTaskKinds order.
func KindsForRole(role workorder.Role) []workorder.TaskKind {
	out := make([]workorder.TaskKind, 0, 2)
	for _, k := range workorder.AllTaskKinds {
		if roleForKind[k] == role {
			out = append(out, k)
		}
	}
	return out
}

// Weights maps worker id to a relative skill weight for plot redistribution.
type Weights map[string]float64

// Of returns the weight for id, falling back to fallback when missing or non-positive.
func (w Weights) Of(id string, fallback float64) float64 {
	if v, ok := w[id]; ok && v > 0 {
		return v
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultEfficiency
}
