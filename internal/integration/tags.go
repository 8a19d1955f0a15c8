package integration

import (
	"sort"
	"sync"

	"farmcrew/internal/workorder"
)

// Tag marks a plot with pending work for overlays. OrderID is empty on the legacy path.
type Tag struct {
	Kind    workorder.TaskKind `json:"kind"`
	OrderID string             `json:"order_id,omitempty"`
}

// TagBoard is the plot -> tag overlay. It is safe for concurrent use.
type TagBoard struct {
	mu   sync.RWMutex
	tags map[workorder.Plot]Tag
}

func NewTagBoard() *TagBoard {
	return &TagBoard{tags: map[workorder.Plot]Tag{}}
}

func (b *TagBoard) Set(plots []workorder.Plot, tag Tag) {
	b.mu.Lock()
	for _, p := range plots {
		b.tags[p] = tag
	}
	b.mu.Unlock()
}

func (b *TagBoard) Get(p workorder.Plot) (Tag, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.tags[p]
	return t, ok
}

// ClearKind removes every tag of kind, whichever order set it.
func (b *TagBoard) ClearKind(kind workorder.TaskKind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for p, t := range b.tags {
		if t.Kind == kind {
			delete(b.tags, p)
			n++
		}
	}
	return n
}

// ClearPlots removes tags of kind on plots.
func (b *TagBoard) ClearPlots(kind workorder.TaskKind, plots []workorder.Plot) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, p := range plots {
		if t, ok := b.tags[p]; ok && t.Kind == kind {
			delete(b.tags, p)
			n++
		}
	}
	return n
}

func (b *TagBoard) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.tags)
}

// Plots lists tagged plots in row-major order.
func (b *TagBoard) Plots() []workorder.Plot {
	b.mu.RLock()
	out := make([]workorder.Plot, 0, len(b.tags))
	for p := range b.tags {
		out = append(out, p)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
