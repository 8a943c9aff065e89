// Package layout places MCU pin groups and their pins on screen. The
// coordinates depend only on static configuration and on which single group
// is currently expanded.
package layout

import (
	"pintrainer/internal/domain"
)

// Config holds the static layout table.
type Config struct {
	Groups       map[domain.GroupKey]domain.Point
	Fallback     domain.Point
	PinSpacing   float64
	PinOffset    domain.Point
	AnchorOffset domain.Point
	SensorOffset float64
}

// DefaultConfig returns the stock board layout: ports A and B on the left,
// C and Others on the right.
func DefaultConfig() Config {
	return Config{
		Groups: map[domain.GroupKey]domain.Point{
			"A":                {X: 190, Y: 310},
			"B":                {X: 190, Y: 410},
			"C":                {X: 450, Y: 310},
			domain.GroupOthers: {X: 450, Y: 410},
		},
		Fallback:     domain.Point{X: 60, Y: 310},
		PinSpacing:   30,
		PinOffset:    domain.Point{X: -10, Y: 60},
		AnchorOffset: domain.Point{X: 90, Y: 20},
		SensorOffset: 50,
	}
}

// GroupIndex is the subset of the pin catalog the resolver reads.
type GroupIndex interface {
	GroupOf(mcuPin string) (domain.GroupKey, error)
	PinsInGroup(key domain.GroupKey) []string
	HasGroup(key domain.GroupKey) bool
}

// Resolver tracks which group is expanded and answers coordinate queries.
// It is owned by one session and is not safe for concurrent use.
type Resolver struct {
	index    GroupIndex
	cfg      Config
	override map[domain.GroupKey]domain.Point
	expanded domain.GroupKey
}

// NewResolver builds a resolver. override carries the active sensor's
// per-group base coordinates and may be nil.
func NewResolver(index GroupIndex, cfg Config, override map[domain.GroupKey]domain.Point) *Resolver {
	return &Resolver{index: index, cfg: cfg, override: override}
}

// Config returns the resolver's static layout.
func (r *Resolver) Config() Config { return r.cfg }

// Toggle collapses group if it is expanded, otherwise expands it and
// collapses whichever group was expanded before.
func (r *Resolver) Toggle(group domain.GroupKey) {
	if r.expanded == group {
		r.expanded = ""
		return
	}
	r.expanded = group
}

// Expanded returns the expanded group, or "" when every group is collapsed.
func (r *Resolver) Expanded() domain.GroupKey { return r.expanded }

// IsExpanded reports whether group is the expanded group.
func (r *Resolver) IsExpanded(group domain.GroupKey) bool {
	return group != "" && r.expanded == group
}

// Reset collapses every group.
func (r *Resolver) Reset() { r.expanded = "" }

// BaseOf returns the top-left coordinate of a group.
func (r *Resolver) BaseOf(group domain.GroupKey) domain.Point {
	if p, ok := r.override[group]; ok {
		return p
	}
	if p, ok := r.cfg.Groups[group]; ok {
		return p
	}
	return r.cfg.Fallback
}

// AnchorOf returns the point where lines to a collapsed group converge.
func (r *Resolver) AnchorOf(group domain.GroupKey) domain.Point {
	return r.BaseOf(group).Add(r.cfg.AnchorOffset)
}

// PositionOf returns the coordinate of a pin inside its expanded group.
func (r *Resolver) PositionOf(mcuPin string) (domain.Point, error) {
	group, err := r.index.GroupOf(mcuPin)
	if err != nil {
		return domain.Point{}, err
	}
	idx := indexOf(r.index.PinsInGroup(group), mcuPin)
	base := r.BaseOf(group)
	return domain.Point{
		X: base.X + r.cfg.PinOffset.X + float64(idx)*r.cfg.PinSpacing,
		Y: base.Y + r.cfg.PinOffset.Y,
	}, nil
}

func indexOf(pins []string, name string) int {
	for i, p := range pins {
		if p == name {
			return i
		}
	}
	return 0
}
