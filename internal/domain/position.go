package domain

import (
	"math"
	"time"
)

// PositionStatus tracks a paired position through its life.
type PositionStatus string

const (
	// PositionBuilding: at least one leg submitted, quantities may be unequal.
	PositionBuilding PositionStatus = "building"
	// PositionHedged: both legs filled in equal quantity; profit locked.
	PositionHedged PositionStatus = "hedged"
	// PositionClosed: directional remainder unwound.
	PositionClosed PositionStatus = "closed"
)

// qtyEpsilon absorbs float rounding when comparing leg quantities.
const qtyEpsilon = 1e-9

// Position is the paired holding for one window. YES and NO quantities only
// move together on the happy path; an asymmetric book is tolerated while a
// partial fill is being reconciled and is the primary state to minimize.
type Position struct {
	WindowID  string
	Asset     string
	YesQty    float64
	NoQty     float64
	CostBasis float64 // cash paid across both legs
	Status    PositionStatus
	OpenedAt  time.Time
	ClosedAt  *time.Time
}

// NetExposureQty is the unpaired contract quantity carrying directional risk.
func (p Position) NetExposureQty() float64 {
	return math.Abs(p.YesQty - p.NoQty)
}

// HedgedQty is the paired quantity whose payout is guaranteed.
func (p Position) HedgedQty() float64 {
	if p.YesQty < p.NoQty {
		return p.YesQty
	}
	return p.NoQty
}

// Balanced reports whether both legs hold equal quantity.
func (p Position) Balanced() bool {
	return p.NetExposureQty() < qtyEpsilon
}
