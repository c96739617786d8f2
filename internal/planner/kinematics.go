package planner

import (
	"math"

	"github.com/san-kum/rampmerge/internal/config"
)

const (
	// Epsilon guards every speed used as a denominator.
	Epsilon          = 0.1
	// minArrival is the floor on an arrival time solved from the quadratic branch.
	minArrival       = 0.1
	negligibleDeltaV = 1e-2
)

// Safety holds the constants of the safe-distance law.
type Safety struct {
	MinGap        float64
	TimeGap       float64
	ClosingMargin float64
}

func SafetyFromConfig(c config.SafetyConfig) Safety {
	return Safety{MinGap: c.MinGap, TimeGap: c.TimeGap, ClosingMargin: c.ClosingMargin}
}

// SafeDistance is the gap a follower needs behind a leader.
func (s Safety) SafeDistance(vFollow, vLead float64) float64 {
	return s.MinGap + vFollow*s.TimeGap + math.Max(0, vFollow-vLead)*s.ClosingMargin
}

// PredictArrivalTime returns the time to cover distance when the vehicle
// changes speed at a constant rate from v0 to vTarget and then cruises.
// The rate's sign always points toward vTarget.
func PredictArrivalTime(distance, v0, vTarget, aMax float64) float64 {
	if math.Abs(vTarget-v0) < negligibleDeltaV || aMax == 0 {
		return distance / math.Max(v0, Epsilon)
	}
	a := math.Copysign(math.Abs(aMax), vTarget-v0)

	tAcc := math.Abs((vTarget - v0) / a)
	sAcc := v0*tAcc + 0.5*a*tAcc*tAcc
	if sAcc < distance {
		return tAcc + (distance-sAcc)/math.Max(vTarget, Epsilon)
	}

	// 0.5*a*t^2 + v0*t - distance = 0
	disc := v0*v0 + 2*a*distance
	if disc < 0 {
		return distance / math.Max(v0, Epsilon)
	}
	t := (-v0 + math.Sqrt(disc)) / a
	return math.Max(t, minArrival)
}
