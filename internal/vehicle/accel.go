package vehicle

import (
	"math"

	"github.com/samber/lo"
)

// AccelerationModel is the capability a vehicle is registered with. The planner
// only ever asks for the current acceleration and the comfort limits.
type AccelerationModel interface {
	Acceleration(self, front *Vehicle) float64
	Limits() (maxAcc, maxDec float64)
}

// Rememberer is implemented by models that cannot derive acceleration and
// fall back to the last value the simulator observed.
type Rememberer interface {
	Remember(a float64)
}

const idmDelta = 4.0

// IDM is the intelligent driver model with the usual highway defaults.
type IDM struct {
	AccMax         float64
	ComfortAccMax  float64
	ComfortAccMin  float64
	DistanceWanted float64
	TimeWanted     float64
}

func NewIDM() *IDM {
	return &IDM{
		AccMax:         6.0,
		ComfortAccMax:  3.0,
		ComfortAccMin:  -5.0,
		DistanceWanted: 5.0 + DefaultLength,
		TimeWanted:     1.5,
	}
}

func (m *IDM) Limits() (float64, float64) {
	return math.Min(m.AccMax, m.ComfortAccMax), math.Max(-m.AccMax, m.ComfortAccMin)
}

func (m *IDM) Acceleration(self, front *Vehicle) float64 {
	target := math.Max(self.TargetSpeed, 0.1)
	acc := m.ComfortAccMax * (1 - math.Pow(math.Max(self.Speed, 0)/target, idmDelta))
	if front != nil {
		d := self.GapTo(front)
		if d <= 0 {
			return -m.AccMax
		}
		acc -= m.ComfortAccMax * math.Pow(m.desiredGap(self, front)/d, 2)
	}
	return lo.Clamp(acc, -m.AccMax, m.AccMax)
}

func (m *IDM) desiredGap(self, front *Vehicle) float64 {
	ab := -m.ComfortAccMax * m.ComfortAccMin
	dv := self.Speed - front.Speed
	return m.DistanceWanted + math.Max(0, self.Speed*m.TimeWanted+self.Speed*dv/(2*math.Sqrt(ab)))
}

// Constant reports the last acceleration it was told about, zero until then.
type Constant struct {
	last   float64
	maxAcc float64
	maxDec float64
}

func NewConstant(maxAcc, maxDec float64) *Constant {
	return &Constant{maxAcc: maxAcc, maxDec: maxDec}
}

func (c *Constant) Acceleration(self, front *Vehicle) float64 { return c.last }
func (c *Constant) Limits() (float64, float64)                { return c.maxAcc, c.maxDec }
func (c *Constant) Remember(a float64)                        { c.last = a }
