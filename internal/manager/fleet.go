package manager

import (
	"math"

	"github.com/san-kum/rampmerge/internal/vehicle"
)

// StaticFleet is a Fleet over a fixed slice, used where no simulator is running.
type StaticFleet struct {
	List   []*vehicle.Vehicle
	EgoID  vehicle.ID
	HasEgo bool
}

func NewStaticFleet(vs ...*vehicle.Vehicle) *StaticFleet {
	return &StaticFleet{List: vs}
}

func (f *StaticFleet) Vehicles() []*vehicle.Vehicle { return f.List }

func (f *StaticFleet) Ego() *vehicle.Vehicle {
	if !f.HasEgo {
		return nil
	}
	for _, v := range f.List {
		if v.ID == f.EgoID {
			return v
		}
	}
	return nil
}

func (f *StaticFleet) Neighbours(v *vehicle.Vehicle) (front, rear *vehicle.Vehicle) {
	return SameLaneNeighbours(f.List, v)
}

// SameLaneNeighbours finds the nearest vehicles ahead and behind in v's lane.
func SameLaneNeighbours(all []*vehicle.Vehicle, v *vehicle.Vehicle) (front, rear *vehicle.Vehicle) {
	ahead, behind := math.Inf(1), math.Inf(1)
	for _, o := range all {
		if o.ID == v.ID || !o.Lane.SameLane(v.Lane) {
			continue
		}
		d := o.Position - v.Position
		switch {
		case d >= 0 && d < ahead:
			ahead = d
			front = o
		case d < 0 && -d < behind:
			behind = -d
			rear = o
		}
	}
	return front, rear
}
