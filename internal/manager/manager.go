package manager

import (
	"math"
	"sort"

	"github.com/samber/lo"
	"github.com/san-kum/rampmerge/internal/config"
	"github.com/san-kum/rampmerge/internal/vehicle"
)

const DefaultRelevantRadius = 50.0

// Fleet is the simulator-side view of the road the controller perceives.
type Fleet interface {
	Vehicles() []*vehicle.Vehicle
	Ego() *vehicle.Vehicle
	Neighbours(v *vehicle.Vehicle) (front, rear *vehicle.Vehicle)
}

type Classification struct {
	Mainline []*vehicle.Vehicle
	Ramp     []*vehicle.Vehicle
	Ego      *vehicle.Vehicle
}

// Manager answers read-only questions about the fleet; it never mutates vehicles.
type Manager struct {
	fleet      Fleet
	classifier vehicle.Classifier
	radius     float64
}

func New(fleet Fleet, classifier vehicle.Classifier, radius float64) *Manager {
	if radius <= 0 {
		radius = DefaultRelevantRadius
	}
	return &Manager{fleet: fleet, classifier: classifier, radius: radius}
}

func (m *Manager) Class(v *vehicle.Vehicle) vehicle.Class { return m.classifier.Class(v) }

func (m *Manager) Classify() Classification {
	var c Classification
	for _, v := range m.fleet.Vehicles() {
		switch m.classifier.Class(v) {
		case vehicle.ClassMainline:
			c.Mainline = append(c.Mainline, v)
		case vehicle.ClassRamp:
			c.Ramp = append(c.Ramp, v)
		}
	}
	c.Ego = m.fleet.Ego()
	return c
}

// FindLeader returns the nearest vehicle strictly ahead in the same lane. A
// ramp vehicle also treats every mainline vehicle ahead as a potential leader.
func (m *Manager) FindLeader(v *vehicle.Vehicle) *vehicle.Vehicle {
	onRamp := m.classifier.Class(v) == vehicle.ClassRamp

	var leader *vehicle.Vehicle
	best := math.Inf(1)
	for _, other := range m.fleet.Vehicles() {
		if other.ID == v.ID {
			continue
		}
		if !other.Lane.SameLane(v.Lane) && !(onRamp && m.classifier.Class(other) == vehicle.ClassMainline) {
			continue
		}
		d := other.Position - v.Position
		if d > 0 && d < best {
			best = d
			leader = other
		}
	}
	return leader
}

func (m *Manager) RelevantMainline(zone config.Zone) []*vehicle.Vehicle {
	return lo.Filter(m.fleet.Vehicles(), func(v *vehicle.Vehicle, _ int) bool {
		if m.classifier.Class(v) != vehicle.ClassMainline {
			return false
		}
		return math.Abs(zone.Start-v.Position) < m.radius
	})
}

// FindGapVehicles picks the mainline pair that brackets the ramp vehicle at the
// start of the merge zone. Both are nil unless a complete pair exists.
func (m *Manager) FindGapVehicles(candidates []*vehicle.Vehicle, zone config.Zone, rampDistance float64) (leader, follower *vehicle.Vehicle) {
	sorted := make([]*vehicle.Vehicle, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return zone.Start-sorted[i].Position < zone.Start-sorted[j].Position
	})

	for _, v := range sorted {
		d := zone.Start - v.Position
		if d < 0 && math.Abs(d) < math.Abs(rampDistance) {
			if leader == nil || math.Abs(d) < math.Abs(zone.Start-leader.Position) {
				leader = v
			}
		}
		if d > 0 && d > rampDistance {
			if follower == nil || d < zone.Start-follower.Position {
				follower = v
			}
		}
	}
	if leader == nil || follower == nil {
		return nil, nil
	}
	return leader, follower
}

// Gap describes the mainline slot available to a ramp vehicle.
type Gap struct {
	Ramp       vehicle.ID
	Leader     *vehicle.Vehicle
	Follower   *vehicle.Vehicle
	Size       float64
	Required   float64
	Acceptable bool
}

// GapFor sizes the slot bracketing the ramp vehicle against what it needs: its
// own length plus a safe distance on either side.
func (m *Manager) GapFor(ramp *vehicle.Vehicle, zone config.Zone, safe func(vFollow, vLead float64) float64) *Gap {
	distance := zone.Start - ramp.Position
	leader, follower := m.FindGapVehicles(m.RelevantMainline(zone), zone, distance)
	if leader == nil {
		return nil
	}
	g := &Gap{
		Ramp:     ramp.ID,
		Leader:   leader,
		Follower: follower,
		Size:     follower.GapTo(leader),
		Required: ramp.Length + safe(follower.Speed, ramp.Speed) + safe(ramp.Speed, leader.Speed),
	}
	g.Acceptable = g.Size > g.Required
	return g
}
