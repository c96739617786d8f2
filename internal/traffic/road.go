package traffic

import (
	"math"
	"sort"

	"github.com/samber/lo"
	"github.com/san-kum/rampmerge/internal/config"
	"github.com/san-kum/rampmerge/internal/planner"
	"github.com/san-kum/rampmerge/internal/vehicle"
)

const (
	// speedGain is the proportional gain constant-model vehicles use to track
	// their target speed.
	speedGain = 1 / 0.6
	// laneChangeDelay is the minimum time between two lane changes of one vehicle.
	laneChangeDelay = 1.0
	// laneChangeAdvantage is the extra front gap a mainline lane change must buy.
	laneChangeAdvantage = 10.0
	// mergeLead is how far before the merge zone a ramp vehicle starts looking
	// for a slot.
	mergeLead   = 5.0
	mergeLaneIx = 2
)

// Track is the physical carriageway a vehicle drives on. Lanes of one track
// and index are continuous across segment boundaries.
type Track int

const (
	TrackMainline Track = iota
	TrackRamp
)

type physLane struct {
	track Track
	index int
}

// Gate decides whether v may move in between front and rear; either may be nil.
type Gate func(v, front, rear *vehicle.Vehicle) bool

// SafeGate accepts a slot when both gaps cover the safe distance. Vehicles
// holding a coordinated slot only need the standstill gap.
func SafeGate(s planner.Safety) Gate {
	return func(v, front, rear *vehicle.Vehicle) bool {
		need := func(vFollow, vLead float64) float64 {
			if v.Coordinated {
				return s.MinGap
			}
			return s.SafeDistance(vFollow, vLead)
		}
		if front != nil && v.GapTo(front) < need(v.Speed, front.Speed) {
			return false
		}
		if rear != nil && rear.GapTo(v) < need(rear.Speed, v.Speed) {
			return false
		}
		return true
	}
}

type Collision struct {
	Time float64
	A, B vehicle.ID
}

// StepReport lists what changed on the road during one step.
type StepReport struct {
	Merged      []vehicle.ID
	LaneChanges []vehicle.ID
	Collisions  []Collision
}

type Option func(*Road)

func WithGate(g Gate) Option {
	return func(r *Road) { r.gate = g }
}

// Road is a single-ramp merge section: a mainline of MainlineLanes lanes over
// the segments a-b, b-c, c-d and a ramp j-k, k-b that continues as an
// acceleration lane b-c/2 up to MergeLaneEnd. It implements manager.Fleet and
// planner.Topology.
type Road struct {
	cfg   *config.Config
	gate  Gate
	model func() vehicle.AccelerationModel

	vehicles   []*vehicle.Vehicle
	track      map[vehicle.ID]Track
	lastChange map[vehicle.ID]float64
	ego        *vehicle.Vehicle
	nextID     vehicle.ID
	time       float64
}

func New(cfg *config.Config, opts ...Option) *Road {
	r := &Road{
		cfg:        cfg,
		gate:       SafeGate(planner.SafetyFromConfig(cfg.Safety)),
		track:      make(map[vehicle.ID]Track),
		lastChange: make(map[vehicle.ID]float64),
		nextID:     1,
	}
	switch cfg.Traffic.Model {
	case "constant":
		r.model = func() vehicle.AccelerationModel {
			return vehicle.NewConstant(vehicle.DefaultAccel, -vehicle.DefaultAccel)
		}
	default:
		r.model = func() vehicle.AccelerationModel { return vehicle.NewIDM() }
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add registers a vehicle on the given track and lane index. IDs are assigned
// in registration order and never reused.
func (r *Road) Add(track Track, index int, position, speed float64) *vehicle.Vehicle {
	v := vehicle.New(r.nextID, vehicle.LaneIndex{}, position, speed, r.model())
	r.nextID++
	r.track[v.ID] = track
	v.Lane = r.laneAt(track, index, position)
	r.vehicles = append(r.vehicles, v)
	return v
}

func (r *Road) SetEgo(v *vehicle.Vehicle) { r.ego = v }

func (r *Road) Vehicles() []*vehicle.Vehicle { return r.vehicles }
func (r *Road) Ego() *vehicle.Vehicle        { return r.ego }
func (r *Road) Time() float64                { return r.time }
func (r *Road) Track(id vehicle.ID) Track    { return r.track[id] }

func (r *Road) Crashed() bool {
	return lo.SomeBy(r.vehicles, func(v *vehicle.Vehicle) bool { return v.Crashed })
}

// Neighbours returns the nearest vehicles ahead and behind on v's physical lane.
func (r *Road) Neighbours(v *vehicle.Vehicle) (front, rear *vehicle.Vehicle) {
	return r.neighboursOn(r.physical(v), v.Position, v.ID)
}

func (r *Road) neighboursOn(lane physLane, position float64, self vehicle.ID) (front, rear *vehicle.Vehicle) {
	ahead, behind := math.Inf(1), math.Inf(1)
	for _, o := range r.vehicles {
		if o.ID == self || r.physical(o) != lane {
			continue
		}
		d := o.Position - position
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

func (r *Road) physical(v *vehicle.Vehicle) physLane {
	if r.track[v.ID] == TrackRamp {
		return physLane{track: TrackRamp}
	}
	return physLane{track: TrackMainline, index: v.Lane.Index}
}

// laneAt maps a track position onto the segment addressing the controller
// classifies by.
func (r *Road) laneAt(track Track, index int, position float64) vehicle.LaneIndex {
	z := r.cfg.Zones
	if track == TrackRamp {
		switch {
		case position < z.Merging.Start:
			return vehicle.LaneIndex{From: "j", To: "k"}
		case position < z.MergePoint():
			return vehicle.LaneIndex{From: "k", To: "b"}
		default:
			return vehicle.LaneIndex{From: "b", To: "c", Index: mergeLaneIx}
		}
	}
	switch {
	case position < z.MergePoint():
		return vehicle.LaneIndex{From: "a", To: "b", Index: index}
	case position < r.cfg.Traffic.MergeLaneEnd:
		return vehicle.LaneIndex{From: "b", To: "c", Index: index}
	default:
		return vehicle.LaneIndex{From: "c", To: "d", Index: index}
	}
}

// Step advances the road by dt: lane changes first, then synchronous
// acceleration and integration, then collision checks.
func (r *Road) Step(dt float64) StepReport {
	var rep StepReport
	r.changeLanes(&rep)

	acc := make([]float64, len(r.vehicles))
	for i, v := range r.vehicles {
		acc[i] = r.acceleration(v)
	}

	end := r.cfg.Traffic.MergeLaneEnd
	for i, v := range r.vehicles {
		if v.Crashed {
			continue
		}
		a := acc[i]
		if m, ok := v.Accel.(vehicle.Rememberer); ok {
			m.Remember(a)
		}
		v.Position += math.Max(0, v.Speed*dt+0.5*a*dt*dt)
		v.Speed = math.Max(0, v.Speed+a*dt)

		// Acceleration lane runs out: wait at its end for a slot.
		if r.track[v.ID] == TrackRamp && v.Position >= end {
			v.Position = end
			v.Speed = 0
		}
		v.Lane = r.laneAt(r.track[v.ID], v.Lane.Index, v.Position)
	}

	r.time += dt
	rep.Collisions = r.detectCollisions()
	return rep
}

func (r *Road) acceleration(v *vehicle.Vehicle) float64 {
	if v.Crashed {
		return 0
	}
	front, _ := r.Neighbours(v)
	if _, ok := v.Accel.(*vehicle.IDM); ok {
		return v.Acceleration(front)
	}
	maxAcc, maxDec := v.Limits()
	a := lo.Clamp(speedGain*(v.TargetSpeed-v.Speed), maxDec, maxAcc)
	if front != nil && v.GapTo(front) < r.cfg.Safety.MinGap {
		a = maxDec
	}
	return a
}

func (r *Road) changeLanes(rep *StepReport) {
	for _, v := range r.vehicles {
		if v.Crashed {
			continue
		}
		if last, ok := r.lastChange[v.ID]; ok && r.time-last < laneChangeDelay {
			continue
		}
		if r.track[v.ID] == TrackRamp {
			if r.tryMerge(v) {
				rep.Merged = append(rep.Merged, v.ID)
			}
			continue
		}
		if v.LaneChangeEnabled && r.tryOvertake(v) {
			rep.LaneChanges = append(rep.LaneChanges, v.ID)
		}
	}
}

// tryMerge moves a ramp vehicle onto the mainline merge lane once it is close
// to the merge zone and the gate accepts the slot.
func (r *Road) tryMerge(v *vehicle.Vehicle) bool {
	if v.Position < r.cfg.Zones.Merging.Start-mergeLead {
		return false
	}
	target := physLane{track: TrackMainline, index: r.cfg.Coordination.MergeLane}
	front, rear := r.neighboursOn(target, v.Position, v.ID)
	if !r.gate(v, front, rear) {
		return false
	}
	r.moveTo(v, target)
	return true
}

// tryOvertake moves a mainline vehicle to an adjacent lane when it is closer
// than the safe distance to its leader and the other lane is clearly better.
func (r *Road) tryOvertake(v *vehicle.Vehicle) bool {
	lanes := r.cfg.Traffic.MainlineLanes
	if lanes < 2 {
		return false
	}
	front, _ := r.Neighbours(v)
	if front == nil {
		return false
	}
	current := v.GapTo(front)
	if current >= planner.SafetyFromConfig(r.cfg.Safety).SafeDistance(v.Speed, front.Speed) {
		return false
	}

	for _, ix := range []int{v.Lane.Index - 1, v.Lane.Index + 1} {
		if ix < 0 || ix >= lanes {
			continue
		}
		target := physLane{track: TrackMainline, index: ix}
		nf, nr := r.neighboursOn(target, v.Position, v.ID)
		gain := math.Inf(1)
		if nf != nil {
			gain = v.GapTo(nf) - current
		}
		if gain < laneChangeAdvantage || !r.gate(v, nf, nr) {
			continue
		}
		r.moveTo(v, target)
		return true
	}
	return false
}

func (r *Road) moveTo(v *vehicle.Vehicle, lane physLane) {
	r.track[v.ID] = lane.track
	v.Lane = r.laneAt(lane.track, lane.index, v.Position)
	r.lastChange[v.ID] = r.time
}

// detectCollisions marks overlapping vehicles on one physical lane as crashed
// and stops them.
func (r *Road) detectCollisions() []Collision {
	byLane := lo.GroupBy(r.vehicles, func(v *vehicle.Vehicle) physLane { return r.physical(v) })

	var out []Collision
	for _, lane := range byLane {
		for i, a := range lane {
			for _, b := range lane[i+1:] {
				follower, leader := a, b
				if follower.Position > leader.Position {
					follower, leader = leader, follower
				}
				if follower.GapTo(leader) >= 0 || (follower.Crashed && leader.Crashed) {
					continue
				}
				for _, v := range []*vehicle.Vehicle{follower, leader} {
					v.Crashed = true
					v.Speed = 0
				}
				out = append(out, Collision{Time: r.time, A: follower.ID, B: leader.ID})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].A < out[j].A })
	return out
}
