package planner

import (
	"sort"

	"github.com/samber/lo"
	"github.com/san-kum/rampmerge/internal/config"
	"github.com/san-kum/rampmerge/internal/delay"
	"github.com/san-kum/rampmerge/internal/vehicle"
)

// OtherTarget is the advisory for vehicles on unclassified segments.
const OtherTarget = 30.0

// Topology answers neighbour lookups on the simulated road.
type Topology interface {
	Neighbours(v *vehicle.Vehicle) (front, rear *vehicle.Vehicle)
}

// ClassLimits bound the target speed of one road class.
type ClassLimits struct {
	Floor     float64
	Threshold float64
	Ceiling   float64
}

type CorrectedState struct {
	Position     float64
	Speed        float64
	Acceleration float64
}

// Coordination describes the slot the search settled on in one tick.
type Coordination struct {
	Ramp       vehicle.ID
	Mainline   vehicle.ID
	RampTime   float64
	MainTime   float64
	RampTarget float64
	MainTarget float64
	Evaluated  int
}

// Plan is one tick's output.
type Plan struct {
	Index        int
	Speeds       map[vehicle.ID]float64
	Gaps         map[Pair]float64
	Coordination *Coordination
	Released     []vehicle.ID
}

type Planner struct {
	dt          float64
	absoluteCap float64
	zones       config.ZoneConfig
	coord       config.CoordinationConfig
	safety      Safety
	limits      map[vehicle.Class]ClassLimits

	classifier vehicle.Classifier
	delays     delay.Model
	topo       Topology

	speeds      *SnapshotLog[vehicle.ID]
	gaps        *SnapshotLog[Pair]
	coordinated *CoordinatedSet
}

func New(cfg *config.Config, delays delay.Model, topo Topology) *Planner {
	return &Planner{
		dt:          cfg.Dt,
		absoluteCap: cfg.AbsoluteCap,
		zones:       cfg.Zones,
		coord:       cfg.Coordination,
		safety:      SafetyFromConfig(cfg.Safety),
		limits: map[vehicle.Class]ClassLimits{
			vehicle.ClassMainline: ClassLimits(cfg.Mainline),
			vehicle.ClassRamp:     ClassLimits(cfg.Ramp),
			vehicle.ClassOther:    {Floor: 0, Threshold: cfg.AbsoluteCap, Ceiling: cfg.AbsoluteCap},
		},
		classifier:  vehicle.NewClassifier(cfg.Segments.Mainline, cfg.Segments.Ramp),
		delays:      delays,
		topo:        topo,
		speeds:      NewSnapshotLog[vehicle.ID](cfg.History.Capacity),
		gaps:        NewSnapshotLog[Pair](cfg.History.Capacity),
		coordinated: NewCoordinatedSet(),
	}
}

func (p *Planner) Limits(c vehicle.Class) ClassLimits { return p.limits[c] }

func (p *Planner) LimitsFor(v *vehicle.Vehicle) ClassLimits {
	return p.limits[p.classifier.Class(v)]
}

func (p *Planner) Classifier() vehicle.Classifier     { return p.classifier }
func (p *Planner) Safety() Safety                     { return p.safety }
func (p *Planner) SpeedLog() *SnapshotLog[vehicle.ID] { return p.speeds }
func (p *Planner) GapLog() *SnapshotLog[Pair]         { return p.gaps }
func (p *Planner) Coordinated() *CoordinatedSet       { return p.coordinated }

func (p *Planner) SafeDistance(vFollow, vLead float64) float64 {
	return p.safety.SafeDistance(vFollow, vLead)
}

// CorrectState dead-reckons v forward by its estimated delay.
func (p *Planner) CorrectState(v *vehicle.Vehicle) CorrectedState {
	var front *vehicle.Vehicle
	if p.topo != nil {
		front, _ = p.topo.Neighbours(v)
	}
	a := v.Acceleration(front)
	d := p.delays.Delay(v.ID)
	return CorrectedState{
		Position:     v.Position + v.Speed*d + 0.5*a*d*d,
		Speed:        v.Speed + a*d,
		Acceleration: a,
	}
}

// ReplaySpeed returns the advisory v held in the snapshot at index.
func (p *Planner) ReplaySpeed(id vehicle.ID, index int) (float64, bool) {
	return p.speeds.Lookup(index, id)
}

// CoordinateMerge walks candidates nearest-first and stops at the first whose
// predicted arrival trails the ramp vehicle's by more than the time gap.
func (p *Planner) CoordinateMerge(ramp *vehicle.Vehicle, candidates []*vehicle.Vehicle) *Coordination {
	if ramp == nil || len(candidates) == 0 {
		return nil
	}
	mergePoint := p.zones.MergePoint()
	rampLim := p.LimitsFor(ramp)
	rampAcc, _ := ramp.Limits()
	rs := p.CorrectState(ramp)
	p.coordinated.Consider(ramp.ID)

	for i, m := range candidates {
		p.coordinated.Consider(m.ID)
		mainLim := p.LimitsFor(m)
		_, mainDec := m.Limits()
		ms := p.CorrectState(m)

		rampTime := PredictArrivalTime(mergePoint-rs.Position, rs.Speed, rampLim.Ceiling, rampAcc)
		mainTime := PredictArrivalTime(mergePoint-ms.Position, ms.Speed, mainLim.Floor, mainDec)
		if mainTime-rampTime <= p.coord.TimeGap {
			continue
		}

		c := &Coordination{
			Ramp:       ramp.ID,
			Mainline:   m.ID,
			RampTime:   rampTime,
			MainTime:   mainTime,
			RampTarget: lo.Clamp(rs.Speed+rampAcc*p.dt, rampLim.Floor, rampLim.Ceiling),
			MainTarget: lo.Clamp(ms.Speed+mainDec*p.dt, mainLim.Floor, mainLim.Ceiling),
			Evaluated:  i + 1,
		}
		p.coordinated.Mark(ramp.ID, m.ID)
		ramp.Coordinated = true
		m.Coordinated = true
		return c
	}
	return nil
}

func (p *Planner) naturalTarget(v *vehicle.Vehicle) float64 {
	class := p.classifier.Class(v)
	lim := p.limits[class]
	if class == vehicle.ClassOther {
		return lo.Clamp(OtherTarget, lim.Floor, p.absoluteCap)
	}
	accMax, accMin := v.Limits()
	target := v.Speed + accMin*p.dt
	if v.Speed < lim.Threshold {
		target = v.Speed + accMax*p.dt
	}
	return lo.Clamp(target, lim.Floor, p.absoluteCap)
}

// PlanTrajectory produces the advisories for one tick. sequence is the merge
// order; it decides which ramp vehicle is coordinated first.
func (p *Planner) PlanTrajectory(sequence []*vehicle.Vehicle) *Plan {
	mergePoint := p.zones.MergePoint()
	plan := &Plan{
		Speeds: make(map[vehicle.ID]float64, len(sequence)),
		Gaps:   make(map[Pair]float64),
	}

	var ramp *vehicle.Vehicle
	var candidates []*vehicle.Vehicle
	for _, v := range sequence {
		plan.Speeds[v.ID] = p.naturalTarget(v)

		if v.Position > mergePoint && p.coordinated.Release(v.ID) {
			plan.Released = append(plan.Released, v.ID)
		}

		switch p.classifier.Class(v) {
		case vehicle.ClassMainline:
			v.LaneChangeEnabled = !p.zones.Merging.Contains(v.Position)
			if v.Lane.Index == p.coord.MergeLane && v.Position < mergePoint {
				candidates = append(candidates, v)
			}
		case vehicle.ClassRamp:
			if ramp == nil && v.Position < mergePoint {
				ramp = v
			}
		}
	}

	p.plannedGaps(sequence, plan.Gaps)

	sort.SliceStable(candidates, func(i, j int) bool {
		return mergePoint-candidates[i].Position < mergePoint-candidates[j].Position
	})
	if n := p.coord.MaxCandidates; n > 0 && len(candidates) > n {
		candidates = candidates[:n]
	}
	if c := p.CoordinateMerge(ramp, candidates); c != nil {
		plan.Speeds[c.Ramp] = c.RampTarget
		plan.Speeds[c.Mainline] = c.MainTarget
		plan.Coordination = c
	}

	p.gaps.Append(plan.Gaps)
	plan.Index = p.speeds.Append(plan.Speeds)
	return plan
}

// plannedGaps pairs each vehicle with its nearest same-lane leader inside the
// gap horizon and plans the safe distance between their corrected speeds.
func (p *Planner) plannedGaps(sequence []*vehicle.Vehicle, out map[Pair]float64) {
	states := make(map[vehicle.ID]CorrectedState, len(sequence))
	state := func(v *vehicle.Vehicle) CorrectedState {
		s, ok := states[v.ID]
		if !ok {
			s = p.CorrectState(v)
			states[v.ID] = s
		}
		return s
	}

	for _, follower := range sequence {
		leader := NearestLeader(sequence, follower, p.coord.GapHorizon)
		if leader == nil {
			continue
		}
		key := Pair{Leader: leader.ID, Follower: follower.ID}
		out[key] = p.safety.SafeDistance(state(follower).Speed, state(leader).Speed)
	}
}

// NearestLeader is the closest vehicle strictly ahead of v in its exact lane
// and within horizon, or nil.
func NearestLeader(all []*vehicle.Vehicle, v *vehicle.Vehicle, horizon float64) *vehicle.Vehicle {
	var leader *vehicle.Vehicle
	best := horizon
	for _, o := range all {
		if o.ID == v.ID || !o.Lane.SameLane(v.Lane) {
			continue
		}
		d := o.Position - v.Position
		if d > 0 && d < best {
			best = d
			leader = o
		}
	}
	return leader
}
