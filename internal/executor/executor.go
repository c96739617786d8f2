// Package executor turns planned speeds into the setpoints vehicles actually
// receive. An emergency brake takes priority; otherwise a vehicle tracks the
// advisory it would hold after the communication delay, at a bounded rate.
package executor

import (
	"math"

	"github.com/samber/lo"
	"github.com/san-kum/rampmerge/internal/config"
	"github.com/san-kum/rampmerge/internal/delay"
	"github.com/san-kum/rampmerge/internal/manager"
	"github.com/san-kum/rampmerge/internal/planner"
	"github.com/san-kum/rampmerge/internal/vehicle"
)

// Source records where a vehicle's tracking target came from.
type Source int

const (
	SourceReplay Source = iota
	SourceLive
	SourceCurrent
	SourceEmergency
)

func (s Source) String() string {
	switch s {
	case SourceReplay:
		return "replay"
	case SourceLive:
		return "live"
	case SourceCurrent:
		return "current"
	default:
		return "emergency"
	}
}

type Command struct {
	Vehicle vehicle.ID
	Target  float64
	Source  Source
}

type Report struct {
	Commands  []Command
	Overrides []vehicle.ID
	Replayed  int
}

type Executor struct {
	fleet   manager.Fleet
	manager *manager.Manager
	planner *planner.Planner
	delays  delay.Model

	dt             float64
	absoluteCap    float64
	emergencyDecel float64
	emergencyRatio float64
	horizon        float64
	tracking       config.TrackingConfig

	gaps map[planner.Pair]float64
}

func New(cfg *config.Config, fleet manager.Fleet, mgr *manager.Manager, p *planner.Planner, delays delay.Model) *Executor {
	return &Executor{
		fleet:          fleet,
		manager:        mgr,
		planner:        p,
		delays:         delays,
		dt:             cfg.Dt,
		absoluteCap:    cfg.AbsoluteCap,
		emergencyDecel: cfg.Safety.EmergencyDecel,
		emergencyRatio: cfg.Safety.EmergencyRatio,
		horizon:        cfg.Coordination.GapHorizon,
		tracking:       cfg.Tracking,
		gaps:           make(map[planner.Pair]float64),
	}
}

// ApplyControl sets every vehicle's target speed for this tick and records
// its current speed into actual.
func (e *Executor) ApplyControl(plan *planner.Plan, actual map[vehicle.ID]float64) Report {
	var r Report
	for _, v := range e.fleet.Vehicles() {
		actual[v.ID] = v.Speed
		floor := e.planner.LimitsFor(v).Floor

		if target, ok := e.emergency(v, floor); ok {
			v.TargetSpeed = target
			r.Overrides = append(r.Overrides, v.ID)
			r.Commands = append(r.Commands, Command{Vehicle: v.ID, Target: target, Source: SourceEmergency})
			continue
		}

		target, src := e.trackingTarget(plan, v)
		if src == SourceReplay {
			r.Replayed++
		}
		v.TargetSpeed = e.approach(v.Speed, math.Max(target, floor), floor)
		r.Commands = append(r.Commands, Command{Vehicle: v.ID, Target: v.TargetSpeed, Source: src})
	}
	e.measureGaps()
	return r
}

// emergency brakes when the gap to the leader falls below a fraction of the
// safe distance. The class floor only holds vehicles already above it, so
// the command never exceeds the current speed.
func (e *Executor) emergency(v *vehicle.Vehicle, floor float64) (float64, bool) {
	leader := e.manager.FindLeader(v)
	if leader == nil {
		return 0, false
	}
	if v.GapTo(leader) >= e.emergencyRatio*e.planner.SafeDistance(v.Speed, leader.Speed) {
		return 0, false
	}
	target := math.Max(0, v.Speed+e.emergencyDecel*e.dt)
	if v.Speed > floor {
		target = math.Max(target, floor)
	}
	return target, true
}

func (e *Executor) trackingTarget(plan *planner.Plan, v *vehicle.Vehicle) (float64, Source) {
	if plan == nil {
		return v.Speed, SourceCurrent
	}
	offset := int(math.Round(e.delays.Delay(v.ID) / e.dt))
	if s, ok := e.planner.ReplaySpeed(v.ID, plan.Index-offset); ok {
		return s, SourceReplay
	}
	if s, ok := plan.Speeds[v.ID]; ok {
		return s, SourceLive
	}
	return v.Speed, SourceCurrent
}

func (e *Executor) approach(speed, target, floor float64) float64 {
	diff := target - speed
	if math.Abs(diff) <= e.tracking.Deadband {
		return lo.Clamp(target, floor, e.absoluteCap)
	}
	var acc float64
	if diff > 0 {
		acc = math.Min(e.tracking.MaxAccel, diff/e.tracking.AccelGain)
	} else {
		acc = math.Max(e.tracking.MaxDecel, diff/e.tracking.DecelGain)
	}
	return lo.Clamp(speed+acc*e.dt, floor, e.absoluteCap)
}

func (e *Executor) measureGaps() {
	all := e.fleet.Vehicles()
	gaps := make(map[planner.Pair]float64, len(all))
	for _, v := range all {
		leader := planner.NearestLeader(all, v, e.horizon)
		if leader == nil {
			continue
		}
		gaps[planner.Pair{Leader: leader.ID, Follower: v.ID}] = v.GapTo(leader)
	}
	e.gaps = gaps
}

// Gaps returns the realized gaps measured by the last ApplyControl.
func (e *Executor) Gaps() map[planner.Pair]float64 { return e.gaps }
