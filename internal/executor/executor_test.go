package executor

import (
	"math"
	"math/rand"
	"testing"

	"github.com/san-kum/rampmerge/internal/config"
	"github.com/san-kum/rampmerge/internal/delay"
	"github.com/san-kum/rampmerge/internal/manager"
	"github.com/san-kum/rampmerge/internal/planner"
	"github.com/san-kum/rampmerge/internal/vehicle"
)

var lane = vehicle.LaneIndex{From: "a", To: "b", Index: 1}

type rig struct {
	cfg     *config.Config
	fleet   *manager.StaticFleet
	planner *planner.Planner
	exec    *Executor
}

func newRig(d float64, vs ...*vehicle.Vehicle) *rig {
	cfg := config.DefaultConfig()
	fleet := manager.NewStaticFleet(vs...)
	delays := delay.NewFixed(d)
	p := planner.New(cfg, delays, fleet)
	mgr := manager.New(fleet, p.Classifier(), cfg.Coordination.RelevantRadius)
	return &rig{
		cfg:     cfg,
		fleet:   fleet,
		planner: p,
		exec:    New(cfg, fleet, mgr, p, delays),
	}
}

func TestEmergencyDeceleration(t *testing.T) {
	// follower speed chosen so the safe distance is exactly 12
	v := 20.0 / 9
	follower := vehicle.New(1, lane, 100, v, nil)
	leader := vehicle.New(2, lane, 100+5+vehicle.DefaultLength, v, nil)
	r := newRig(0, follower, leader)

	if sd := r.planner.SafeDistance(v, v); math.Abs(sd-12) > 1e-9 {
		t.Fatalf("expected safe distance 12, got %f", sd)
	}

	actual := map[vehicle.ID]float64{}
	rep := r.exec.ApplyControl(nil, actual)

	want := math.Max(0, v-3.5*r.cfg.Dt)
	if math.Abs(follower.TargetSpeed-want) > 1e-9 {
		t.Errorf("expected emergency target %f, got %f", want, follower.TargetSpeed)
	}
	if len(rep.Overrides) != 1 || rep.Overrides[0] != 1 {
		t.Errorf("expected override for v1 only, got %v", rep.Overrides)
	}
	if actual[1] != v || actual[2] != v {
		t.Errorf("actual speeds not recorded: %v", actual)
	}
}

func TestEmergencyHoldsClassFloor(t *testing.T) {
	floor := config.DefaultConfig().Mainline.Floor
	follower := vehicle.New(1, lane, 100, floor+0.1, nil)
	leader := vehicle.New(2, lane, 108, 0, nil)
	r := newRig(0, follower, leader)

	r.exec.ApplyControl(nil, map[vehicle.ID]float64{})
	if follower.TargetSpeed != floor {
		t.Errorf("expected floor %f, got %f", floor, follower.TargetSpeed)
	}
}

func TestEmergencyNeverAccelerates(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		v := rng.Float64() * 35
		follower := vehicle.New(1, lane, 0, v, nil)
		leader := vehicle.New(2, lane, vehicle.DefaultLength+rng.Float64()*10, rng.Float64()*35, nil)
		r := newRig(0, follower, leader)

		rep := r.exec.ApplyControl(nil, map[vehicle.ID]float64{})
		if len(rep.Overrides) == 0 {
			continue
		}
		if follower.TargetSpeed > v || follower.TargetSpeed < 0 {
			t.Fatalf("speed %f: emergency target %f out of [0, v]", v, follower.TargetSpeed)
		}
	}
}

func TestTracking(t *testing.T) {
	tests := []struct {
		name    string
		speed   float64
		planned float64
		want    float64
	}{
		{"accelerate bounded", 20, 25, 20.08},
		{"gentle accelerate", 20, 20.5, 20.025},
		{"decelerate bounded", 20, 15, 19.75},
		{"gentle decelerate", 20, 19.8, 19.96},
		{"dead band", 20, 20.05, 20.05},
		{"planned below floor", 14, 5, 14 + math.Max(-2.5, (50/3.6-14)/0.5)*0.1},
		{"capped", 35, 40, 35},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := vehicle.New(1, lane, 0, tt.speed, nil)
			r := newRig(0, v)
			plan := &planner.Plan{Index: 5, Speeds: map[vehicle.ID]float64{1: tt.planned}}

			rep := r.exec.ApplyControl(plan, map[vehicle.ID]float64{})
			if math.Abs(v.TargetSpeed-tt.want) > 1e-9 {
				t.Errorf("expected %f, got %f", tt.want, v.TargetSpeed)
			}
			if rep.Commands[0].Source != SourceLive {
				t.Errorf("expected live plan, got %v", rep.Commands[0].Source)
			}
		})
	}
}

func TestTrackingReplaysDelayedPlan(t *testing.T) {
	v := vehicle.New(1, lane, 0, 20, nil)
	r := newRig(0.2, v)

	log := r.planner.SpeedLog()
	log.Append(map[vehicle.ID]float64{1: 20})
	log.Append(map[vehicle.ID]float64{1: 21})
	idx := log.Append(map[vehicle.ID]float64{1: 22})
	plan := &planner.Plan{Index: idx, Speeds: map[vehicle.ID]float64{1: 22}}

	rep := r.exec.ApplyControl(plan, map[vehicle.ID]float64{})
	if v.TargetSpeed != 20 {
		t.Errorf("expected advisory from two ticks ago (20), got %f", v.TargetSpeed)
	}
	if rep.Replayed != 1 || rep.Commands[0].Source != SourceReplay {
		t.Errorf("expected one replay hit, got %+v", rep)
	}
}

func TestTrackingFallsBackToLivePlan(t *testing.T) {
	v := vehicle.New(1, lane, 0, 20, nil)
	r := newRig(1.0, v)

	idx := r.planner.SpeedLog().Append(map[vehicle.ID]float64{1: 22})
	plan := &planner.Plan{Index: idx, Speeds: map[vehicle.ID]float64{1: 22}}

	rep := r.exec.ApplyControl(plan, map[vehicle.ID]float64{})
	if math.Abs(v.TargetSpeed-20.08) > 1e-9 {
		t.Errorf("expected live-plan tracking to 20.08, got %f", v.TargetSpeed)
	}
	if rep.Replayed != 0 {
		t.Errorf("expected no replay, got %d", rep.Replayed)
	}
}

func TestTrackingFallsBackToCurrentSpeed(t *testing.T) {
	v := vehicle.New(1, lane, 0, 20, nil)
	r := newRig(0, v)

	plan := &planner.Plan{Index: 0, Speeds: map[vehicle.ID]float64{}}
	rep := r.exec.ApplyControl(plan, map[vehicle.ID]float64{})
	if v.TargetSpeed != 20 || rep.Commands[0].Source != SourceCurrent {
		t.Errorf("expected current speed hold, got %f from %v", v.TargetSpeed, rep.Commands[0].Source)
	}
}

func TestGaps(t *testing.T) {
	a := vehicle.New(1, lane, 0, 20, nil)
	b := vehicle.New(2, lane, 30, 20, nil)
	c := vehicle.New(3, lane, 200, 20, nil)
	d := vehicle.New(4, vehicle.LaneIndex{From: "a", To: "b", Index: 0}, 10, 20, nil)
	r := newRig(0, a, b, c, d)

	r.exec.ApplyControl(nil, map[vehicle.ID]float64{})
	gaps := r.exec.Gaps()

	if g := gaps[planner.Pair{Leader: 2, Follower: 1}]; g != 25 {
		t.Errorf("expected gap 25, got %f", g)
	}
	if len(gaps) != 1 {
		t.Errorf("expected exactly one pair, got %v", gaps)
	}
}
