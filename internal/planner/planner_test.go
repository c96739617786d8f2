package planner

import (
	"math"
	"testing"

	"github.com/san-kum/rampmerge/internal/config"
	"github.com/san-kum/rampmerge/internal/delay"
	"github.com/san-kum/rampmerge/internal/manager"
	"github.com/san-kum/rampmerge/internal/vehicle"
)

var (
	rampLane = vehicle.LaneIndex{From: "j", To: "k", Index: 0}
	mainLane = vehicle.LaneIndex{From: "a", To: "b", Index: 1}
)

func newPlanner(d float64, vs ...*vehicle.Vehicle) *Planner {
	return New(config.DefaultConfig(), delay.NewFixed(d), manager.NewStaticFleet(vs...))
}

func TestSafeDistance(t *testing.T) {
	s := SafetyFromConfig(config.DefaultConfig().Safety)

	if got := s.SafeDistance(0, 0); got != 8 {
		t.Errorf("standstill safe distance: expected 8, got %f", got)
	}
	if got := s.SafeDistance(10, 15); math.Abs(got-26) > 1e-9 {
		t.Errorf("expected 26, got %f", got)
	}

	prev := -1.0
	for vf := 0.0; vf <= 40; vf += 0.5 {
		d := s.SafeDistance(vf, 20)
		if d < prev {
			t.Fatalf("safe distance decreased at follower speed %f", vf)
		}
		prev = d
	}

	prev = -1.0
	for closing := 0.0; closing <= 20; closing += 0.5 {
		d := s.SafeDistance(20, 20-closing)
		if d < prev {
			t.Fatalf("safe distance decreased at closing speed %f", closing)
		}
		prev = d
	}
}

func TestPredictArrivalTime(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		v0       float64
		vTarget  float64
		aMax     float64
		want     float64
	}{
		{"constant speed", 100, 20, 20, 3, 5},
		{"zero rate", 100, 20, 30, 0, 5},
		{"standstill uses epsilon", 1, 0, 0, 3, 10},
		{"accelerate then cruise", 175, 10, 20, 2, 10},
		{"still accelerating", 24, 10, 20, 2, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PredictArrivalTime(tt.distance, tt.v0, tt.vTarget, tt.aMax)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("expected %f, got %f", tt.want, got)
			}
		})
	}
}

func TestPredictArrivalTimeContinuous(t *testing.T) {
	cases := []struct{ v0, vTarget, a float64 }{
		{10, 20, 2},
		{25, 50 / 3.6, -5},
		{5.56, 25, 3},
	}
	for _, c := range cases {
		tAcc := math.Abs((c.vTarget - c.v0) / c.a)
		crossover := c.v0*tAcc + 0.5*math.Copysign(math.Abs(c.a), c.vTarget-c.v0)*tAcc*tAcc

		at := PredictArrivalTime(crossover, c.v0, c.vTarget, c.a)
		past := PredictArrivalTime(crossover+1e-9, c.v0, c.vTarget, c.a)
		before := PredictArrivalTime(crossover-1e-9, c.v0, c.vTarget, c.a)

		if math.Abs(at-past) > 1e-6 || math.Abs(at-before) > 1e-6 {
			t.Errorf("%+v: discontinuity at %f: %f / %f / %f", c, crossover, before, at, past)
		}
		if math.Abs(at-tAcc) > 1e-6 {
			t.Errorf("%+v: expected crossover time %f, got %f", c, tAcc, at)
		}
	}
}

func TestPredictArrivalTimeRateFollowsTarget(t *testing.T) {
	// a positive rate toward a lower target still decelerates
	got := PredictArrivalTime(1000, 25, 15, 3)
	want := PredictArrivalTime(1000, 25, 15, -3)
	if got != want {
		t.Errorf("expected %f, got %f", want, got)
	}
}

func TestCorrectState(t *testing.T) {
	model := vehicle.NewConstant(2, -2)
	model.Remember(1)
	v := vehicle.New(1, mainLane, 100, 10, model)
	p := newPlanner(0.2, v)

	s := p.CorrectState(v)
	if math.Abs(s.Position-102.02) > 1e-9 {
		t.Errorf("expected position 102.02, got %f", s.Position)
	}
	if math.Abs(s.Speed-10.2) > 1e-9 {
		t.Errorf("expected speed 10.2, got %f", s.Speed)
	}
	if s.Acceleration != 1 {
		t.Errorf("expected acceleration 1, got %f", s.Acceleration)
	}
}

func TestCoordinateMergeFeasible(t *testing.T) {
	ramp := vehicle.New(1, rampLane, 80, 20, vehicle.NewIDM())
	main := vehicle.New(2, mainLane, 40, 25, vehicle.NewIDM())
	p := newPlanner(0, ramp, main)

	c := p.CoordinateMerge(ramp, []*vehicle.Vehicle{main})
	if c == nil {
		t.Fatal("expected coordination")
	}
	if c.MainTime-c.RampTime <= 1.0 {
		t.Errorf("expected arrival gap above 1s, got %f", c.MainTime-c.RampTime)
	}
	if math.Abs(c.RampTarget-20.3) > 1e-9 {
		t.Errorf("expected ramp target 20.3, got %f", c.RampTarget)
	}
	if math.Abs(c.MainTarget-24.5) > 1e-9 {
		t.Errorf("expected mainline target 24.5, got %f", c.MainTarget)
	}
	if !p.Coordinated().Contains(1) || !p.Coordinated().Contains(2) {
		t.Error("both vehicles should be coordinated")
	}
	if !ramp.Coordinated || !main.Coordinated {
		t.Error("coordinated marker not set")
	}
}

func TestCoordinateMergeInfeasible(t *testing.T) {
	// mainline vehicle is about to reach the merge point
	ramp := vehicle.New(1, rampLane, 80, 10, vehicle.NewIDM())
	main := vehicle.New(2, mainLane, 220, 25, vehicle.NewIDM())
	p := newPlanner(0, ramp, main)

	if c := p.CoordinateMerge(ramp, []*vehicle.Vehicle{main}); c != nil {
		t.Fatalf("expected no coordination, got %+v", c)
	}
	if p.Coordinated().Len() != 0 {
		t.Error("infeasible search must not coordinate")
	}
	if p.Coordinated().Phase(2) != Candidate {
		t.Errorf("expected candidate phase, got %v", p.Coordinated().Phase(2))
	}
}

func TestCoordinateMergeFirstFit(t *testing.T) {
	ramp := vehicle.New(1, rampLane, 80, 20, vehicle.NewIDM())
	near := vehicle.New(2, mainLane, 220, 25, vehicle.NewIDM())
	far := vehicle.New(3, mainLane, 40, 25, vehicle.NewIDM())
	farther := vehicle.New(4, mainLane, 0, 25, vehicle.NewIDM())
	p := newPlanner(0, ramp, near, far, farther)

	c := p.CoordinateMerge(ramp, []*vehicle.Vehicle{near, far, farther})
	if c == nil || c.Mainline != 3 {
		t.Fatalf("expected first feasible candidate v3, got %+v", c)
	}
	if c.Evaluated != 2 {
		t.Errorf("expected search to stop after 2 candidates, got %d", c.Evaluated)
	}
	if p.Coordinated().Contains(4) {
		t.Error("search continued past the first fit")
	}
}

func TestPlanTrajectory(t *testing.T) {
	lane0 := vehicle.LaneIndex{From: "a", To: "b", Index: 0}
	ramp := vehicle.New(1, rampLane, 80, 20, vehicle.NewIDM())
	main := vehicle.New(2, mainLane, 40, 25, vehicle.NewIDM())
	inZone := vehicle.New(3, lane0, 180, 25, vehicle.NewIDM())
	slow := vehicle.New(4, lane0, 60, 10, vehicle.NewIDM())
	other := vehicle.New(5, vehicle.LaneIndex{From: "x", To: "y"}, 0, 0, nil)
	ahead := vehicle.New(6, mainLane, 100, 25, vehicle.NewIDM())
	p := newPlanner(0, ramp, main, inZone, slow, other, ahead)

	plan := p.PlanTrajectory([]*vehicle.Vehicle{ramp, inZone, ahead, main, slow, other})

	if plan.Coordination == nil {
		t.Fatal("expected coordination")
	}
	if plan.Coordination.Mainline != 6 {
		t.Errorf("expected nearest merge-lane vehicle v6 as partner, got %v", plan.Coordination.Mainline)
	}
	if plan.Speeds[6] != plan.Coordination.MainTarget || plan.Speeds[1] != plan.Coordination.RampTarget {
		t.Error("coordination targets should override natural targets")
	}
	if p.Coordinated().Contains(2) {
		t.Error("only one candidate should be considered")
	}

	floor := p.Limits(vehicle.ClassMainline).Floor
	if plan.Speeds[4] != floor {
		t.Errorf("slow mainline vehicle should be held at the floor %f, got %f", floor, plan.Speeds[4])
	}
	if plan.Speeds[5] != OtherTarget {
		t.Errorf("expected %f for unclassified vehicle, got %f", OtherTarget, plan.Speeds[5])
	}
	if inZone.LaneChangeEnabled {
		t.Error("lane change should be suppressed inside the merge zone")
	}
	if !main.LaneChangeEnabled {
		t.Error("lane change should stay enabled outside the merge zone")
	}

	if g, ok := plan.Gaps[Pair{Leader: 6, Follower: 2}]; !ok || math.Abs(g-53) > 1e-9 {
		t.Errorf("expected planned gap 53 for v6>v2, got %f (%v)", g, ok)
	}
	if _, ok := plan.Gaps[Pair{Leader: 3, Follower: 4}]; ok {
		t.Error("pair beyond the gap horizon should not be planned")
	}
	if plan.Index != 0 || p.SpeedLog().Len() != 1 || p.GapLog().Len() != 1 {
		t.Errorf("expected one snapshot, got index %d", plan.Index)
	}
}

func TestReplayAtZeroOffset(t *testing.T) {
	ramp := vehicle.New(1, rampLane, 80, 20, vehicle.NewIDM())
	main := vehicle.New(2, mainLane, 40, 25, vehicle.NewIDM())
	p := newPlanner(0, ramp, main)

	for tick := 0; tick < 5; tick++ {
		plan := p.PlanTrajectory([]*vehicle.Vehicle{ramp, main})
		for id, want := range plan.Speeds {
			got, ok := p.ReplaySpeed(id, plan.Index)
			if !ok || got != want {
				t.Fatalf("tick %d: replay of %v gave %f (%v), live plan %f", tick, id, got, ok, want)
			}
		}
		ramp.Position += 2
		main.Position += 2.5
	}
}

func TestCoordinatedSetOnlyGrows(t *testing.T) {
	ramp := vehicle.New(1, rampLane, 80, 20, vehicle.NewIDM())
	main := vehicle.New(2, mainLane, 40, 25, vehicle.NewIDM())
	p := newPlanner(0, ramp, main)

	seen := map[vehicle.ID]bool{}
	prev := 0
	for tick := 0; tick < 120; tick++ {
		p.PlanTrajectory([]*vehicle.Vehicle{ramp, main})
		if p.Coordinated().Len() < prev {
			t.Fatalf("tick %d: set shrank from %d to %d", tick, prev, p.Coordinated().Len())
		}
		for id := range seen {
			if !p.Coordinated().Contains(id) {
				t.Fatalf("tick %d: %v lost membership", tick, id)
			}
		}
		for _, id := range p.Coordinated().IDs() {
			seen[id] = true
		}
		prev = p.Coordinated().Len()
		ramp.Position += ramp.Speed * 0.1
		main.Position += main.Speed * 0.1
	}

	if !seen[2] {
		t.Fatal("expected v2 to be coordinated at some point")
	}
	if p.Coordinated().Phase(2) != Released {
		t.Errorf("expected v2 released after passing the merge point, got %v", p.Coordinated().Phase(2))
	}
}

func TestSnapshotLogRing(t *testing.T) {
	l := NewSnapshotLog[vehicle.ID](2)
	for i := 0; i < 3; i++ {
		if idx := l.Append(map[vehicle.ID]float64{1: float64(i)}); idx != i {
			t.Fatalf("expected index %d, got %d", i, idx)
		}
	}

	if l.Len() != 3 || l.Retained() != 2 {
		t.Errorf("expected len 3 retained 2, got %d/%d", l.Len(), l.Retained())
	}
	if _, ok := l.At(0); ok {
		t.Error("oldest snapshot should be evicted")
	}
	if v, ok := l.Lookup(2, 1); !ok || v != 2 {
		t.Errorf("expected 2 at index 2, got %f (%v)", v, ok)
	}
	if _, ok := l.Lookup(1, 99); ok {
		t.Error("missing key should not be found")
	}
}

func TestSnapshotLogCopies(t *testing.T) {
	l := NewSnapshotLog[Pair](0)
	m := map[Pair]float64{{Leader: 1, Follower: 2}: 10}
	l.Append(m)
	m[Pair{Leader: 1, Follower: 2}] = 99

	if v, _ := l.Lookup(0, Pair{Leader: 1, Follower: 2}); v != 10 {
		t.Errorf("snapshot aliased caller map: %f", v)
	}
}
