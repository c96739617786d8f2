// Package controller runs the roadside coordination pipeline. One Tick
// estimates delays, classifies the fleet, orders the merge sequence, plans,
// actuates and records, strictly in that order.
package controller

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/san-kum/rampmerge/internal/config"
	"github.com/san-kum/rampmerge/internal/delay"
	"github.com/san-kum/rampmerge/internal/executor"
	"github.com/san-kum/rampmerge/internal/history"
	"github.com/san-kum/rampmerge/internal/logging"
	"github.com/san-kum/rampmerge/internal/manager"
	"github.com/san-kum/rampmerge/internal/observability"
	"github.com/san-kum/rampmerge/internal/planner"
	"github.com/san-kum/rampmerge/internal/vehicle"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Option func(*Controller)

func WithLogger(log logging.Logger) Option {
	return func(c *Controller) { c.log = log }
}

func WithCollector(m *observability.ControllerCollector) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithDelayModel replaces the model built from the config.
func WithDelayModel(m delay.Model) Option {
	return func(c *Controller) { c.delays = m }
}

type TickReport struct {
	Tick         int
	Time         float64
	Sequence     []vehicle.ID
	Plan         *planner.Plan
	Coordination *planner.Coordination
	Overrides    []vehicle.ID
	Replayed     int
	Released     []vehicle.ID
	Gaps         map[planner.Pair]float64
	Errors       history.TickErrors
	// Slot is the mainline gap around the leading ramp vehicle that has not
	// entered the merging zone yet, nil when no bracketing pair exists.
	Slot *manager.Gap
}

type Controller struct {
	cfg     *config.Config
	fleet   manager.Fleet
	log     logging.Logger
	metrics *observability.ControllerCollector

	delays   delay.Model
	manager  *manager.Manager
	planner  *planner.Planner
	executor *executor.Executor
	recorder *history.Recorder

	tick int
}

func New(cfg *config.Config, fleet manager.Fleet, topo planner.Topology, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if fleet == nil {
		return nil, fmt.Errorf("controller needs a fleet")
	}
	if topo == nil {
		topo = fleet
	}

	c := &Controller{cfg: cfg, fleet: fleet, log: logging.Noop()}
	for _, opt := range opts {
		opt(c)
	}
	if c.delays == nil {
		d, err := delay.New(cfg.Delay, cfg.Seed)
		if err != nil {
			return nil, err
		}
		c.delays = d
	}

	c.planner = planner.New(cfg, c.delays, topo)
	c.manager = manager.New(fleet, c.planner.Classifier(), cfg.Coordination.RelevantRadius)
	c.executor = executor.New(cfg, fleet, c.manager, c.planner, c.delays)
	c.recorder = history.New(cfg.History, c.log)
	return c, nil
}

func (c *Controller) Recorder() *history.Recorder { return c.recorder }
func (c *Controller) Planner() *planner.Planner   { return c.planner }
func (c *Controller) Manager() *manager.Manager   { return c.manager }
func (c *Controller) Delays() delay.Model         { return c.delays }
func (c *Controller) Ticks() int                  { return c.tick }
func (c *Controller) Time() float64               { return float64(c.tick) * c.cfg.Dt }

// Tick performs one full coordination pass.
func (c *Controller) Tick(ctx context.Context) (*TickReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	c.tick++
	now := c.Time()

	ctx, span := observability.StartSpan(ctx, "controller.tick",
		attribute.Int("tick", c.tick),
		attribute.Float64("time", now),
	)
	defer span.End()

	vehicles := c.fleet.Vehicles()
	zones := c.cfg.Zones

	c.delays.Estimate(vehicles, c.tick, c.cfg.Dt, zones.DelayEstimation)
	for _, v := range vehicles {
		if zones.DelayEstimation.Contains(v.Position) {
			c.recorder.RecordDelay(now, v.ID, c.delays.Delay(v.ID))
		}
	}

	cls := c.manager.Classify()
	sequence := MergeSequence(cls, zones.Merging.Start)
	slot := c.rampGap(cls.Ramp)

	plan := c.planner.PlanTrajectory(sequence)

	actual := make(map[vehicle.ID]float64, len(vehicles))
	exec := c.executor.ApplyControl(plan, actual)
	gaps := c.executor.Gaps()

	errs := c.recorder.Record(now, plan.Speeds, actual, plan.Gaps, gaps)

	report := &TickReport{
		Tick:         c.tick,
		Time:         now,
		Sequence:     ids(sequence),
		Plan:         plan,
		Coordination: plan.Coordination,
		Overrides:    exec.Overrides,
		Replayed:     exec.Replayed,
		Released:     plan.Released,
		Gaps:         gaps,
		Errors:       errs,
		Slot:         slot,
	}

	c.logTick(ctx, report)
	span.SetAttributes(
		attribute.Int("vehicles", len(vehicles)),
		attribute.Bool("coordinated", plan.Coordination != nil),
		attribute.Int("overrides", len(exec.Overrides)),
	)
	if len(exec.Overrides) > 0 {
		span.AddEvent("emergency override", trace.WithAttributes(attribute.Int("count", len(exec.Overrides))))
	}

	c.metrics.ObserveTick(observability.TickStats{
		Duration: time.Since(start),
		Vehicles: map[string]int{
			vehicle.ClassMainline.String(): len(cls.Mainline),
			vehicle.ClassRamp.String():     len(cls.Ramp),
		},
		Coordinated: plan.Coordination != nil,
		Members:     c.planner.Coordinated().Len(),
		Overrides:   len(exec.Overrides),
		Replayed:    exec.Replayed,
		SpeedError:  errs.Speed,
		HasSpeed:    errs.HasSpeed,
		GapError:    errs.Gap,
		HasGap:      errs.HasGap,
	})
	return report, nil
}

// rampGap sizes the slot for the ramp vehicle closest to the merging zone.
func (c *Controller) rampGap(ramp []*vehicle.Vehicle) *manager.Gap {
	zone := c.cfg.Zones.Merging
	var first *vehicle.Vehicle
	for _, v := range ramp {
		if v.Position < zone.Start && (first == nil || v.Position > first.Position) {
			first = v
		}
	}
	if first == nil {
		return nil
	}
	return c.manager.GapFor(first, zone, c.planner.SafeDistance)
}

func (c *Controller) logTick(ctx context.Context, r *TickReport) {
	if g := r.Slot; g != nil {
		c.log.Debug(ctx, "ramp gap",
			logging.Int("tick", r.Tick),
			logging.String("ramp", g.Ramp.String()),
			logging.String("leader", g.Leader.ID.String()),
			logging.String("follower", g.Follower.ID.String()),
			logging.Float("size", g.Size),
			logging.Float("required", g.Required),
			logging.Any("acceptable", g.Acceptable),
		)
	}
	if co := r.Coordination; co != nil {
		c.log.Info(ctx, "merge slot coordinated",
			logging.Int("tick", r.Tick),
			logging.String("ramp", co.Ramp.String()),
			logging.String("mainline", co.Mainline.String()),
			logging.Float("ramp_eta", co.RampTime),
			logging.Float("mainline_eta", co.MainTime),
			logging.Float("ramp_target", co.RampTarget),
			logging.Float("mainline_target", co.MainTarget),
		)
	}
	for _, id := range r.Overrides {
		c.log.Debug(ctx, "emergency override",
			logging.Int("tick", r.Tick),
			logging.String("vehicle", id.String()),
		)
	}
	for _, id := range r.Released {
		c.log.Debug(ctx, "vehicle released after merge point",
			logging.Int("tick", r.Tick),
			logging.String("vehicle", id.String()),
		)
	}
	if ego := c.fleet.Ego(); ego != nil {
		c.log.Debug(ctx, "ego",
			logging.Int("tick", r.Tick),
			logging.String("lane", ego.Lane.String()),
			logging.Float("target_speed", ego.TargetSpeed),
			logging.Float("speed", ego.Speed),
		)
	}
}

// Finish logs and returns the run-long average errors.
func (c *Controller) Finish(ctx context.Context) (speed, gap float64) {
	speed, gap = c.recorder.AverageErrors()
	c.log.Info(ctx, "final average errors",
		logging.Int("ticks", c.tick),
		logging.Float("speed_error_pct", speed),
		logging.Float("gap_error_pct", gap),
		logging.Int("coordinated", c.planner.Coordinated().Len()),
	)
	return speed, gap
}

// MergeSequence orders mainline, ramp and ego vehicles by their naive time to
// the merge-zone start. Ties keep input order.
func MergeSequence(cls manager.Classification, mergeStart float64) []*vehicle.Vehicle {
	seq := make([]*vehicle.Vehicle, 0, len(cls.Mainline)+len(cls.Ramp)+1)
	seen := make(map[vehicle.ID]struct{}, cap(seq))
	add := func(vs ...*vehicle.Vehicle) {
		for _, v := range vs {
			if v == nil {
				continue
			}
			if _, ok := seen[v.ID]; ok {
				continue
			}
			seen[v.ID] = struct{}{}
			seq = append(seq, v)
		}
	}
	add(cls.Mainline...)
	add(cls.Ramp...)
	add(cls.Ego)

	sort.SliceStable(seq, func(i, j int) bool {
		return eta(seq[i], mergeStart) < eta(seq[j], mergeStart)
	})
	return seq
}

func eta(v *vehicle.Vehicle, mergeStart float64) float64 {
	return (mergeStart - v.Position) / math.Max(planner.Epsilon, v.Speed)
}

func ids(vs []*vehicle.Vehicle) []vehicle.ID {
	out := make([]vehicle.ID, len(vs))
	for i, v := range vs {
		out[i] = v.ID
	}
	return out
}
