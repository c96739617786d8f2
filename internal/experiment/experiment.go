package experiment

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/rampmerge/internal/config"
	"github.com/san-kum/rampmerge/internal/controller"
	"github.com/san-kum/rampmerge/internal/history"
	"github.com/san-kum/rampmerge/internal/logging"
	"github.com/san-kum/rampmerge/internal/traffic"
	"github.com/san-kum/rampmerge/internal/vehicle"
)

var ErrCollision = errors.New("collision")

// Observer is notified after every controller tick, before the road moves.
type Observer interface {
	OnStep(report *controller.TickReport, road *traffic.Road)
}

type ObserverFunc func(report *controller.TickReport, road *traffic.Road)

func (f ObserverFunc) OnStep(report *controller.TickReport, road *traffic.Road) { f(report, road) }

type Result struct {
	Steps       int
	Time        float64
	SpeedError  float64
	GapError    float64
	Coordinated []vehicle.ID
	Merged      map[vehicle.ID]float64 // time each ramp vehicle joined the mainline
	LaneChanges int
	Collisions  []traffic.Collision
	History     *history.Recorder
}

type Option func(*Experiment)

func WithLogger(log logging.Logger) Option {
	return func(e *Experiment) { e.log = log }
}

// WithRoad runs on a prepared road instead of populating the configured scenario.
func WithRoad(road *traffic.Road) Option {
	return func(e *Experiment) { e.road = road }
}

func WithControllerOptions(opts ...controller.Option) Option {
	return func(e *Experiment) { e.ctrlOpts = append(e.ctrlOpts, opts...) }
}

type Experiment struct {
	cfg        *config.Config
	road       *traffic.Road
	controller *controller.Controller
	log        logging.Logger
	observers  []Observer
	ctrlOpts   []controller.Option
}

func New(cfg *config.Config, opts ...Option) (*Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Experiment{cfg: cfg, log: logging.Noop()}
	for _, opt := range opts {
		opt(e)
	}

	if e.road == nil {
		road, err := traffic.Populate(cfg, cfg.Seed)
		if err != nil {
			return nil, err
		}
		e.road = road
	}

	ctrlOpts := append([]controller.Option{controller.WithLogger(e.log)}, e.ctrlOpts...)
	c, err := controller.New(cfg, e.road, e.road, ctrlOpts...)
	if err != nil {
		return nil, fmt.Errorf("build controller: %w", err)
	}
	e.controller = c
	return e, nil
}

func (e *Experiment) AddObserver(o Observer) { e.observers = append(e.observers, o) }

func (e *Experiment) Road() *traffic.Road                { return e.road }
func (e *Experiment) Controller() *controller.Controller { return e.controller }

// Run alternates controller ticks and road steps for the configured duration.
// A collision ends the run early; the partial result is returned alongside
// ErrCollision.
func (e *Experiment) Run(ctx context.Context) (*Result, error) {
	steps := int(math.Round(e.cfg.Duration / e.cfg.Dt))
	result := &Result{
		Merged:  make(map[vehicle.ID]float64),
		History: e.controller.Recorder(),
	}

	e.log.Info(ctx, "run started",
		logging.String("scenario", e.cfg.Scenario),
		logging.Int("vehicles", len(e.road.Vehicles())),
		logging.Int("steps", steps),
		logging.Any("seed", e.cfg.Seed),
	)

	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		report, err := e.controller.Tick(ctx)
		if err != nil {
			return result, err
		}
		for _, obs := range e.observers {
			obs.OnStep(report, e.road)
		}

		step := e.road.Step(e.cfg.Dt)
		result.Steps++
		result.Time = e.road.Time()
		result.LaneChanges += len(step.LaneChanges)
		for _, id := range step.Merged {
			result.Merged[id] = result.Time
			e.log.Debug(ctx, "ramp vehicle merged",
				logging.String("vehicle", id.String()),
				logging.Float("time", result.Time),
			)
		}

		if len(step.Collisions) > 0 {
			result.Collisions = append(result.Collisions, step.Collisions...)
			for _, c := range step.Collisions {
				e.log.Warn(ctx, "collision detected",
					logging.Int("step", i),
					logging.String("follower", c.A.String()),
					logging.String("leader", c.B.String()),
				)
			}
			break
		}
	}

	result.SpeedError, result.GapError = e.controller.Finish(ctx)
	result.Coordinated = e.controller.Planner().Coordinated().IDs()

	if len(result.Collisions) > 0 {
		c := result.Collisions[0]
		return result, fmt.Errorf("%w between %s and %s at t=%.2f", ErrCollision, c.A, c.B, c.Time)
	}
	return result, nil
}
