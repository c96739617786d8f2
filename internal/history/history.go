// Package history keeps the planned and realized speed and gap series of a
// run and scores how closely vehicles followed their advisories.
package history

import (
	"context"
	"math"
	"sort"

	"github.com/samber/lo"
	"github.com/san-kum/rampmerge/internal/config"
	"github.com/san-kum/rampmerge/internal/logging"
	"github.com/san-kum/rampmerge/internal/planner"
	"github.com/san-kum/rampmerge/internal/vehicle"
)

// TickErrors are the averaged relative errors of one tick, in percent.
// A flag is false when no pair qualified.
type TickErrors struct {
	Time     float64
	Speed    float64
	HasSpeed bool
	Gap      float64
	HasGap   bool
}

type Recorder struct {
	cfg config.HistoryConfig
	log logging.Logger

	times          *Series
	plannedSpeeds  map[vehicle.ID]*Series
	actualSpeeds   map[vehicle.ID]*Series
	plannedGaps    map[planner.Pair]*Series
	actualGaps     map[planner.Pair]*Series
	delays         map[vehicle.ID]*Series
	speedErrors    *Series
	gapErrors      *Series
	speedErrorMean *Mean
	gapErrorMean   *Mean
}

func New(cfg config.HistoryConfig, log logging.Logger) *Recorder {
	if log == nil {
		log = logging.Noop()
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = 0.1
	}
	if cfg.MaxErrPct <= 0 {
		cfg.MaxErrPct = 200
	}
	return &Recorder{
		cfg:            cfg,
		log:            log,
		times:          NewSeries(cfg.Capacity),
		plannedSpeeds:  make(map[vehicle.ID]*Series),
		actualSpeeds:   make(map[vehicle.ID]*Series),
		plannedGaps:    make(map[planner.Pair]*Series),
		actualGaps:     make(map[planner.Pair]*Series),
		delays:         make(map[vehicle.ID]*Series),
		speedErrors:    NewSeries(cfg.Capacity),
		gapErrors:      NewSeries(cfg.Capacity),
		speedErrorMean: NewMean("speed_error"),
		gapErrorMean:   NewMean("gap_error"),
	}
}

// RelativeError is |actual-planned| / max(eps, planned).
func (r *Recorder) RelativeError(planned, actual float64) float64 {
	return math.Abs(actual-planned) / math.Max(r.cfg.Epsilon, planned)
}

// Record appends one tick to every series and scores it.
func (r *Recorder) Record(t float64, plannedSpeeds, actualSpeeds map[vehicle.ID]float64, plannedGaps, actualGaps map[planner.Pair]float64) TickErrors {
	te := TickErrors{Time: t}
	r.times.Append(t, t)

	var sum float64
	var n int
	for _, id := range sortedIDs(plannedSpeeds) {
		p := plannedSpeeds[id]
		appendTo(r.plannedSpeeds, id, r.cfg.Capacity, t, p)
		a, ok := actualSpeeds[id]
		if !ok {
			continue
		}
		appendTo(r.actualSpeeds, id, r.cfg.Capacity, t, a)
		sum += r.RelativeError(p, a)
		n++
	}
	if n > 0 {
		te.Speed = math.Min(sum/float64(n)*100, r.cfg.MaxErrPct)
		te.HasSpeed = true
		r.speedErrors.Append(t, te.Speed)
		r.speedErrorMean.Observe(te.Speed)
	}

	sum, n = 0, 0
	for _, pair := range sortedPairs(plannedGaps) {
		p := plannedGaps[pair]
		appendTo(r.plannedGaps, pair, r.cfg.Capacity, t, p)
		a, ok := actualGaps[pair]
		if !ok || p < r.cfg.ValidFloor || a < r.cfg.ValidFloor {
			continue
		}
		sum += r.RelativeError(p, a)
		n++
	}
	for pair, a := range actualGaps {
		appendTo(r.actualGaps, pair, r.cfg.Capacity, t, a)
	}
	if n > 0 {
		te.Gap = math.Min(sum/float64(n)*100, r.cfg.MaxErrPct)
		te.HasGap = true
		r.gapErrors.Append(t, te.Gap)
		r.gapErrorMean.Observe(te.Gap)
	}

	r.log.Debug(context.Background(), "tick recorded",
		logging.Float("time", t),
		logging.Float("speed_error_pct", te.Speed),
		logging.Float("gap_error_pct", te.Gap),
	)
	return te
}

func (r *Recorder) RecordDelay(t float64, id vehicle.ID, d float64) {
	appendTo(r.delays, id, r.cfg.Capacity, t, d)
}

// AverageErrors returns the run-long mean of the per-tick averages.
func (r *Recorder) AverageErrors() (speed, gap float64) {
	return r.speedErrorMean.Value(), r.gapErrorMean.Value()
}

func (r *Recorder) Ticks() int                          { return r.times.Len() }
func (r *Recorder) Times() []float64                    { return r.times.Values() }
func (r *Recorder) SpeedErrors() []Point                { return r.speedErrors.Points() }
func (r *Recorder) GapErrors() []Point                  { return r.gapErrors.Points() }
func (r *Recorder) PlannedSpeeds(id vehicle.ID) []Point { return r.plannedSpeeds[id].Points() }
func (r *Recorder) ActualSpeeds(id vehicle.ID) []Point  { return r.actualSpeeds[id].Points() }
func (r *Recorder) PlannedGaps(p planner.Pair) []Point  { return r.plannedGaps[p].Points() }
func (r *Recorder) ActualGaps(p planner.Pair) []Point   { return r.actualGaps[p].Points() }
func (r *Recorder) Delays(id vehicle.ID) []Point        { return r.delays[id].Points() }

// Vehicles lists every vehicle with a planned speed series.
func (r *Recorder) Vehicles() []vehicle.ID { return sortedIDs(r.plannedSpeeds) }

// Pairs lists every ordered pair with a planned gap series.
func (r *Recorder) Pairs() []planner.Pair { return sortedPairs(r.plannedGaps) }

func appendTo[K comparable](m map[K]*Series, key K, capacity int, t, v float64) {
	s, ok := m[key]
	if !ok {
		s = NewSeries(capacity)
		m[key] = s
	}
	s.Append(t, v)
}

func sortedIDs[V any](m map[vehicle.ID]V) []vehicle.ID {
	ids := lo.Keys(m)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedPairs[V any](m map[planner.Pair]V) []planner.Pair {
	pairs := lo.Keys(m)
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Leader != pairs[j].Leader {
			return pairs[i].Leader < pairs[j].Leader
		}
		return pairs[i].Follower < pairs[j].Follower
	})
	return pairs
}
