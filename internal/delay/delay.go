package delay

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/san-kum/rampmerge/internal/config"
	"github.com/san-kum/rampmerge/internal/vehicle"
)

const (
	RecordCapacity = 10
	MinSamples     = 3
)

type Model interface {
	Estimate(vehicles []*vehicle.Vehicle, tick int, dt float64, zone config.Zone)
	Delay(id vehicle.ID) float64
	Log() []Estimate
}

// Estimate is one entry of the shared estimation log.
type Estimate struct {
	Time    float64
	Vehicle vehicle.ID
	Delay   float64
}

type Sample struct {
	SentTime    float64
	ReceiveTime float64
	OneWay      float64
}

// Record is a fixed-capacity FIFO of samples for one vehicle.
type Record struct {
	samples [RecordCapacity]Sample
	head    int
	n       int
}

func (r *Record) Push(s Sample) {
	r.samples[(r.head+r.n)%RecordCapacity] = s
	if r.n < RecordCapacity {
		r.n++
		return
	}
	r.head = (r.head + 1) % RecordCapacity
}

func (r *Record) Len() int { return r.n }

// Samples returns the retained samples, oldest first.
func (r *Record) Samples() []Sample {
	out := make([]Sample, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.samples[(r.head+i)%RecordCapacity]
	}
	return out
}

func (r *Record) MeanOneWay() float64 {
	if r.n == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < r.n; i++ {
		sum += r.samples[(r.head+i)%RecordCapacity].OneWay
	}
	return sum / float64(r.n)
}

type Adaptive struct {
	Mean     float64
	Std      float64
	Default  float64
	rng      *rand.Rand
	records  map[vehicle.ID]*Record
	estimate map[vehicle.ID]float64
	log      []Estimate
}

func NewAdaptive(mean, std, def float64, seed int64) *Adaptive {
	return &Adaptive{
		Mean:     mean,
		Std:      std,
		Default:  def,
		rng:      rand.New(rand.NewSource(seed)),
		records:  make(map[vehicle.ID]*Record),
		estimate: make(map[vehicle.ID]float64),
	}
}

func (a *Adaptive) Estimate(vehicles []*vehicle.Vehicle, tick int, dt float64, zone config.Zone) {
	now := float64(tick) * dt
	for _, v := range vehicles {
		if !zone.Contains(v.Position) {
			continue
		}
		rec, ok := a.records[v.ID]
		if !ok {
			rec = &Record{}
			a.records[v.ID] = rec
		}
		oneWay := math.Max(0, a.rng.NormFloat64()*a.Std+a.Mean)
		rec.Push(Sample{SentTime: now, ReceiveTime: now + oneWay, OneWay: oneWay})

		if rec.Len() >= MinSamples {
			rtt := 2 * rec.MeanOneWay()
			a.estimate[v.ID] = rtt
			a.log = append(a.log, Estimate{Time: now, Vehicle: v.ID, Delay: rtt})
		}
	}
}

func (a *Adaptive) Delay(id vehicle.ID) float64 {
	if d, ok := a.estimate[id]; ok {
		return d
	}
	return a.Default
}

func (a *Adaptive) Log() []Estimate { return a.log }

// Record exposes a vehicle's sample history, nil if it never entered the zone.
func (a *Adaptive) Record(id vehicle.ID) *Record { return a.records[id] }

type Fixed struct {
	Value float64
}

func NewFixed(value float64) *Fixed { return &Fixed{Value: value} }

func (f *Fixed) Estimate([]*vehicle.Vehicle, int, float64, config.Zone) {}
func (f *Fixed) Delay(vehicle.ID) float64                               { return f.Value }
func (f *Fixed) Log() []Estimate                                        { return nil }

func New(cfg config.DelayConfig, seed int64) (Model, error) {
	def := cfg.Default
	if def <= 0 {
		def = config.DefaultDelay
	}
	switch cfg.Mode {
	case "adaptive", "":
		return NewAdaptive(cfg.Mean, cfg.Std, def, seed), nil
	case "fixed":
		return NewFixed(cfg.Fixed), nil
	default:
		return nil, fmt.Errorf("unknown delay mode: %s", cfg.Mode)
	}
}
