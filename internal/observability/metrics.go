package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TickStats is what the controller reports after each coordination tick.
type TickStats struct {
	Duration    time.Duration
	Vehicles    map[string]int // by road class
	Coordinated bool
	Members     int
	Overrides   int
	Replayed    int
	SpeedError  float64
	HasSpeed    bool
	GapError    float64
	HasGap      bool
}

// ControllerCollector bundles the Prometheus metrics of the roadside
// controller and exposes them over HTTP.
type ControllerCollector struct {
	gatherer prometheus.Gatherer

	Ticks         prometheus.Counter
	Coordinations prometheus.Counter
	Overrides     prometheus.Counter
	Replayed      prometheus.Counter
	TickDuration  prometheus.Histogram

	Vehicles            *prometheus.GaugeVec
	CoordinatedVehicles prometheus.Gauge
	SpeedError          prometheus.Gauge
	GapError            prometheus.Gauge
}

// NewControllerCollector registers controller metrics against reg, defaulting
// to the global Prometheus registry when nil.
func NewControllerCollector(reg prometheus.Registerer) (*ControllerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &ControllerCollector{gatherer: gatherer}
	var err error

	if c.Ticks, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rampmerge_ticks_total",
		Help: "Coordination ticks completed.",
	}), "rampmerge_ticks_total"); err != nil {
		return nil, err
	}
	if c.Coordinations, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rampmerge_coordinations_total",
		Help: "Ticks in which the slot search found a feasible mainline partner.",
	}), "rampmerge_coordinations_total"); err != nil {
		return nil, err
	}
	if c.Overrides, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rampmerge_emergency_overrides_total",
		Help: "Setpoints replaced by an emergency brake command.",
	}), "rampmerge_emergency_overrides_total"); err != nil {
		return nil, err
	}
	if c.Replayed, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rampmerge_replayed_commands_total",
		Help: "Setpoints taken from a delay-replayed plan.",
	}), "rampmerge_replayed_commands_total"); err != nil {
		return nil, err
	}
	if c.TickDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rampmerge_tick_duration_seconds",
		Help:    "Wall time of one controller tick.",
		Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05},
	}), "rampmerge_tick_duration_seconds"); err != nil {
		return nil, err
	}
	if c.Vehicles, err = registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rampmerge_vehicles",
		Help: "Vehicles perceived in the last tick, labeled by road class.",
	}, []string{"class"}), "rampmerge_vehicles"); err != nil {
		return nil, err
	}
	if c.CoordinatedVehicles, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rampmerge_coordinated_vehicles",
		Help: "Vehicles ever selected by the slot search.",
	}), "rampmerge_coordinated_vehicles"); err != nil {
		return nil, err
	}
	if c.SpeedError, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rampmerge_speed_error_percent",
		Help: "Average relative speed error of the last scored tick.",
	}), "rampmerge_speed_error_percent"); err != nil {
		return nil, err
	}
	if c.GapError, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rampmerge_gap_error_percent",
		Help: "Average relative gap error of the last scored tick.",
	}), "rampmerge_gap_error_percent"); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *ControllerCollector) ObserveTick(s TickStats) {
	if c == nil {
		return
	}
	c.Ticks.Inc()
	c.TickDuration.Observe(s.Duration.Seconds())
	if s.Coordinated {
		c.Coordinations.Inc()
	}
	c.Overrides.Add(float64(s.Overrides))
	c.Replayed.Add(float64(s.Replayed))
	for class, n := range s.Vehicles {
		c.Vehicles.WithLabelValues(class).Set(float64(n))
	}
	c.CoordinatedVehicles.Set(float64(s.Members))
	if s.HasSpeed {
		c.SpeedError.Set(s.SpeedError)
	}
	if s.HasGap {
		c.GapError.Set(s.GapError)
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *ControllerCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
