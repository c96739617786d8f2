package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultDt          = 0.1
	DefaultDuration    = 40.0
	DefaultAbsoluteCap = 35.0
	DefaultDelay       = 0.05
	kmh                = 1 / 3.6
)

var ErrInvalidConfig = errors.New("invalid config")

// Zone is a closed interval along the longitudinal road coordinate.
type Zone struct {
	Start float64 `yaml:"start"`
	End   float64 `yaml:"end"`
}

func (z Zone) Contains(x float64) bool { return z.Start <= x && x <= z.End }

type Config struct {
	Scenario     string             `yaml:"scenario"`
	Dt           float64            `yaml:"dt"`
	Duration     float64            `yaml:"duration"`
	Seed         int64              `yaml:"seed"`
	Delay        DelayConfig        `yaml:"delay"`
	Zones        ZoneConfig         `yaml:"zones"`
	Segments     SegmentConfig      `yaml:"segments"`
	Mainline     ClassConfig        `yaml:"mainline"`
	Ramp         ClassConfig        `yaml:"ramp"`
	AbsoluteCap  float64            `yaml:"absolute_cap"`
	Safety       SafetyConfig       `yaml:"safety"`
	Coordination CoordinationConfig `yaml:"coordination"`
	Tracking     TrackingConfig     `yaml:"tracking"`
	History      HistoryConfig      `yaml:"history"`
	Traffic      TrafficConfig      `yaml:"traffic"`
	Log          LogConfig          `yaml:"log"`
}

type DelayConfig struct {
	Mode    string  `yaml:"mode"` // adaptive or fixed
	Mean    float64 `yaml:"mean"`
	Std     float64 `yaml:"std"`
	Fixed   float64 `yaml:"fixed"`
	Default float64 `yaml:"default"`
}

type ZoneConfig struct {
	DelayEstimation Zone `yaml:"delay_estimation"`
	Control         Zone `yaml:"control"`
	Merging         Zone `yaml:"merging"`
}

// MergePoint is where the ramp geometry ends into the mainline.
func (z ZoneConfig) MergePoint() float64 { return z.Merging.End }

type SegmentConfig struct {
	Mainline []string `yaml:"mainline"`
	Ramp     []string `yaml:"ramp"`
}

type ClassConfig struct {
	Floor     float64 `yaml:"floor"`
	Threshold float64 `yaml:"threshold"`
	Ceiling   float64 `yaml:"ceiling"`
}

type SafetyConfig struct {
	MinGap         float64 `yaml:"min_gap"`
	TimeGap        float64 `yaml:"time_gap"`
	ClosingMargin  float64 `yaml:"closing_margin"`
	EmergencyDecel float64 `yaml:"emergency_decel"`
	EmergencyRatio float64 `yaml:"emergency_ratio"`
}

type CoordinationConfig struct {
	TimeGap        float64 `yaml:"time_gap"`
	MergeLane      int     `yaml:"merge_lane"`
	MaxCandidates  int     `yaml:"max_candidates"`
	RelevantRadius float64 `yaml:"relevant_radius"`
	GapHorizon     float64 `yaml:"gap_horizon"`
	DefaultAccel   float64 `yaml:"default_accel"`
}

type TrackingConfig struct {
	MaxAccel  float64 `yaml:"max_accel"`
	MaxDecel  float64 `yaml:"max_decel"`
	AccelGain float64 `yaml:"accel_gain"`
	DecelGain float64 `yaml:"decel_gain"`
	Deadband  float64 `yaml:"deadband"`
}

type HistoryConfig struct {
	// Capacity bounds every history series; 0 keeps the whole run.
	Capacity   int     `yaml:"capacity"`
	Epsilon    float64 `yaml:"epsilon"`
	MaxErrPct  float64 `yaml:"max_error_pct"`
	ValidFloor float64 `yaml:"valid_floor"`
}

type TrafficConfig struct {
	Model             string    `yaml:"model"` // idm or constant
	MainlinePositions []float64 `yaml:"mainline_positions"`
	MainlineSpeedKmh  []float64 `yaml:"mainline_speed_kmh"`
	MainlineLanes     int       `yaml:"mainline_lanes"`
	EgoPosition       float64   `yaml:"ego_position"`
	EgoSpeedKmh       []float64 `yaml:"ego_speed_kmh"`
	Jitter            float64   `yaml:"jitter"`
	MergeLaneEnd      float64   `yaml:"merge_lane_end"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func DefaultConfig() *Config {
	return &Config{
		Scenario: "merge-v1",
		Dt:       DefaultDt,
		Duration: DefaultDuration,
		Delay: DelayConfig{
			Mode:    "adaptive",
			Mean:    0.025,
			Std:     0.012,
			Fixed:   0.1,
			Default: DefaultDelay,
		},
		Zones: ZoneConfig{
			DelayEstimation: Zone{Start: 50, End: 80},
			Control:         Zone{Start: 80, End: 130},
			Merging:         Zone{Start: 150, End: 230},
		},
		Segments: SegmentConfig{
			Mainline: []string{"a", "b", "c"},
			Ramp:     []string{"j", "k"},
		},
		Mainline: ClassConfig{
			Floor:     50 * kmh,
			Threshold: 70 * kmh,
			Ceiling:   DefaultAbsoluteCap,
		},
		Ramp: ClassConfig{
			Floor:     20 * kmh,
			Threshold: 30 * kmh,
			Ceiling:   25,
		},
		AbsoluteCap: DefaultAbsoluteCap,
		Safety: SafetyConfig{
			MinGap:         8.0,
			TimeGap:        1.8,
			ClosingMargin:  1.0,
			EmergencyDecel: -3.5,
			EmergencyRatio: 0.7,
		},
		Coordination: CoordinationConfig{
			TimeGap:        1.0,
			MergeLane:      1,
			MaxCandidates:  1,
			RelevantRadius: 50,
			GapHorizon:     100,
			DefaultAccel:   2.0,
		},
		Tracking: TrackingConfig{
			MaxAccel:  0.8,
			MaxDecel:  -2.5,
			AccelGain: 2.0,
			DecelGain: 0.5,
			Deadband:  0.1,
		},
		History: HistoryConfig{
			Epsilon:    0.1,
			MaxErrPct:  200,
			ValidFloor: 0.5,
		},
		Traffic: TrafficConfig{
			Model:             "idm",
			MainlinePositions: []float64{390, 350, 300, 260, 220, 190, 150, 120, 90, 50, 30, 5},
			MainlineSpeedKmh:  []float64{55, 65},
			MainlineLanes:     2,
			EgoPosition:       140,
			EgoSpeedKmh:       []float64{25, 35},
			Jitter:            5,
			MergeLaneEnd:      310,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	if c.Dt <= 0 {
		return fmt.Errorf("%w: dt must be positive, got %f", ErrInvalidConfig, c.Dt)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive, got %f", ErrInvalidConfig, c.Duration)
	}
	switch c.Delay.Mode {
	case "adaptive":
		if c.Delay.Mean < 0 || c.Delay.Std < 0 {
			return fmt.Errorf("%w: delay mean/std must be non-negative", ErrInvalidConfig)
		}
	case "fixed":
		if c.Delay.Fixed < 0 {
			return fmt.Errorf("%w: fixed delay must be non-negative", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown delay mode %q", ErrInvalidConfig, c.Delay.Mode)
	}
	zones := map[string]Zone{
		"delay_estimation": c.Zones.DelayEstimation,
		"control":          c.Zones.Control,
		"merging":          c.Zones.Merging,
	}
	for name, z := range zones {
		if z.Start > z.End {
			return fmt.Errorf("%w: zone %s starts after it ends", ErrInvalidConfig, name)
		}
	}
	for name, cl := range map[string]ClassConfig{"mainline": c.Mainline, "ramp": c.Ramp} {
		if cl.Floor < 0 || cl.Floor > cl.Ceiling {
			return fmt.Errorf("%w: %s floor %.2f outside [0, ceiling %.2f]", ErrInvalidConfig, name, cl.Floor, cl.Ceiling)
		}
	}
	if c.Coordination.MaxCandidates < 1 {
		return fmt.Errorf("%w: coordination.max_candidates must be at least 1", ErrInvalidConfig)
	}
	if c.History.Capacity < 0 {
		return fmt.Errorf("%w: history.capacity must be non-negative", ErrInvalidConfig)
	}
	switch c.Traffic.Model {
	case "idm", "constant":
	default:
		return fmt.Errorf("%w: unknown traffic model %q", ErrInvalidConfig, c.Traffic.Model)
	}
	if c.Traffic.MainlineLanes < 1 {
		return fmt.Errorf("%w: traffic.mainline_lanes must be at least 1", ErrInvalidConfig)
	}
	return nil
}
