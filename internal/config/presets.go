package config

import "sort"

// Presets are scenario variations applied on top of DefaultConfig.
var Presets = map[string]func(*Config){
	"merge-v1": func(c *Config) {},
	"light": func(c *Config) {
		c.Traffic.MainlinePositions = []float64{300, 220, 150, 60}
	},
	"dense": func(c *Config) {
		c.Traffic.MainlinePositions = []float64{400, 370, 340, 310, 280, 250, 220, 190, 160, 130, 100, 70, 40, 10}
		c.Traffic.MainlineSpeedKmh = []float64{60, 75}
	},
	"fixed-delay": func(c *Config) {
		c.Delay.Mode = "fixed"
		c.Delay.Fixed = 0.1
	},
	"high-delay": func(c *Config) {
		c.Delay.Mean = 0.15
		c.Delay.Std = 0.05
	},
	"bounded-history": func(c *Config) {
		c.History.Capacity = 200
	},
}

func GetPreset(name string) *Config {
	apply, ok := Presets[name]
	if !ok {
		return nil
	}
	cfg := DefaultConfig()
	cfg.Scenario = name
	apply(cfg)
	return cfg
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
