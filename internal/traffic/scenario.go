package traffic

import (
	"fmt"
	"math/rand"

	"github.com/san-kum/rampmerge/internal/config"
)

const kmh = 1 / 3.6

// Populate builds the merge scenario described by cfg.Traffic: the ego on the
// ramp, registered first, followed by the mainline vehicles in the configured
// order with jittered positions, random lanes and random speeds.
func Populate(cfg *config.Config, seed int64, opts ...Option) (*Road, error) {
	t := cfg.Traffic
	if len(t.MainlineSpeedKmh) != 2 || len(t.EgoSpeedKmh) != 2 {
		return nil, fmt.Errorf("%w: speed ranges need exactly two bounds", config.ErrInvalidConfig)
	}
	rng := rand.New(rand.NewSource(seed))
	uniform := func(lo, hi float64) float64 { return lo + rng.Float64()*(hi-lo) }

	road := New(cfg, opts...)
	ego := road.Add(TrackRamp, 0, t.EgoPosition, uniform(t.EgoSpeedKmh[0], t.EgoSpeedKmh[1])*kmh)
	road.SetEgo(ego)

	for _, pos := range t.MainlinePositions {
		lane := rng.Intn(t.MainlineLanes)
		x := pos + uniform(-t.Jitter, t.Jitter)
		road.Add(TrackMainline, lane, x, uniform(t.MainlineSpeedKmh[0], t.MainlineSpeedKmh[1])*kmh)
	}
	return road, nil
}
