package experiment

import (
	"context"
	"errors"

	"github.com/samber/lo"
	"github.com/san-kum/rampmerge/internal/config"
	"github.com/san-kum/rampmerge/internal/logging"
	"golang.org/x/sync/errgroup"
)

// Summary is the outcome of one ensemble member.
type Summary struct {
	Seed        int64
	Steps       int
	SpeedError  float64
	GapError    float64
	Coordinated int
	Merged      int
	Collided    bool
}

// Ensemble runs the same scenario over consecutive seeds.
type Ensemble struct {
	cfg       *config.Config
	runs      int
	seedStart int64
	workers   int
	log       logging.Logger
}

func NewEnsemble(cfg *config.Config, runs int, seedStart int64, workers int, log logging.Logger) *Ensemble {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Ensemble{cfg: cfg, runs: runs, seedStart: seedStart, workers: workers, log: log}
}

// Run executes every member with at most workers in flight. Summaries are
// ordered by seed. A collision is part of a member's outcome; any other
// failure cancels the remaining members.
func (e *Ensemble) Run(ctx context.Context) ([]Summary, error) {
	summaries := make([]Summary, e.runs)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i := 0; i < e.runs; i++ {
		i := i
		g.Go(func() error {
			cfg := *e.cfg
			cfg.Seed = e.seedStart + int64(i)

			exp, err := New(&cfg, WithLogger(e.log.With(logging.Any("seed", cfg.Seed))))
			if err != nil {
				return err
			}
			result, err := exp.Run(ctx)
			if err != nil && !errors.Is(err, ErrCollision) {
				return err
			}

			summaries[i] = Summary{
				Seed:        cfg.Seed,
				Steps:       result.Steps,
				SpeedError:  result.SpeedError,
				GapError:    result.GapError,
				Coordinated: len(result.Coordinated),
				Merged:      len(result.Merged),
				Collided:    len(result.Collisions) > 0,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

// Aggregate averages the errors over the members and counts collisions.
func Aggregate(summaries []Summary) (speed, gap float64, collisions int) {
	if len(summaries) == 0 {
		return 0, 0, 0
	}
	n := float64(len(summaries))
	speed = lo.SumBy(summaries, func(s Summary) float64 { return s.SpeedError }) / n
	gap = lo.SumBy(summaries, func(s Summary) float64 { return s.GapError }) / n
	collisions = lo.CountBy(summaries, func(s Summary) bool { return s.Collided })
	return speed, gap, collisions
}
