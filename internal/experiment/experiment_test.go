package experiment_test

import (
	"bytes"
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/rampmerge/internal/config"
	"github.com/san-kum/rampmerge/internal/controller"
	"github.com/san-kum/rampmerge/internal/experiment"
	"github.com/san-kum/rampmerge/internal/logging"
	"github.com/san-kum/rampmerge/internal/traffic"
	"github.com/san-kum/rampmerge/internal/vehicle"
)

var _ = Describe("Experiment", func() {
	var cfg *config.Config

	BeforeEach(func() {
		cfg = config.GetPreset("fixed-delay")
		cfg.Duration = 2
		cfg.Seed = 42
	})

	It("alternates controller ticks and road steps", func() {
		e, err := experiment.New(cfg)
		Expect(err).NotTo(HaveOccurred())

		var ticks []int
		e.AddObserver(experiment.ObserverFunc(func(r *controller.TickReport, road *traffic.Road) {
			ticks = append(ticks, r.Tick)
			Expect(road.Time()).To(BeNumerically("~", float64(r.Tick-1)*cfg.Dt, 1e-9))
		}))

		result, err := e.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())

		Expect(result.Steps).To(Equal(20))
		Expect(result.Time).To(BeNumerically("~", 2.0, 1e-9))
		Expect(ticks).To(HaveLen(20))
		Expect(ticks[0]).To(Equal(1))
		Expect(ticks[19]).To(Equal(20))
		Expect(result.History.Ticks()).To(Equal(20))
		Expect(result.Collisions).To(BeEmpty())
	})

	It("is reproducible for a fixed seed", func() {
		run := func() *experiment.Result {
			e, err := experiment.New(cfg)
			Expect(err).NotTo(HaveOccurred())
			result, err := e.Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
			return result
		}

		first, second := run(), run()
		Expect(second.SpeedError).To(Equal(first.SpeedError))
		Expect(second.GapError).To(Equal(first.GapError))
		Expect(second.Coordinated).To(Equal(first.Coordinated))
	})

	It("stops on a cancelled context", func() {
		e, err := experiment.New(cfg)
		Expect(err).NotTo(HaveOccurred())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result, err := e.Run(ctx)
		Expect(err).To(MatchError(context.Canceled))
		Expect(result.Steps).To(BeZero())
	})

	It("ends the run on a collision", func() {
		road := traffic.New(cfg, traffic.WithGate(func(_, _, _ *vehicle.Vehicle) bool { return false }))
		road.Add(traffic.TrackMainline, 0, 100, 30)
		road.Add(traffic.TrackMainline, 0, 104, 10)

		var buf bytes.Buffer
		log := logging.NewWithWriter(&buf, logging.Config{Level: "info", Format: "text"})
		e, err := experiment.New(cfg, experiment.WithRoad(road), experiment.WithLogger(log))
		Expect(err).NotTo(HaveOccurred())

		result, err := e.Run(context.Background())
		Expect(err).To(MatchError(experiment.ErrCollision))
		Expect(result.Steps).To(Equal(1))
		Expect(result.Collisions).To(HaveLen(1))
		Expect(result.Collisions[0].A).To(Equal(vehicle.ID(1)))
		Expect(buf.String()).To(ContainSubstring("collision detected"))
		Expect(buf.String()).To(ContainSubstring("final average errors"))
	})

	It("records ramp merges", func() {
		road := traffic.New(cfg)
		ego := road.Add(traffic.TrackRamp, 0, 200, 15)
		road.SetEgo(ego)

		e, err := experiment.New(cfg, experiment.WithRoad(road))
		Expect(err).NotTo(HaveOccurred())

		result, err := e.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Merged).To(HaveKeyWithValue(ego.ID, BeNumerically("~", cfg.Dt, 1e-9)))
		Expect(road.Track(ego.ID)).To(Equal(traffic.TrackMainline))
	})

	It("rejects an invalid config", func() {
		cfg.Traffic.Model = "gipps"
		_, err := experiment.New(cfg)
		Expect(err).To(MatchError(config.ErrInvalidConfig))
	})
})

var _ = Describe("Ensemble", func() {
	var cfg *config.Config

	BeforeEach(func() {
		cfg = config.GetPreset("fixed-delay")
		cfg.Duration = 1
	})

	It("runs consecutive seeds and matches sequential runs", func() {
		summaries, err := experiment.NewEnsemble(cfg, 3, 7, 2, nil).Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(summaries).To(HaveLen(3))

		for i, s := range summaries {
			Expect(s.Seed).To(Equal(int64(7 + i)))
			Expect(s.Steps).To(Equal(10))

			single := *cfg
			single.Seed = s.Seed
			e, err := experiment.New(&single)
			Expect(err).NotTo(HaveOccurred())
			result, err := e.Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(s.SpeedError).To(Equal(result.SpeedError))
			Expect(s.GapError).To(Equal(result.GapError))
		}
		Expect(cfg.Seed).To(BeZero())
	})

	It("stops on an invalid config", func() {
		cfg.Dt = 0
		_, err := experiment.NewEnsemble(cfg, 2, 1, 1, nil).Run(context.Background())
		Expect(err).To(MatchError(config.ErrInvalidConfig))
	})

	It("averages member errors", func() {
		speed, gap, collisions := experiment.Aggregate([]experiment.Summary{
			{SpeedError: 10, GapError: 4},
			{SpeedError: 20, GapError: 8, Collided: true},
		})
		Expect(speed).To(Equal(15.0))
		Expect(gap).To(Equal(6.0))
		Expect(collisions).To(Equal(1))
	})
})
