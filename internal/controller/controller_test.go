package controller_test

import (
	"bytes"
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/san-kum/rampmerge/internal/config"
	"github.com/san-kum/rampmerge/internal/controller"
	"github.com/san-kum/rampmerge/internal/delay"
	"github.com/san-kum/rampmerge/internal/logging"
	"github.com/san-kum/rampmerge/internal/manager"
	"github.com/san-kum/rampmerge/internal/observability"
	"github.com/san-kum/rampmerge/internal/vehicle"
)

var _ = Describe("Controller", func() {
	var (
		cfg   *config.Config
		ramp  *vehicle.Vehicle
		main  *vehicle.Vehicle
		fleet *manager.StaticFleet
	)

	BeforeEach(func() {
		cfg = config.DefaultConfig()
		ramp = vehicle.New(1, vehicle.LaneIndex{From: "j", To: "k"}, 80, 20, vehicle.NewIDM())
		main = vehicle.New(2, vehicle.LaneIndex{From: "a", To: "b", Index: 1}, 40, 25, vehicle.NewIDM())
		fleet = manager.NewStaticFleet(ramp, main)
		fleet.EgoID, fleet.HasEgo = 1, true
	})

	newController := func(opts ...controller.Option) *controller.Controller {
		opts = append([]controller.Option{controller.WithDelayModel(delay.NewFixed(0))}, opts...)
		c, err := controller.New(cfg, fleet, nil, opts...)
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	Describe("Tick", func() {
		It("coordinates the ramp vehicle with the nearest merge-lane vehicle", func() {
			c := newController()

			report, err := c.Tick(context.Background())
			Expect(err).NotTo(HaveOccurred())

			Expect(report.Tick).To(Equal(1))
			Expect(report.Time).To(BeNumerically("~", cfg.Dt, 1e-12))
			Expect(report.Sequence).To(Equal([]vehicle.ID{1, 2}))
			Expect(report.Coordination).NotTo(BeNil())
			Expect(report.Coordination.Ramp).To(Equal(vehicle.ID(1)))
			Expect(report.Coordination.Mainline).To(Equal(vehicle.ID(2)))
			Expect(report.Coordination.MainTime - report.Coordination.RampTime).To(BeNumerically(">", 1.0))
		})

		It("actuates the replayed plan at a bounded rate", func() {
			c := newController()

			report, err := c.Tick(context.Background())
			Expect(err).NotTo(HaveOccurred())

			Expect(report.Replayed).To(Equal(2))
			Expect(report.Overrides).To(BeEmpty())
			Expect(ramp.TargetSpeed).To(BeNumerically("~", 20.015, 1e-9))
			Expect(main.TargetSpeed).To(BeNumerically("~", 24.9, 1e-9))
		})

		It("records the tick", func() {
			c := newController()

			report, err := c.Tick(context.Background())
			Expect(err).NotTo(HaveOccurred())

			Expect(c.Recorder().Ticks()).To(Equal(1))
			Expect(report.Errors.HasSpeed).To(BeTrue())
			want := (0.3/20.3 + 0.5/24.5) / 2 * 100
			Expect(report.Errors.Speed).To(BeNumerically("~", want, 1e-9))
			Expect(c.Recorder().PlannedSpeeds(1)).To(HaveLen(1))
		})

		It("keeps coordinated vehicles in the set across ticks", func() {
			c := newController()
			for i := 0; i < 20; i++ {
				_, err := c.Tick(context.Background())
				Expect(err).NotTo(HaveOccurred())
				Expect(c.Planner().Coordinated().Contains(1)).To(BeTrue())
				Expect(c.Planner().Coordinated().Contains(2)).To(BeTrue())
			}
			Expect(c.Ticks()).To(Equal(20))
		})

		It("reports the mainline gap around the approaching ramp vehicle", func() {
			ramp.Position = 120
			ahead := vehicle.New(3, vehicle.LaneIndex{From: "b", To: "c", Index: 1}, 170, 25, vehicle.NewIDM())
			behind := vehicle.New(4, vehicle.LaneIndex{From: "a", To: "b", Index: 1}, 110, 25, vehicle.NewIDM())
			fleet.List = append(fleet.List, ahead, behind)
			c := newController()

			report, err := c.Tick(context.Background())
			Expect(err).NotTo(HaveOccurred())

			Expect(report.Slot).NotTo(BeNil())
			Expect(report.Slot.Ramp).To(Equal(vehicle.ID(1)))
			Expect(report.Slot.Leader.ID).To(Equal(vehicle.ID(3)))
			Expect(report.Slot.Follower.ID).To(Equal(vehicle.ID(4)))
			Expect(report.Slot.Size).To(BeNumerically("~", 55, 1e-9))
			want := vehicle.DefaultLength + c.Planner().SafeDistance(25, 20) + c.Planner().SafeDistance(20, 25)
			Expect(report.Slot.Required).To(BeNumerically("~", want, 1e-9))
			Expect(report.Slot.Acceptable).To(BeFalse())
		})

		It("reports no gap once the ramp vehicle is in the merging zone", func() {
			ramp.Position = 160
			c := newController()

			report, err := c.Tick(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Slot).To(BeNil())
		})

		It("stops on a cancelled context", func() {
			c := newController()
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			_, err := c.Tick(ctx)
			Expect(err).To(MatchError(context.Canceled))
			Expect(c.Ticks()).To(Equal(0))
		})

		It("feeds the metrics collector", func() {
			reg := prometheus.NewRegistry()
			collector, err := observability.NewControllerCollector(reg)
			Expect(err).NotTo(HaveOccurred())
			c := newController(controller.WithCollector(collector))

			_, err = c.Tick(context.Background())
			Expect(err).NotTo(HaveOccurred())

			Expect(testutil.ToFloat64(collector.Ticks)).To(Equal(1.0))
			Expect(testutil.ToFloat64(collector.Coordinations)).To(Equal(1.0))
			Expect(testutil.ToFloat64(collector.CoordinatedVehicles)).To(Equal(2.0))
			Expect(testutil.ToFloat64(collector.Vehicles.WithLabelValues("ramp"))).To(Equal(1.0))
		})

		It("logs coordination events and the final averages", func() {
			var buf bytes.Buffer
			log := logging.NewWithWriter(&buf, logging.Config{Level: "info", Format: "json"})
			c := newController(controller.WithLogger(log))

			_, err := c.Tick(context.Background())
			Expect(err).NotTo(HaveOccurred())
			speed, gap := c.Finish(context.Background())

			wantSpeed, wantGap := c.Recorder().AverageErrors()
			Expect(speed).To(Equal(wantSpeed))
			Expect(gap).To(Equal(wantGap))
			Expect(buf.String()).To(ContainSubstring("merge slot coordinated"))
			Expect(buf.String()).To(ContainSubstring("final average errors"))
		})
	})

	Describe("New", func() {
		It("rejects an invalid config", func() {
			cfg.Dt = 0
			_, err := controller.New(cfg, fleet, nil)
			Expect(err).To(MatchError(config.ErrInvalidConfig))
		})

		It("builds the delay model from the config", func() {
			cfg.Delay.Mode = "fixed"
			c, err := controller.New(cfg, fleet, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Delays().Delay(1)).To(Equal(cfg.Delay.Fixed))
		})
	})

	Describe("MergeSequence", func() {
		It("orders by time to the merge-zone start and drops the duplicate ego", func() {
			a := vehicle.New(10, vehicle.LaneIndex{From: "a", To: "b"}, 100, 25, nil)
			b := vehicle.New(11, vehicle.LaneIndex{From: "a", To: "b"}, 50, 25, nil)
			r := vehicle.New(12, vehicle.LaneIndex{From: "j", To: "k"}, 120, 10, nil)
			cls := manager.Classification{
				Mainline: []*vehicle.Vehicle{b, a},
				Ramp:     []*vehicle.Vehicle{r},
				Ego:      r,
			}

			seq := controller.MergeSequence(cls, 150)
			Expect(seq).To(HaveLen(3))
			Expect([]vehicle.ID{seq[0].ID, seq[1].ID, seq[2].ID}).To(Equal([]vehicle.ID{10, 12, 11}))
		})

		It("keeps input order on ties and guards zero speed", func() {
			a := vehicle.New(1, vehicle.LaneIndex{From: "a", To: "b"}, 100, 10, nil)
			b := vehicle.New(2, vehicle.LaneIndex{From: "a", To: "b"}, 100, 10, nil)
			stopped := vehicle.New(3, vehicle.LaneIndex{From: "a", To: "b"}, 149, 0, nil)

			seq := controller.MergeSequence(manager.Classification{Mainline: []*vehicle.Vehicle{b, a, stopped}}, 150)
			Expect([]vehicle.ID{seq[0].ID, seq[1].ID, seq[2].ID}).To(Equal([]vehicle.ID{2, 1, 3}))
		})
	})
})
