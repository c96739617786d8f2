package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
	"github.com/san-kum/rampmerge/internal/config"
	"github.com/san-kum/rampmerge/internal/controller"
	"github.com/san-kum/rampmerge/internal/experiment"
	"github.com/san-kum/rampmerge/internal/logging"
	"github.com/san-kum/rampmerge/internal/observability"
	"github.com/san-kum/rampmerge/internal/storage"
	"github.com/san-kum/rampmerge/internal/viz"
	"github.com/spf13/cobra"
)

var (
	dataDir     string
	configFile  string
	preset      string
	dt          float64
	duration    float64
	seed        int64
	delayMode   string
	fixedDelay  float64
	metricsAddr string
	tracing     bool
	frameRate   int
	theme       string
	runs        int
	workers     int
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "rampmerge",
		Short:        "roadside ramp merge coordination",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".rampmerge", "data directory")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run a merge scenario and store the result",
		Args:  cobra.NoArgs,
		RunE:  runScenario,
	}
	scenarioFlags(runCmd)
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address during the run")
	runCmd.Flags().BoolVar(&tracing, "trace", false, "enable tracing (RAMPMERGE_TRACING_* configures the exporter)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot run errors and coordinated speeds",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export run data to JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return storage.New(dataDir).Export(os.Stdout, args[0])
		},
	}

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list scenario presets",
		Run: func(cmd *cobra.Command, args []string) {
			for _, p := range config.ListPresets() {
				fmt.Printf("  %s\n", p)
			}
		},
	}

	liveCmd := &cobra.Command{
		Use:   "live",
		Short: "run a merge scenario with live visualization",
		Args:  cobra.NoArgs,
		RunE:  runLive,
	}
	scenarioFlags(liveCmd)
	liveCmd.Flags().IntVar(&frameRate, "fps", 10, "frame rate")
	liveCmd.Flags().StringVar(&theme, "theme", "cyberpunk", "color theme ("+strings.Join(viz.ThemeNames(), ", ")+")")

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "run a scenario over consecutive seeds",
		Args:  cobra.NoArgs,
		RunE:  runSweep,
	}
	scenarioFlags(sweepCmd)
	sweepCmd.Flags().IntVar(&runs, "runs", 10, "number of seeds")
	sweepCmd.Flags().IntVar(&workers, "workers", runtime.NumCPU(), "concurrent runs")

	rootCmd.AddCommand(runCmd, listCmd, plotCmd, exportCmd, presetsCmd, liveCmd, sweepCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func scenarioFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	cmd.Flags().Float64Var(&dt, "dt", config.DefaultDt, "control period in seconds")
	cmd.Flags().Float64Var(&duration, "time", config.DefaultDuration, "duration in seconds")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed")
	cmd.Flags().StringVar(&delayMode, "delay-mode", "adaptive", "delay model (adaptive or fixed)")
	cmd.Flags().Float64Var(&fixedDelay, "delay", 0.1, "one-way delay in seconds for the fixed model")
}

// loadConfig layers defaults, then the preset, then the config file, then
// any flag the user set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("dt") {
		cfg.Dt = dt
	}
	if flags.Changed("time") {
		cfg.Duration = duration
	}
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("delay-mode") {
		cfg.Delay.Mode = delayMode
	}
	if flags.Changed("delay") {
		cfg.Delay.Fixed = fixedDelay
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg *config.Config) logging.Logger {
	return logging.NewFromEnv(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
}

func runScenario(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	tc := observability.TracingConfigFromEnv()
	tc.Enabled = tc.Enabled || tracing
	shutdown, err := observability.InitTracing(ctx, tc, log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	collector, err := observability.NewControllerCollector(prometheus.NewRegistry())
	if err != nil {
		return err
	}
	if metricsAddr != "" {
		srv := serveMetrics(ctx, metricsAddr, collector, log)
		defer srv.Close()
	}

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}

	exp, err := experiment.New(cfg,
		experiment.WithLogger(log),
		experiment.WithControllerOptions(controller.WithCollector(collector)),
	)
	if err != nil {
		return err
	}

	fmt.Printf("running %s with %d vehicles...\n", cfg.Scenario, len(exp.Road().Vehicles()))
	start := time.Now()

	result, runErr := exp.Run(ctx)
	if runErr != nil && !errors.Is(runErr, experiment.ErrCollision) {
		return runErr
	}
	elapsed := time.Since(start)

	runID, err := st.Save(cfg, result)
	if err != nil {
		return err
	}

	fmt.Printf("completed in %v\n", elapsed)
	fmt.Printf("run id: %s\n", runID)
	fmt.Printf("steps: %d (%.1fs)\n", result.Steps, result.Time)
	fmt.Printf("coordinated: %v\n", result.Coordinated)
	fmt.Printf("merged: %d\n", len(result.Merged))
	fmt.Printf("lane changes: %d\n", result.LaneChanges)
	fmt.Printf("\nspeed error: %.2f%%\n", result.SpeedError)
	fmt.Printf("gap error:   %.2f%%\n", result.GapError)

	// a collision is stored with the run and still reported as a failure
	return runErr
}

func serveMetrics(ctx context.Context, addr string, c *observability.ControllerCollector, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "metrics server failed", logging.Err(err))
		}
	}()
	log.Info(ctx, "serving metrics", logging.String("addr", addr))
	return srv
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSCENARIO\tTIME\tDURATION\tDELAY\tSPEED ERR\tGAP ERR\tMERGED\tCOLLISIONS")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1fs\t%s\t%.2f%%\t%.2f%%\t%d\t%d\n",
			run.ID,
			run.Scenario,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Duration,
			run.DelayMode,
			run.SpeedError,
			run.GapError,
			run.Merged,
			run.Collisions,
		)
	}

	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]
	st := storage.New(dataDir)

	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	cfg, err := st.LoadConfig(runID)
	if err != nil {
		return err
	}
	rows, err := st.LoadErrors(runID)
	if err != nil {
		return err
	}

	speed := lo.FilterMap(rows, func(r storage.ErrorRow, _ int) (float64, bool) { return r.Speed, r.HasSpeed })
	gap := lo.FilterMap(rows, func(r storage.ErrorRow, _ int) (float64, bool) { return r.Gap, r.HasGap })

	fmt.Printf("%s  speed %.2f%%  gap %.2f%%\n\n", meta.ID, meta.SpeedError, meta.GapError)
	fmt.Println(viz.RenderErrors(speed, gap, 80, 12))

	if len(meta.Coordinated) == 0 {
		return nil
	}
	speeds, err := st.LoadSpeeds(runID)
	if err != nil {
		return err
	}
	steps := delaySteps(cfg)
	for _, id := range meta.Coordinated {
		series, ok := speeds[id]
		if !ok {
			continue
		}
		actual, planned := splitSpeeds(series)
		fmt.Println()
		fmt.Println(viz.RenderSpeeds(id, actual, planned, steps, 80, 8))
	}
	return nil
}

// delaySteps is how many control periods of stale advisory a vehicle acts
// on, matching the replay offset the executor uses.
func delaySteps(cfg *config.Config) int {
	d := cfg.Delay.Default
	if cfg.Delay.Mode == "fixed" {
		d = cfg.Delay.Fixed
	}
	return int(math.Round(d / cfg.Dt))
}

// splitSpeeds keeps both series index-aligned; ticks without a measured
// speed are NaN so the plot leaves them blank.
func splitSpeeds(rows []storage.SpeedRow) (actual, planned []float64) {
	for _, r := range rows {
		planned = append(planned, r.Planned)
		if r.HasActual {
			actual = append(actual, r.Actual)
		} else {
			actual = append(actual, math.NaN())
		}
	}
	return actual, planned
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	viz.SetTheme(theme)

	// the alt screen owns stdout, so the live view only logs on request
	log := logging.Noop()
	if os.Getenv("LOG_LEVEL") != "" {
		log = newLogger(cfg)
	}

	exp, err := experiment.New(cfg, experiment.WithLogger(log))
	if err != nil {
		return err
	}

	m := viz.NewModel(cfg, exp.Controller(), exp.Road(), frameRate)
	final, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	if err != nil {
		return err
	}
	if fm, ok := final.(viz.Model); ok && fm.Err() != nil {
		return fm.Err()
	}
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	summaries, err := experiment.NewEnsemble(cfg, runs, cfg.Seed, workers, log).Run(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEED\tSTEPS\tSPEED ERR\tGAP ERR\tCOORDINATED\tMERGED\tCOLLIDED")
	for _, s := range summaries {
		fmt.Fprintf(w, "%d\t%d\t%.2f%%\t%.2f%%\t%d\t%d\t%v\n",
			s.Seed, s.Steps, s.SpeedError, s.GapError, s.Coordinated, s.Merged, s.Collided)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	speed, gap, collisions := experiment.Aggregate(summaries)
	fmt.Printf("\n%d runs in %v\n", len(summaries), time.Since(start))
	fmt.Printf("mean speed error: %.2f%%\n", speed)
	fmt.Printf("mean gap error:   %.2f%%\n", gap)
	fmt.Printf("collisions:       %d\n", collisions)
	return nil
}
