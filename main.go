package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"locklevels/pkg/concurrency/lock"
	"locklevels/pkg/config"
	"locklevels/pkg/debug/statewatch"
	"locklevels/pkg/graph"
	"locklevels/pkg/harness"
	"locklevels/pkg/logging"
	"locklevels/pkg/monitoring"
)

// Options holds the command-line flags. Flags that are not given leave the
// file and environment configuration alone.
type Options struct {
	ConfigPath     string
	Workers        int
	Keys           int
	Duration       time.Duration
	StructuralRate float64
	LogLevel       string
	LogFile        string
	LogFormat      string
	MetricsAddr    string
	Watch          bool
	PrintState     bool
}

var (
	bannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7C3AED")).
			Bold(true).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#06B6D4")).
			Padding(0, 2)

	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
)

func main() {
	opts, set := parseArguments()

	cfg, err := loadConfiguration(opts, set)
	if err != nil {
		fmt.Fprintln(os.Stderr, failStyle.Render("configuration: "+err.Error()))
		os.Exit(2)
	}

	if err := logging.Init(cfg.LoggingConfig()); err != nil {
		fmt.Fprintln(os.Stderr, failStyle.Render("logging: "+err.Error()))
		os.Exit(2)
	}
	defer logging.Close()

	showBanner()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts); err != nil {
		fmt.Fprintln(os.Stderr, failStyle.Render("FAIL ")+err.Error())
		logging.Close()
		os.Exit(1)
	}
}

// parseArguments processes command-line flags and reports which were given.
func parseArguments() (Options, map[string]bool) {
	var opts Options

	flag.StringVar(&opts.ConfigPath, "config", "", "Config file (yaml, toml or json)")
	flag.IntVar(&opts.Workers, "workers", 0, "Stress workers")
	flag.IntVar(&opts.Keys, "keys", 0, "Distinct per-key locks")
	flag.DurationVar(&opts.Duration, "duration", 0, "Stress run length")
	flag.Float64Var(&opts.StructuralRate, "structural-rate", 0, "Structural sections per second, 0 for unlimited")
	flag.StringVar(&opts.LogLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR")
	flag.StringVar(&opts.LogFile, "log-file", "", "Log destination: stderr, stdout or a file path")
	flag.StringVar(&opts.LogFormat, "log-format", "", "text or json")
	flag.StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	flag.BoolVar(&opts.Watch, "watch", false, "Show the live state viewer during the run; it closes when the run ends")
	flag.BoolVar(&opts.PrintState, "state", false, "Print the final lock state")

	flag.Parse()

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return opts, set
}

func loadConfiguration(opts Options, set map[string]bool) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	if set["workers"] {
		cfg.Harness.Workers = opts.Workers
	}
	if set["keys"] {
		cfg.Harness.Keys = opts.Keys
	}
	if set["duration"] {
		cfg.Harness.Duration = opts.Duration
	}
	if set["structural-rate"] {
		cfg.Harness.StructuralRate = opts.StructuralRate
	}
	if set["metrics-addr"] {
		cfg.Metrics.Addr = opts.MetricsAddr
	}
	if set["log-level"] {
		cfg.Log.Level = opts.LogLevel
	}
	if set["log-file"] {
		cfg.Log.File = opts.LogFile
	}
	if set["log-format"] {
		cfg.Log.Format = opts.LogFormat
	}
	// The viewer owns the terminal; keep log lines off it.
	if opts.Watch && (cfg.Log.File == "" || cfg.Log.File == "stderr" || cfg.Log.File == "stdout") {
		cfg.Log.File = "locklevels.log"
	}

	return cfg, cfg.Validate()
}

func showBanner() {
	fmt.Println(bannerStyle.Render("locklevels  ·  four-level lock manager"))
}

func run(ctx context.Context, cfg *config.Config, opts Options) error {
	lm := lock.NewLockManagerWithConfig(lock.Config{Name: cfg.Manager.Name})

	if cfg.Metrics.Addr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := monitoring.Serve(metricsCtx, cfg.Metrics.Addr, cfg.Manager.Name, lm); err != nil {
				logging.WithError(err).Error("metrics endpoint failed", "addr", cfg.Metrics.Addr)
			}
		}()
	}

	report, err := stress(ctx, lm, cfg, opts.Watch)
	if report != nil {
		fmt.Print(report)
	}
	if err != nil {
		return err
	}
	fmt.Println(okStyle.Render("OK ") + "no stalls, no invariant violations")

	if opts.PrintState {
		if err := lm.PrintState(os.Stdout); err != nil {
			return err
		}
	}

	return buildGraph(ctx, cfg.Graph)
}

// stress runs the harness, with the viewer in the foreground when watch is
// set.
func stress(ctx context.Context, lm *lock.LockManager, cfg *config.Config, watch bool) (*harness.Report, error) {
	if !watch {
		return harness.Run(ctx, lm, cfg.HarnessConfig())
	}
	return watchRun(ctx, lm, cfg.HarnessConfig(), func(ctx context.Context) error {
		return statewatch.Run(ctx, lm, cfg.Manager.Name, cfg.Viewer.Refresh)
	})
}

// watchRun runs the harness alongside view. A bounded run that finishes
// closes the viewer, and quitting the viewer stops the run.
func watchRun(ctx context.Context, lm *lock.LockManager, hc harness.Config, view func(context.Context) error) (*harness.Report, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		report *harness.Report
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := harness.Run(runCtx, lm, hc)
		done <- result{report, err}
		cancel()
	}()

	if err := view(runCtx); err != nil {
		logging.WithError(err).Warn("state viewer stopped")
	}
	cancel()
	res := <-done
	return res.report, res.err
}

// buildGraph loads a ring of nodes into a graph store starting from a small
// table, so the load exercises structural resizes under concurrency.
func buildGraph(ctx context.Context, gc config.GraphConfig) error {
	if gc.Nodes == 0 {
		return nil
	}

	store := graph.New(gc.InitialCapacity, nil)
	ids := make([]int, gc.Nodes)
	edges := make([]graph.Edge, gc.Nodes)
	for i := range ids {
		ids[i] = i
		edges[i] = graph.Edge{From: i, To: (i + 1) % gc.Nodes}
	}

	start := time.Now()
	if err := store.Build(ctx, ids, edges, gc.Parallelism); err != nil {
		return err
	}
	fmt.Printf("graph: %s nodes, capacity %s, %d resizes in %s\n",
		humanize.Comma(int64(store.Len())), humanize.Comma(int64(store.Capacity())),
		store.Resizes(), time.Since(start).Round(time.Millisecond))

	snap := store.Locks().State()
	logging.Info("graph load finished",
		"level3_acquired", snap.Stats.Acquired[lock.Level3],
		"level1_waited", snap.Stats.Waited[lock.Level1])
	return nil
}
