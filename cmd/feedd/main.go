// feedd is the market-data feed orchestration daemon and its
// operations CLI. Every subcommand prints one JSON document on stdout;
// exit code 0 means full success, 1 means the output carries per-item
// errors, 2 means a fatal startup problem (bad config, store down).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ezbot/feedd/config"
	"github.com/ezbot/feedd/internal/discovery"
	apperrors "github.com/ezbot/feedd/internal/errors"
	"github.com/ezbot/feedd/internal/feed"
	"github.com/ezbot/feedd/internal/health"
	"github.com/ezbot/feedd/internal/logging"
	"github.com/ezbot/feedd/internal/manager"
	"github.com/ezbot/feedd/internal/orchestrator"
	"github.com/ezbot/feedd/internal/registry"
	"github.com/ezbot/feedd/internal/store"
	"github.com/ezbot/feedd/internal/telemetry"
	"github.com/ezbot/feedd/internal/writer"
)

// Version is set at build time via ldflags
var Version = "dev"

const usage = `feedd %s - market data feed orchestrator

Usage: feedd <command> [flags]

Commands:
  run       bring the full fleet up and serve until signalled
  discover  scan feed manifests and register descriptors
  start     start feeds (one tier or all), report, then wind down
  stop      stop feeds by name, tier, or all
  health    report store and fleet health
  list      list registered feeds
  export    export one day's partitions to parquet archive files

Run "feedd <command> -h" for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, Version)
		os.Exit(2)
	}

	// Vendor keys and store credentials come from the environment; a
	// local .env is a convenience, not a requirement.
	godotenv.Load()

	var code int
	switch cmd := os.Args[1]; cmd {
	case "run":
		code = cmdRun(os.Args[2:])
	case "discover":
		code = cmdDiscover(os.Args[2:])
	case "start":
		code = cmdStart(os.Args[2:])
	case "stop":
		code = cmdStop(os.Args[2:])
	case "health":
		code = cmdHealth(os.Args[2:])
	case "list":
		code = cmdList(os.Args[2:])
	case "export":
		code = cmdExport(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Fprintf(os.Stderr, usage, Version)
	default:
		fmt.Fprintf(os.Stderr, "feedd: unknown command %q\n", cmd)
		fmt.Fprintf(os.Stderr, usage, Version)
		code = 2
	}
	os.Exit(code)
}

// =============================================================================
// Shared Wiring
// =============================================================================

// app is the wired component graph a subcommand operates on.
type app struct {
	cfg      *config.Config
	st       store.Store
	wr       *writer.Writer
	reg      *registry.Registry
	mgr      *manager.Manager
	mon      *health.Monitor
	strategy discovery.Strategy
}

func commandFlags(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet("feedd "+name, flag.ExitOnError)
	cfgPath := fs.String("config", "feedd.yaml", "config file path")
	return fs, cfgPath
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg = config.DefaultConfig()
		} else {
			return nil, err
		}
	}
	logging.Init(cfg.SlogLevel(), cfg.LogJSON)
	return cfg, nil
}

// buildApp wires everything below the orchestrator. withStore opens
// the backend; commands that only read manifests skip it.
func buildApp(cfg *config.Config, withStore bool) (*app, error) {
	a := &app{cfg: cfg}

	strategy, err := discovery.New(cfg.Discovery)
	if err != nil {
		return nil, err
	}
	a.strategy = strategy
	a.reg = registry.New()

	var sink feed.Sink = feed.SinkFunc(func(feed.Record) error { return nil })
	if withStore {
		st, err := store.Open(&cfg.Store)
		if err != nil {
			return nil, err
		}
		a.st = st
		a.wr = writer.New(cfg.Writer, st)
		sink = a.wr
	}

	a.mgr = manager.New(cfg.Manager, a.reg, sink)
	a.mon = health.New(cfg.Health, a.mgr, health.LogAlerter{})
	return a, nil
}

func (a *app) close() {
	if a.st != nil {
		a.st.Close()
	}
}

// emit prints the one JSON document a subcommand produces.
func emit(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func fatal(err error) int {
	fmt.Fprintf(os.Stderr, "feedd: %v\n", err)
	return 2
}

// =============================================================================
// run
// =============================================================================

func cmdRun(args []string) int {
	fs, cfgPath := commandFlags("run")
	fs.Parse(args)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return fatal(err)
	}
	log := logging.Component("main")
	log.Info("feedd starting", "version", Version, "backend", cfg.Store.Backend)

	a, err := buildApp(cfg, true)
	if err != nil {
		return fatal(err)
	}
	defer a.close()

	orch := orchestrator.New(cfg.Orchestrator, cfg.Shutdown, a.st, a.mgr, a.mon, a.wr, a.strategy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	status, err := orch.Up(ctx)
	emit(status)
	if err != nil {
		return 2
	}

	collector := telemetry.New(a.reg, a.wr, telemetry.DefaultInterval)
	collector.Start(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Info("shutting down", "signal", s.String())

	collector.Stop()
	downCtx, downCancel := context.WithTimeout(context.Background(), cfg.Shutdown.DrainTimeout+10*time.Second)
	defer downCancel()
	if err := orch.Down(downCtx); err != nil {
		log.Error("shutdown incomplete", "error", err)
		return 1
	}
	return 0
}

// =============================================================================
// discover / list
// =============================================================================

func cmdDiscover(args []string) int {
	fs, cfgPath := commandFlags("discover")
	fs.Parse(args)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return fatal(err)
	}
	a, err := buildApp(cfg, false)
	if err != nil {
		return fatal(err)
	}

	res, err := a.mgr.Discover(context.Background(), a.strategy)
	if err != nil {
		return fatal(err)
	}
	emit(res)
	if len(res.Errors) > 0 {
		return 1
	}
	return 0
}

func cmdList(args []string) int {
	fs, cfgPath := commandFlags("list")
	fs.Parse(args)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return fatal(err)
	}
	a, err := buildApp(cfg, false)
	if err != nil {
		return fatal(err)
	}

	res, err := a.mgr.Discover(context.Background(), a.strategy)
	if err != nil {
		return fatal(err)
	}
	emit(struct {
		Feeds  []registry.Snapshot `json:"feeds"`
		Errors any                 `json:"errors,omitempty"`
	}{a.reg.List(), res.Errors})
	if len(res.Errors) > 0 {
		return 1
	}
	return 0
}

// =============================================================================
// start / stop
// =============================================================================

func cmdStart(args []string) int {
	fs, cfgPath := commandFlags("start")
	stagger := fs.Duration("stagger", 0, "override inter-start stagger")
	hold := fs.Duration("hold", 0, "keep the fleet running this long before winding down")
	fs.Parse(args)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return fatal(err)
	}
	if *stagger > 0 {
		cfg.Manager.Stagger = *stagger
	}

	target := fs.Arg(0)
	if target == "" {
		target = "all"
	}
	var tier feed.Priority
	if target != "all" {
		if tier, err = feed.ParsePriority(target); err != nil {
			return fatal(err)
		}
	}

	a, err := buildApp(cfg, true)
	if err != nil {
		return fatal(err)
	}
	defer a.close()

	ctx := context.Background()
	pingCtx, cancel := context.WithTimeout(ctx, cfg.Orchestrator.PrerequisiteTimeout)
	err = a.st.Ping(pingCtx)
	cancel()
	if err != nil {
		return fatal(err)
	}
	if err := a.st.EnsureSchema(ctx); err != nil {
		return fatal(err)
	}
	if err := a.wr.Start(ctx); err != nil {
		return fatal(err)
	}
	if _, err := a.mgr.Discover(ctx, a.strategy); err != nil {
		return fatal(err)
	}

	var res *manager.StartResult
	if target == "all" {
		res, err = a.mgr.StartAll(ctx)
	} else {
		res, err = a.mgr.StartTier(ctx, tier)
	}
	if err != nil {
		return fatal(err)
	}
	emit(res)

	if *hold > 0 {
		a.mon.Start(ctx)
		time.Sleep(*hold)
		a.mon.Stop()
	}

	// Wind down so the one-shot invocation exits clean.
	a.mgr.StopAll(ctx)
	drainCtx, drainCancel := context.WithTimeout(ctx, cfg.Shutdown.DrainTimeout)
	defer drainCancel()
	a.wr.Stop(drainCtx)

	if len(res.Failed) > 0 {
		return 1
	}
	return 0
}

func cmdStop(args []string) int {
	fs, cfgPath := commandFlags("stop")
	fs.Parse(args)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return fatal(err)
	}
	a, err := buildApp(cfg, false)
	if err != nil {
		return fatal(err)
	}

	ctx := context.Background()
	if _, err := a.mgr.Discover(ctx, a.strategy); err != nil {
		return fatal(err)
	}

	target := fs.Arg(0)
	if target == "" {
		target = "all"
	}

	var res *manager.StopResult
	switch {
	case target == "all":
		res = a.mgr.StopAll(ctx)
	default:
		if tier, perr := feed.ParsePriority(target); perr == nil {
			res = a.mgr.StopTier(ctx, tier)
			break
		}
		res = &manager.StopResult{Stopped: []string{}}
		if err := a.mgr.StopFeed(ctx, target); err != nil {
			res.Errors = append(res.Errors, apperrors.ItemError{Name: target, Reason: err.Error()})
		} else {
			res.Stopped = append(res.Stopped, target)
		}
	}
	emit(res)
	if len(res.Errors) > 0 {
		return 1
	}
	return 0
}

// =============================================================================
// health
// =============================================================================

func cmdHealth(args []string) int {
	fs, cfgPath := commandFlags("health")
	fs.Parse(args)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return fatal(err)
	}
	a, err := buildApp(cfg, true)
	if err != nil {
		return fatal(err)
	}
	defer a.close()

	ctx := context.Background()
	out := struct {
		Store   string              `json:"store"`
		Metrics registry.Metrics    `json:"metrics"`
		Feeds   []registry.Snapshot `json:"feeds"`
		Writer  writer.Stats        `json:"writer"`
	}{Store: "ok"}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Orchestrator.PrerequisiteTimeout)
	storeErr := a.st.Ping(pingCtx)
	cancel()
	if storeErr != nil {
		out.Store = storeErr.Error()
	}

	if _, err := a.mgr.Discover(ctx, a.strategy); err != nil {
		return fatal(err)
	}
	out.Metrics = a.reg.Metrics()
	out.Feeds = a.reg.List()
	out.Writer = a.wr.Stats()

	emit(out)
	if storeErr != nil {
		return 1
	}
	return 0
}

// =============================================================================
// export
// =============================================================================

func cmdExport(args []string) int {
	fs, cfgPath := commandFlags("export")
	dir := fs.String("dir", "archive", "output directory for parquet files")
	day := fs.String("day", "", "UTC day to export (YYYY-MM-DD, default yesterday)")
	table := fs.String("table", "", "single table to export (default all)")
	fs.Parse(args)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return fatal(err)
	}

	when := time.Now().UTC().AddDate(0, 0, -1)
	if *day != "" {
		when, err = time.Parse("2006-01-02", *day)
		if err != nil {
			return fatal(fmt.Errorf("parsing -day: %w", err))
		}
	}

	st, err := store.Open(&cfg.Store)
	if err != nil {
		return fatal(err)
	}
	defer st.Close()

	exp := store.NewExporter(st, *dir)
	ctx := context.Background()

	var results []store.ExportResult
	if *table != "" {
		res, err := exp.ExportDay(ctx, *table, when)
		if err != nil {
			return fatal(err)
		}
		results = append(results, *res)
	} else {
		results, err = exp.ExportAll(ctx, nil, when)
		if err != nil {
			return fatal(err)
		}
	}
	emit(struct {
		Day     string               `json:"day"`
		Exports []store.ExportResult `json:"exports"`
	}{when.Format("2006-01-02"), results})
	return 0
}
