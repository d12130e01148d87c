package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jihwankim/dhtsim/pkg/chord"
	"github.com/jihwankim/dhtsim/pkg/client"
	"github.com/jihwankim/dhtsim/pkg/config"
	"github.com/jihwankim/dhtsim/pkg/dht"
	"github.com/jihwankim/dhtsim/pkg/geo"
	"github.com/jihwankim/dhtsim/pkg/kademlia"
	"github.com/jihwankim/dhtsim/pkg/kernel"
	"github.com/jihwankim/dhtsim/pkg/logging"
	"github.com/jihwankim/dhtsim/pkg/metrics"
	"github.com/jihwankim/dhtsim/pkg/network"
	"github.com/jihwankim/dhtsim/pkg/randsrc"
	"github.com/jihwankim/dhtsim/pkg/simulate"
	"github.com/jihwankim/dhtsim/pkg/trace"
)

// worldWidth is W, the logical identifier bit width - fixed at the
// reference configuration's 160 bits (§3), not exposed as a flag since
// nothing in §6's table names it.
const worldWidth = 160

// Internal protocol-maintenance constants the original_source's
// simulation/constants.py does not expose as CLI flags either: the
// request timeout and per-packet service time every node runs with, the
// crash-wait distribution's mean/variance (joinrate/crashrate flags scale
// these, they do not replace them), and the join inter-arrival
// hyperexponential's base rates.
const (
	meanServiceTime = 0.8
	requestTimeout  = 100.0
	crashMean       = 10
	crashVariance   = 5
	joinLambda1     = 10
	joinLambda2     = 5
	joinP           = 0.3
	stabilizeMean   = 50
	stabilizeMin    = 10
	fixFingersMean  = 80
	fixFingersMin   = 10
	maxValue        = 1_000_000_000
	lookupRounds    = 64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Args:  cobra.NoArgs,
	Short: "Run one Chord or Kademlia simulation and emit its trace",
	Long:  `Builds a network of the requested overlay kind, drives it through a deterministic join phase and a churning, client-driven run phase, and writes the resulting trace document as JSON.`,
	RunE:  runSimulation,
}

func init() {
	f := runCmd.Flags()
	f.Int64("seed", 0, "random seed (config/default seed when not given)")
	f.Int("nodes", 0, "bootstrap population size")
	f.Float64("max-time", 0, "virtual-time budget for the run phase")
	f.String("loglevel", "", "log verbosity (debug, info, warn, error)")
	f.Float64("rate", 0, "client arrival mean (lower = faster)")
	f.String("ext", "", "export format for an optional plot (pdf, png)")
	f.Int("alpha", 0, "Kademlia alpha (lookup parallelism)")
	f.Int("k", 0, "Kademlia bucket size / Chord per-node identities")
	f.Int("capacity", 0, "per-node receive-queue capacity")
	f.Int("nkeys", 0, "size of the key universe")
	f.String("dht", "", "overlay to simulate: KAD or CHORD (required)")
	f.Float64("joinrate", -1, "multiplier on join arrival intensity (0 disables joins)")
	f.Float64("crashrate", -1, "multiplier on crash intensity (0 disables crashes)")
	f.String("out", "", "trace output path")
	f.String("metrics-addr", "", "if set, serve Prometheus /metrics on this address during the run phase")
	f.String("log-format", "", "console or json")
}

// runSimulation implements the single entry point described in §6: load
// defaults, overlay --config's YAML, overlay whichever flags the caller
// actually set, validate, then build and run exactly one simulation.
func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	logLevel := logging.Level(cfg.LogLevel)
	if verbose {
		logLevel = logging.LevelDebug
	}
	logger := logging.New(logging.Config{
		Level:  logLevel,
		Format: logging.Format(cfg.LogFormat),
		Output: os.Stdout,
	}).WithComponent("dhtsim")

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err.Error())
		return fmt.Errorf("invalid configuration: %w", err)
	}

	exporter, err := metrics.New(cfg.MetricsAddr)
	if err != nil {
		logger.Error("failed to start metrics server", "error", err.Error())
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = exporter.Shutdown(ctx)
	}()

	logger.Info("starting simulation",
		"dht", string(cfg.DHT), "nodes", cfg.Nodes, "seed", cfg.Seed, "max_time", cfg.MaxTime)

	doc, err := runOnce(cfg, exporter, logger)
	if err != nil {
		logger.Error("simulation failed", "error", err.Error())
		return err
	}

	if err := trace.WriteDocument(cfg.Out, doc); err != nil {
		logger.Error("failed to write trace", "error", err.Error())
		return fmt.Errorf("failed to write trace: %w", err)
	}
	logger.Info("simulation complete", "out", cfg.Out,
		"client_requests", len(doc.ClientRequests), "timed_out", len(doc.TimedOutRequests))
	return nil
}

// resolveConfig builds the effective Config: Default(), overlaid by
// --config's YAML (if given), overlaid by every flag the caller actually
// set on the command line - unset flags never clobber a YAML or default
// value, matching §6's "CLI flag surface and config defaults" contract.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load --config: %w", err)
	}

	f := cmd.Flags()
	if f.Changed("seed") {
		cfg.Seed, _ = f.GetInt64("seed")
	}
	if f.Changed("nodes") {
		cfg.Nodes, _ = f.GetInt("nodes")
	}
	if f.Changed("max-time") {
		cfg.MaxTime, _ = f.GetFloat64("max-time")
	}
	if f.Changed("loglevel") {
		cfg.LogLevel, _ = f.GetString("loglevel")
	}
	if f.Changed("rate") {
		cfg.Rate, _ = f.GetFloat64("rate")
	}
	if f.Changed("ext") {
		ext, _ := f.GetString("ext")
		cfg.Ext = config.PlotExt(ext)
	}
	if f.Changed("alpha") {
		cfg.Alpha, _ = f.GetInt("alpha")
	}
	if f.Changed("k") {
		cfg.K, _ = f.GetInt("k")
	}
	if f.Changed("capacity") {
		cfg.Capacity, _ = f.GetInt("capacity")
	}
	if f.Changed("nkeys") {
		cfg.NKeys, _ = f.GetInt("nkeys")
	}
	if f.Changed("dht") {
		d, _ := f.GetString("dht")
		cfg.DHT = config.DHTKind(d)
	}
	if f.Changed("joinrate") {
		cfg.JoinRate, _ = f.GetFloat64("joinrate")
	}
	if f.Changed("crashrate") {
		cfg.CrashRate, _ = f.GetFloat64("crashrate")
	}
	if f.Changed("out") {
		cfg.Out, _ = f.GetString("out")
	}
	if f.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = f.GetString("metrics-addr")
	}
	if f.Changed("log-format") {
		cfg.LogFormat, _ = f.GetString("log-format")
	}
	return cfg, nil
}

// runOnce builds the kernel, the random source, the network, and the
// workload driver for cfg, installs a SIGINT/SIGTERM handler, and returns
// the resulting trace document.
func runOnce(cfg *config.Config, exporter *metrics.Exporter, logger *logging.Logger) (trace.Document, error) {
	k := kernel.New()
	rnd := randsrc.New(cfg.Seed, 1)
	geoTable := geo.NewTable()
	collector := trace.New()

	build, hardwire, err := overlayFactories(cfg, k, rnd, logger)
	if err != nil {
		return trace.Document{}, err
	}

	mgr := network.NewManager(k, rnd, geoTable, collector,
		cfg.Capacity, meanServiceTime, requestTimeout,
		crashMean, crashVariance, cfg.CrashRate,
		build, hardwire)
	mgr.OnDrop = func(name string) {
		exporter.IncDrop()
		logger.Warn("packet dropped", "node", name)
	}

	keys := make([]string, cfg.NKeys)
	for i := range keys {
		keys[i] = fmt.Sprintf("key_%d", i)
	}
	clientGen := client.NewGenerator(k, rnd, geoTable, mgr.Registry(), collector, requestTimeout, keys, maxValue)

	driver := simulate.NewDriver(k, rnd, mgr, clientGen, collector, simulate.Config{
		Nodes:       cfg.Nodes,
		MaxTime:     cfg.MaxTime,
		MeanArrival: cfg.Rate,
		JoinRate:    cfg.JoinRate,
		JoinLambda1: joinLambda1,
		JoinLambda2: joinLambda2,
		JoinP:       joinP,
	})

	// The kernel steps its event heap synchronously to completion - it has
	// no mid-run cancellation point to hook into - so an interrupt here can
	// only abort the process outright rather than salvage a partial trace.
	stop := installSignalHandler(logger)
	defer signal.Stop(stop)
	go func() {
		if _, ok := <-stop; ok {
			logger.Error("interrupt received, aborting without writing a trace")
			os.Exit(130)
		}
	}()

	driver.Run()

	doc := collector.ToDocument()
	exporter.SetHealthyNodes(len(mgr.Healthy()))
	for _, r := range doc.ClientRequests {
		exporter.ObserveClientLatency(r[1])
	}
	for range doc.TimedOutRequests {
		exporter.IncClientTimeout()
	}

	return doc, nil
}

// overlayFactories returns the BuildFunc/HardwireFunc pair pkg/network
// needs for cfg.DHT, closing over the overlay-specific Config each
// package expects.
func overlayFactories(cfg *config.Config, k *kernel.Kernel, rnd *randsrc.Source, logger *logging.Logger) (network.BuildFunc, network.HardwireFunc, error) {
	switch cfg.DHT {
	case config.Chord:
		chordCfg := chord.Config{
			W:              worldWidth,
			K:              cfg.K,
			StabilizeMean:  stabilizeMean,
			StabilizeMin:   stabilizeMin,
			FixFingersMean: fixFingersMean,
			FixFingersMin:  fixFingersMin,
		}
		build := func(name string, raw *dht.Node) network.OverlayNode {
			cn := chord.New(name, raw, rnd, k, chordCfg)
			cn.OnStabilizeError = func(node string, index int) {
				logger.Error("stabilize round failed and rejoin could not recover", "node", node, "index", index)
			}
			return cn
		}
		hardwire := func(a, b network.OverlayNode) {
			a.(*chord.Node).HardwireWith(b.(*chord.Node))
		}
		return build, hardwire, nil
	case config.Kademlia:
		kadCfg := kademlia.Config{
			W:            worldWidth,
			BucketSize:   cfg.K,
			Alpha:        cfg.Alpha,
			LookupRounds: lookupRounds,
		}
		build := func(name string, raw *dht.Node) network.OverlayNode {
			return kademlia.New(name, raw, rnd, k, kadCfg)
		}
		hardwire := func(a, b network.OverlayNode) {
			a.(*kademlia.Node).HardwireWith(b.(*kademlia.Node))
		}
		return build, hardwire, nil
	default:
		return nil, nil, fmt.Errorf("unknown --dht %q", cfg.DHT)
	}
}

// installSignalHandler returns a channel that receives once on SIGINT or
// SIGTERM, grounded in spirit on the teacher's pkg/emergency/controller.go
// stop-signal watch, trimmed to just the signal path (see DESIGN.md for
// the part of that controller with no analogue here).
func installSignalHandler(logger *logging.Logger) chan os.Signal {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	return c
}
