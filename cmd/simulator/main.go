package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/signalsfoundry/mosmo/analysis"
	"github.com/signalsfoundry/mosmo/internal/catalog"
	"github.com/signalsfoundry/mosmo/internal/config"
	"github.com/signalsfoundry/mosmo/internal/logging"
	"github.com/signalsfoundry/mosmo/internal/observability"
	"github.com/signalsfoundry/mosmo/internal/scenario"
	"github.com/signalsfoundry/mosmo/kb"
	"github.com/signalsfoundry/mosmo/sim"
	"github.com/signalsfoundry/mosmo/timectrl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "simulator: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("simulator", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "config file (default $MOSMO_CONFIG or ./mosmo.yaml)")
	scenarioPath := fs.String("scenario", "", "scenario YAML file")
	catalogFiles := fs.String("catalog", "", "comma-separated catalog files layered over the configured ones")
	sqlitePath := fs.String("sqlite", "", "SQLite catalog database")
	modes := fs.Bool("modes", false, "enumerate elementary flux modes")
	play := fs.Bool("play", false, "replay the trajectory sample by sample")
	accelerated := fs.Bool("accelerated", true, "replay as fast as possible (vs real-time)")
	speed := fs.Float64("speed", 1, "simulated time per wall-clock second in real-time replay")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *scenarioPath == "" {
		return errors.New("-scenario is required")
	}

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFromPath(*configPath)
	} else {
		cfg, _, err = config.Load()
	}
	if err != nil {
		return err
	}
	if *catalogFiles != "" {
		cfg.Catalog.Files = append(cfg.Catalog.Files, strings.Split(*catalogFiles, ",")...)
	}
	if *sqlitePath != "" {
		cfg.Catalog.SQLite = *sqlitePath
	}

	log := cfg.Logger(stderr)
	ctx, runID := logging.EnsureRunID(ctx)
	ctx = logging.ContextWithLogger(ctx, log)

	shutdown, err := observability.InitTracing(ctx, cfg.TracingSettings(), log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	fallback, closeCatalog, err := catalog.Open(ctx, cfg.Catalog, cfg.BreakerSettings("catalog"), log)
	if err != nil {
		return err
	}
	defer closeCatalog()

	sc, err := scenario.LoadFile(*scenarioPath)
	if err != nil {
		return err
	}
	built, err := sc.Build(ctx, fallback, kb.WithLogger(log))
	if err != nil {
		return err
	}
	log.Info(ctx, "scenario built",
		logging.String("scenario", built.Name),
		logging.String("run_id", runID),
	)

	runner := &scenario.Runner{
		Analysis: analysis.NewEngine(analysis.WithLogger(log)),
		Sim:      sim.NewEngine(sim.WithLogger(log)),
		Workers:  cfg.Engine.Workers,
		Modes:    *modes,
	}
	rep, runErr := runner.Run(ctx, built)
	printReport(stdout, rep, *modes)
	if runErr != nil {
		return runErr
	}

	if *play && rep.Trajectory != nil {
		mode := timectrl.RealTime
		if *accelerated {
			mode = timectrl.Accelerated
		}
		player := timectrl.NewPlayer(rep.Trajectory, mode, *speed)
		ids := rep.Trajectory.SpeciesIDs()
		player.AddListener(func(s sim.Sample) {
			fmt.Fprintf(stdout, "[t=%.4g]", s.Time)
			for _, id := range ids {
				fmt.Fprintf(stdout, " %s=%.6g", id, s.Concentrations[id])
			}
			fmt.Fprintln(stdout)
		})
		<-player.Start(ctx)
	}
	return nil
}

func printReport(w io.Writer, rep *scenario.Report, modes bool) {
	if rep == nil {
		return
	}
	fmt.Fprintf(w, "scenario %s: %d species, %d reactions\n", rep.Name, rep.Species, rep.Reactions)

	if bad := rep.Balance.Imbalanced(); len(bad) > 0 {
		fmt.Fprintf(w, "imbalanced reactions: %s\n", strings.Join(bad, ", "))
	} else {
		fmt.Fprintln(w, "all reactions balanced or unknown")
	}
	fmt.Fprintf(w, "stoichiometrically consistent: %v\n", rep.Consistency.Consistent)
	fmt.Fprintf(w, "conservation laws: %d\n", rep.Conservation.Len())

	if rep.Flux != nil {
		fmt.Fprintf(w, "flux: %s", rep.Flux.Status())
		if rep.Flux.Feasible() {
			fmt.Fprintf(w, " objective=%.6g", rep.Flux.Objective())
		}
		fmt.Fprintln(w)
		if rep.Flux.Feasible() {
			fluxes := rep.Flux.Fluxes()
			for _, id := range rep.Flux.ReactionIDs() {
				fmt.Fprintf(w, "  %-12s %12.6g\n", id, fluxes[id])
			}
		}
	}
	if rep.Trace != nil {
		if rep.Trace.Found() {
			fmt.Fprintf(w, "trace %s -> %s: %s (cost %.4g)\n",
				rep.Trace.Source, rep.Trace.Target, strings.Join(rep.Trace.ReactionIDs(), ", "), rep.Trace.Cost)
		} else {
			fmt.Fprintf(w, "trace %s -> %s: no path\n", rep.Trace.Source, rep.Trace.Target)
		}
	}
	if modes {
		fmt.Fprintf(w, "elementary modes: %d\n", len(rep.Modes))
		for i, m := range rep.Modes {
			fmt.Fprintf(w, "  mode %d:%s\n", i+1, formatMode(m))
		}
	}
	if rep.Trajectory != nil {
		printFinal(w, "final", rep.Trajectory)
	}
	for _, tr := range rep.Ensemble {
		printFinal(w, fmt.Sprintf("seed %d final", tr.Seed()), tr)
	}
}

func formatMode(m analysis.FluxMode) string {
	ids := make([]string, 0, len(m.Coefficients))
	for id := range m.Coefficients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var b strings.Builder
	for _, id := range ids {
		fmt.Fprintf(&b, " %d·%s", m.Coefficients[id], id)
	}
	if m.Reversible {
		b.WriteString(" (reversible)")
	}
	return b.String()
}

func printFinal(w io.Writer, label string, tr *sim.Trajectory) {
	if tr.Len() == 0 {
		return
	}
	s := tr.Final()
	fmt.Fprintf(w, "%s t=%.4g (%d samples):", label, s.Time, tr.Len())
	for _, id := range tr.SpeciesIDs() {
		fmt.Fprintf(w, " %s=%.6g", id, s.Concentrations[id])
	}
	fmt.Fprintln(w)
}
