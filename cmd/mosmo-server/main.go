package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/mosmo/analysis"
	"github.com/signalsfoundry/mosmo/internal/catalog"
	"github.com/signalsfoundry/mosmo/internal/config"
	"github.com/signalsfoundry/mosmo/internal/logging"
	"github.com/signalsfoundry/mosmo/internal/observability"
	"github.com/signalsfoundry/mosmo/internal/rpc"
	"github.com/signalsfoundry/mosmo/internal/scenario"
	"github.com/signalsfoundry/mosmo/kb"
	"github.com/signalsfoundry/mosmo/sim"
)

const defaultGRPCAddr = ":50051"

func main() {
	configPath := flag.String("config", "", "config file (default $MOSMO_CONFIG or ./mosmo.yaml)")
	flag.Parse()

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
		fmt.Fprintf(os.Stderr, "mosmo-server: %v\n", err)
		os.Exit(1)
	}
	log := cfg.Logger(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	addr := cfg.GRPC.Addr
	if addr == "" {
		addr = defaultGRPCAddr
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", addr), logging.Err(err))
		os.Exit(1)
	}
	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "server exited", logging.Err(err))
		os.Exit(1)
	}
}

// run serves until ctx is done. It owns lis.
func run(ctx context.Context, cfg *config.Config, log logging.Logger, lis net.Listener) error {
	reg := prometheus.NewRegistry()
	engineMetrics, err := observability.NewEngineCollector(reg)
	if err != nil {
		return fmt.Errorf("engine metrics: %w", err)
	}
	catalogMetrics, err := observability.NewCatalogCollector(reg)
	if err != nil {
		return fmt.Errorf("catalog metrics: %w", err)
	}
	metricsSrv := serveMetrics(cfg.Metrics.Addr, engineMetrics, log)

	shutdownTracing, err := observability.InitTracing(ctx, cfg.TracingSettings(), log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	breaker := cfg.BreakerSettings("sqlite")
	breaker.OnStateChange = catalogMetrics.SetBreakerState
	fallback, closeCatalog, err := catalog.Open(ctx, cfg.Catalog, breaker, log)
	if err != nil {
		return err
	}
	defer closeCatalog()

	runner := &scenario.Runner{
		Analysis: analysis.NewEngine(analysis.WithLogger(log), analysis.WithRecorder(engineMetrics)),
		Sim:      sim.NewEngine(sim.WithLogger(log), sim.WithMetrics(engineMetrics)),
		Workers:  cfg.Engine.Workers,
	}
	hs := health.NewServer()
	svc := rpc.NewScenarioServer(runner, fallback,
		rpc.WithLogger(log),
		rpc.WithHealth(hs),
		rpc.WithShapeRecorder(engineMetrics),
		rpc.WithResolverOptions(kb.WithLogger(log), kb.WithLookupRecorder(catalogMetrics)),
	)

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			rpc.RunIDUnaryServerInterceptor(log),
			rpc.TracingUnaryServerInterceptor(),
			engineMetrics.UnaryServerInterceptor(),
		),
	)
	rpc.RegisterScenarioServiceServer(server, svc)
	healthpb.RegisterHealthServer(server, hs)

	g, gctx := errgroup.WithContext(ctx)
	if path := cfg.Scenario.Path; path != "" {
		apply := func(sc *scenario.Scenario, err error) {
			if err != nil {
				svc.Fail(gctx, err)
				return
			}
			_, _ = svc.Apply(gctx, sc)
		}
		apply(scenario.LoadFile(path))
		if cfg.Scenario.Watch {
			w := scenario.NewWatcher(path, apply).WithDebounce(cfg.Scenario.Debounce).WithLogger(log)
			g.Go(func() error {
				if err := w.Watch(gctx); err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("scenario watcher: %w", err)
				}
				return nil
			})
			select {
			case <-w.Ready():
			case <-gctx.Done():
			}
		}
	}

	log.Info(ctx, "starting gRPC server", logging.String("addr", lis.Addr().String()))
	g.Go(func() error {
		if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(context.Background(), "shutting down server")
		hs.Shutdown()
		server.GracefulStop()
		return nil
	})
	err = g.Wait()

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return err
}

func serveMetrics(addr string, collector *observability.EngineCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
