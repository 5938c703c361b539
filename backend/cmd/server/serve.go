package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"physsync/backend/internal/adapter/in/ws"
	"physsync/backend/internal/adapter/out/physics/refsim"
	"physsync/backend/internal/config"
	"physsync/backend/internal/core/domain/service"
	"physsync/backend/internal/core/port/out/physics"
	"physsync/backend/internal/demo"
	"physsync/backend/internal/logging"
	"physsync/backend/internal/meshcache"
	"physsync/backend/internal/observability"
	"physsync/backend/internal/telemetry"
	"physsync/backend/internal/transport"
	"physsync/backend/internal/world"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the demo world and stream it over websocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := newLogger(cfg)
			lis, err := listen(cfg.Server)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, log, lis)
		},
	}
}

type listeners struct {
	ws      net.Listener
	metrics net.Listener
	grpc    net.Listener
}

func listen(cfg config.ServerConfig) (listeners, error) {
	var lis listeners
	var err error
	if lis.ws, err = net.Listen("tcp", cfg.WSAddr); err != nil {
		return lis, fmt.Errorf("listen websocket: %w", err)
	}
	if lis.metrics, err = net.Listen("tcp", cfg.MetricsAddr); err != nil {
		lis.ws.Close()
		return lis, fmt.Errorf("listen metrics: %w", err)
	}
	if lis.grpc, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
		lis.ws.Close()
		lis.metrics.Close()
		return lis, fmt.Errorf("listen grpc: %w", err)
	}
	return lis, nil
}

// runServe runs the demo world until ctx is done, serving the websocket
// stream, Prometheus metrics and gRPC health on lis.
func runServe(ctx context.Context, cfg *config.Config, log logging.Logger, lis listeners) error {
	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	}, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewWorldCollector(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	tm := telemetry.NewTelemetryManager(0, log)
	tm.SetSyncBudget(cfg.World.MinTimestep())

	manager := world.NewManager()
	foundation := physics.NewFoundation(refsim.Factory(log))
	w := world.New(manager, foundation, cfg.World,
		world.WithLogger(log),
		world.WithMetrics(world.MultiMetrics(collector, tm)),
		world.WithTracer(otel.Tracer("physsync/world")),
		world.WithMeshCache(meshcache.New(demo.Loader())),
	)
	defer w.Close()

	sc := demo.Build(cfg.Demo)
	w.SetScene(sc.Root)
	w.OnFrameDone(func(f world.Frame) {
		sc.Animate(f.Timestep)
		tm.Record(f)
		tm.PrintSummary(ctx)
	})

	adapter := ws.NewWSAdapter(service.NewWorldService(w, log), log)
	adapter.RegisterHandlers()
	grpcSrv := transport.NewGRPCServer(log, collector.UnaryServerInterceptor())

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", collector.Handler())
	wsSrv := &http.Server{Handler: adapter.Routes(), ReadHeaderTimeout: 5 * time.Second}
	metricsSrv := &http.Server{Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}

	serveHTTP := func(name string, srv *http.Server, l net.Listener) {
		log.Info(ctx, "serving "+name, logging.String("addr", l.Addr().String()))
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, name+" server exited", logging.Err(err))
		}
	}
	go serveHTTP("websocket", wsSrv, lis.ws)
	go serveHTTP("metrics", metricsSrv, lis.metrics)
	go func() {
		if err := grpcSrv.Serve(lis.grpc); err != nil {
			log.Error(ctx, "gRPC server exited", logging.Err(err))
		}
	}()

	if err := w.Start(ctx); err != nil {
		grpcSrv.Stop()
		_ = wsSrv.Close()
		_ = metricsSrv.Close()
		return err
	}
	grpcSrv.SetServing(true)
	log.Info(ctx, "world running", logging.Int("bodies", w.BodyCount()))

	runErr := w.Run(ctx)

	log.Info(context.Background(), "shutting down")
	grpcSrv.SetServing(false)
	adapter.Close()
	grpcSrv.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = wsSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	return runErr
}
