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
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"

	"github.com/turntabl-delinuxist/Virtual-Machine/internal/api"
	"github.com/turntabl-delinuxist/Virtual-Machine/internal/archive"
	"github.com/turntabl-delinuxist/Virtual-Machine/internal/auth"
	"github.com/turntabl-delinuxist/Virtual-Machine/internal/build"
	"github.com/turntabl-delinuxist/Virtual-Machine/internal/config"
	"github.com/turntabl-delinuxist/Virtual-Machine/internal/events"
	"github.com/turntabl-delinuxist/Virtual-Machine/internal/metrics"
	"github.com/turntabl-delinuxist/Virtual-Machine/internal/requestengine"
	"github.com/turntabl-delinuxist/Virtual-Machine/internal/rollover"
	"github.com/turntabl-delinuxist/Virtual-Machine/internal/rpc"
	"github.com/turntabl-delinuxist/Virtual-Machine/internal/storage"
	"github.com/turntabl-delinuxist/Virtual-Machine/internal/telemetry"
)

func main() {
	cfgPath := flag.String("config", "", "path to YAML config (defaults are used when empty)")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("vmorgd exited", zap.Error(err))
	}
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	lvl, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Stats.Location()
	if err != nil {
		return err
	}

	// Create storage
	store, err := storage.NewBadgerStore(cfg.Build.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open badger store: %w", err)
	}
	defer store.Close()

	var pub *events.Publisher
	if cfg.Events.NATSURL != "" {
		pub, err = events.NewPublisher(cfg.Events.NATSURL, logger.Named("nats"))
		if err != nil {
			// Events are best effort; the daemon runs without them.
			logger.Warn("nats unavailable, events disabled", zap.String("url", cfg.Events.NATSURL), zap.Error(err))
			pub = nil
		} else {
			defer pub.Close()
		}
	}

	simOpts := []build.Option{
		build.WithLogger(logger.Named("build")),
		build.WithBootDelay(cfg.Build.BootDelay),
		build.WithLimits(build.Limits{
			MaxCPUs:     cfg.Build.MaxCPUs,
			MaxRAMGB:    cfg.Build.MaxRAMGB,
			MaxHDDGB:    cfg.Build.MaxHDDGB,
			SupportedOS: cfg.Build.SupportedOS,
		}),
	}
	if pub != nil {
		simOpts = append(simOpts, build.WithNotifier(pub, cfg.Events.Subject+".machines"))
	}
	sim := build.NewSimulator(store, simOpts...)
	defer sim.Close()

	allow := auth.NewAllowlist(cfg.Auth.Requestors...)
	if cfg.Auth.AllowlistFile != "" {
		names, err := auth.LoadFile(cfg.Auth.AllowlistFile)
		if err != nil {
			return err
		}
		allow.Replace(names)
		go func() {
			if err := auth.Watch(ctx, cfg.Auth.AllowlistFile, allow, logger.Named("auth")); err != nil {
				logger.Error("allowlist watch stopped", zap.Error(err))
			}
		}()
	}
	logger.Info("allowlist loaded", zap.Int("requestors", len(allow.Names())))

	m := metrics.New("vmorg")
	recorders := []requestengine.Recorder{m}
	if cfg.Stats.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Stats.RedisAddr})
		defer rdb.Close()
		recorders = append(recorders, storage.NewRedisTally(rdb,
			storage.WithTallyPrefix(cfg.Stats.RedisPrefix),
			storage.WithTallyTTL(cfg.Stats.RedisTTL)))
	}
	if pub != nil {
		recorders = append(recorders, events.NewOutcomeRecorder(pub, cfg.Events.Subject+".requests"))
	}

	tracing, err := telemetry.NewTracing(cfg.Tracing.Enabled, "vmorgd", os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to initialise tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(sctx)
	}()

	engine := requestengine.New(allow, sim,
		requestengine.WithLogger(logger.Named("engine")),
		requestengine.WithRecorder(recorders...),
		requestengine.WithTracer(tracing.Tracer("vmorg/requestengine")),
		requestengine.WithClock(func() time.Time { return time.Now().In(loc) }),
	)

	arch, err := archive.Open(cfg.Stats.ArchivePath)
	if err != nil {
		return fmt.Errorf("failed to open report archive: %w", err)
	}
	defer arch.Close()

	sinks := []rollover.Sink{arch, m}
	if pub != nil {
		sinks = append(sinks, events.NewReportSink(pub, cfg.Events.Subject))
	}
	sched := rollover.New(engine,
		rollover.WithSchedule(cfg.Stats.ResetSchedule),
		rollover.WithLocation(loc),
		rollover.WithSinks(sinks...),
		rollover.WithLogger(logger.Named("rollover")),
	)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	var limiter *api.Limiter
	if cfg.RateLimit.RPS > 0 {
		limiter = api.NewLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		go cleanupLoop(ctx, limiter, logger)
	}

	httpOpts := []api.Option{api.WithLogger(logger.Named("http"))}
	if limiter != nil {
		httpOpts = append(httpOpts, api.WithLimiter(limiter))
	}
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.NewHTTPHandler(engine, sim, httpOpts...),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 3)
	go func() {
		logger.Info("HTTP listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http listen: %w", err)
		}
	}()

	// Metrics endpoint
	var metricsServer *http.Server
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		api.RegisterMetrics(mux, m.Handler())
		metricsServer = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("Prometheus metrics available", zap.String("addr", cfg.Server.MetricsAddr+"/metrics"))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var grpcServer *grpc.Server
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.Server.GRPCAddr, err)
		}
		grpcServer = grpc.NewServer(grpc.UnaryInterceptor(
			rpc.APIKeyInterceptor(cfg.Auth.EffectiveHeader(), cfg.Auth.APIKey())))
		rpcOpts := []rpc.ServerOption{rpc.WithLogger(logger.Named("grpc"))}
		if limiter != nil {
			rpcOpts = append(rpcOpts, rpc.WithRateLimiter(limiter))
		}
		rpc.Register(grpcServer, rpc.NewServer(engine, rpcOpts...))
		go func() {
			logger.Info("gRPC listening", zap.String("addr", cfg.Server.GRPCAddr))
			if err := grpcServer.Serve(lis); err != nil {
				errc <- fmt.Errorf("grpc serve: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errc:
		logger.Error("server failed, shutting down", zap.Error(err))
	}

	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(sctx); err != nil {
		logger.Warn("http server shutdown error", zap.Error(err))
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(sctx)
	}

	closed := engine.Snapshot()
	logger.Info("shutdown complete",
		zap.String("day", closed.Day),
		zap.Int("failed_builds", closed.FailedBuilds))
	return nil
}

func cleanupLoop(ctx context.Context, l *api.Limiter, logger *zap.Logger) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := l.Cleanup(); n > 0 {
				logger.Debug("rate limiter cleanup", zap.Int("removed", n))
			}
		}
	}
}
