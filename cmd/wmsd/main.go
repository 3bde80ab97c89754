package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mohammed-shakir/wmsd/internal/cache/redisstore"
	"github.com/mohammed-shakir/wmsd/internal/capabilities"
	"github.com/mohammed-shakir/wmsd/internal/core/config"
	"github.com/mohammed-shakir/wmsd/internal/core/health"
	"github.com/mohammed-shakir/wmsd/internal/core/observability"
	"github.com/mohammed-shakir/wmsd/internal/core/server"
	"github.com/mohammed-shakir/wmsd/internal/dispatcher"
	"github.com/mohammed-shakir/wmsd/internal/invalidation"
	"github.com/mohammed-shakir/wmsd/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/wmsd/internal/logger"
	"github.com/mohammed-shakir/wmsd/internal/mapevents"
	"github.com/mohammed-shakir/wmsd/internal/metrics"
	"github.com/mohammed-shakir/wmsd/internal/modules"
	_ "github.com/mohammed-shakir/wmsd/internal/modules/density"
	_ "github.com/mohammed-shakir/wmsd/internal/modules/hexgrid"
	_ "github.com/mohammed-shakir/wmsd/internal/modules/sample"
	"github.com/mohammed-shakir/wmsd/internal/registry"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// overriding MODULES via flag
	modulesFlag := flag.String("modules", "", "comma separated module names")
	listFlag := flag.Bool("list-modules", false, "print the available modules and exit")
	flag.Parse()

	if *listFlag {
		fmt.Println(strings.Join(modules.Names(), "\n"))
		return 0
	}

	cfg := config.FromEnv()
	if *modulesFlag != "" {
		cfg.Modules = nil
		for _, m := range strings.Split(*modulesFlag, ",") {
			if m = strings.TrimSpace(m); m != "" {
				cfg.Modules = append(cfg.Modules, m)
			}
		}
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "wmsd",
		Component: "server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting wmsd",
		"addr", cfg.Addr,
		"version", Version,
		"modules", cfg.Modules)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		startMetrics(ctx, cfg.Metrics, appLog)
	}

	redis := redisstore.NewShared(cfg.RedisAddr, redisstore.OpOptions(cfg.RedisPoolSize, cfg.RedisOpTimeout)...)
	defer func() { _ = redis.Close() }()

	deps := modules.Deps{Config: cfg, Logger: appLog, Redis: redis}
	if cfg.Invalidation.Enabled {
		deps.Invalidation = invalidation.NewHub()
	}

	reg := registry.New()
	if err := modules.Load(ctx, cfg.Modules, reg, deps); err != nil {
		appLog.Error("module setup failed", "err", err)
		return 1
	}
	reg.Freeze()
	appLog.Info("registry frozen", "layers", reg.LayerNames())

	caps, err := capabilities.New(reg, capabilities.Options{
		TemplatePath: cfg.CapabilitiesTemplate,
		Title:        cfg.ServiceTitle,
		Abstract:     cfg.ServiceAbstract,
		MaxWidth:     cfg.MaxWidth,
		MaxHeight:    cfg.MaxHeight,
	}, appLog)
	if err != nil {
		appLog.Error("capabilities setup failed", "err", err)
		return 1
	}
	// a bad template or tree provider should stop startup, not the first client
	if _, err := caps.Build(ctx, "http://localhost", ""); err != nil {
		appLog.Error("capabilities dry run failed", "err", err)
		return 1
	}

	opts := dispatcher.Options{
		MaxWidth:        cfg.MaxWidth,
		MaxHeight:       cfg.MaxHeight,
		LegendCacheSize: cfg.LegendCacheSize,
	}
	if cfg.Events.Enabled {
		pub, err := mapevents.NewPublisher(cfg.Events.Brokers, cfg.Events.Topic, cfg.Events.Queue, appLog)
		if err != nil {
			appLog.Error("map events setup failed", "err", err)
			return 1
		}
		defer func() { _ = pub.Close() }()
		opts.Events = pub
	}

	if deps.Invalidation != nil {
		consumer := kafkaconsumer.New(kafkaconsumer.Config{
			Brokers: cfg.Invalidation.Brokers,
			Topic:   cfg.Invalidation.Topic,
			GroupID: cfg.Invalidation.GroupID,
		}, appLog, deps.Invalidation)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				appLog.Error("invalidation consumer stopped", "err", err)
			}
		}()
	}

	d, err := dispatcher.New(reg, caps, opts, appLog)
	if err != nil {
		appLog.Error("dispatcher setup failed", "err", err)
		return 1
	}

	checks := []health.Check{{
		Name: "registry",
		Fn: func(context.Context) error {
			if !reg.Frozen() {
				return errors.New("registry not frozen")
			}
			return nil
		},
	}}
	if cfg.HasModule("density") {
		checks = append(checks, health.Check{Name: "redis", Fn: redis.Ping})
	}

	handler := server.NewHandler(cfg, appLog, d, checks...)
	if err := server.Run(ctx, cfg, appLog, handler); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

func startMetrics(ctx context.Context, mc config.MetricsCfg, log *slog.Logger) {
	p := metrics.Init(metrics.Config{
		Enabled: true,
		Addr:    mc.Addr,
		Path:    mc.Path,
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
		IncludeService: true,
	})

	mux := http.NewServeMux()
	mux.Handle(mc.Path, p.Handler())
	srv := &http.Server{
		Addr:              mc.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info("metrics listen", "addr", mc.Addr, "path", mc.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server exited", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics shutdown", "err", err)
		}
	}()
}
