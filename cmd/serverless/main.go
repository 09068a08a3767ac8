// Package main 是请求分发服务的入口点。
// 分发服务接收多租户函数流量，解析目标部署并在沙箱中执行，
// 同时将计费结果异步上报给核算子系统。
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/Udit-takkar/lagon/internal/assets"
	"github.com/Udit-takkar/lagon/internal/config"
	"github.com/Udit-takkar/lagon/internal/gateway"
	"github.com/Udit-takkar/lagon/internal/metrics"
	"github.com/Udit-takkar/lagon/internal/reporter"
	"github.com/Udit-takkar/lagon/internal/resolver"
	"github.com/Udit-takkar/lagon/internal/sandbox"
	"github.com/Udit-takkar/lagon/internal/storage"
	"github.com/Udit-takkar/lagon/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "/etc/lagon/config.yaml", "Path to config file")
	flag.Parse()

	// JSON 格式日志，便于日志收集和分析
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load config")
	}
	if cfg.Logging.Level == "debug" {
		logger.SetLevel(logrus.DebugLevel)
	}
	if cfg.Logging.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	}

	logger.WithField("resolver_mode", cfg.Resolver.Mode).Info("Starting Lagon serverless gateway")

	// 遥测初始化失败不影响主服务运行，仅记录警告
	if cfg.Telemetry.Enabled {
		tel, err := telemetry.New(context.Background(), telemetry.Config{
			Enabled:     cfg.Telemetry.Enabled,
			Endpoint:    cfg.Telemetry.Endpoint,
			ServiceName: cfg.Telemetry.ServiceName,
			SampleRate:  cfg.Telemetry.SampleRate,
			Environment: cfg.Telemetry.Environment,
		})
		if err != nil {
			logger.WithError(err).Warn("Failed to initialize telemetry, continuing without tracing")
		} else {
			defer tel.Shutdown(context.Background())
			logger.AddHook(telemetry.NewLogrusHook())
			logger.WithFields(logrus.Fields{
				"endpoint":    cfg.Telemetry.Endpoint,
				"sample_rate": cfg.Telemetry.SampleRate,
			}).Info("Telemetry initialized")
		}
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		namespace := cfg.Metrics.Namespace
		if namespace == "" {
			namespace = "lagon"
		}
		m = metrics.NewMetrics(namespace)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// 部署解析：生产环境从 Redis 控制面同步，
	// 开发环境监听本地清单目录
	registry := resolver.NewRegistry()
	switch cfg.Resolver.Mode {
	case "dir":
		watcher := resolver.NewDirWatcher(cfg.Resolver.DeploymentsDir, registry, logger)
		if err := watcher.Start(rootCtx); err != nil {
			logger.WithError(err).Fatal("Failed to start deployments watcher")
		}
	default:
		redisStore, err := storage.NewRedisStore(cfg.Storage.Redis, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redisStore.Close()

		sync := resolver.NewRedisSync(redisStore, registry, logger)
		if err := sync.Start(rootCtx); err != nil {
			logger.WithError(err).Fatal("Failed to sync deployments from Redis")
		}
	}
	logger.WithField("deployments", registry.Len()).Info("Deployment registry ready")

	assetStore := assets.NewStore(cfg.Assets.Root)

	loader := sandbox.NewFileLoader(cfg.Sandbox.CodeDir)
	engine, err := sandbox.NewWasmEngine(rootCtx, cfg.Sandbox, loader, m, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize sandbox engine")
	}
	defer engine.Close(context.Background())

	// 按配置装配上报落地端
	var sinks []reporter.Sink
	var pgStore *storage.PostgresStore
	for _, name := range cfg.Reporter.Sinks {
		switch name {
		case "nats":
			sink, err := reporter.NewNATSSink(cfg.Events.NatsURL, logger)
			if err != nil {
				logger.WithError(err).Fatal("Failed to connect to NATS")
			}
			defer sink.Close()
			sinks = append(sinks, sink)
		case "postgres":
			pgStore, err = storage.NewPostgresStore(cfg.Storage.Postgres)
			if err != nil {
				logger.WithError(err).Fatal("Failed to connect to PostgreSQL")
			}
			defer pgStore.Close()
			sinks = append(sinks, reporter.NewPostgresSink(pgStore))
		default:
			logger.WithField("sink", name).Fatal("Unknown reporter sink")
		}
	}
	rep := reporter.NewBufferedReporter(reporter.NewMultiSink(logger, sinks...), cfg.Reporter.BufferSize, m, logger)

	gw := gateway.New(registry, assetStore, engine, rep, m, logger)

	router := chi.NewRouter()
	router.Use(telemetry.HTTPMiddleware(cfg.Telemetry.ServiceName))
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Get("/_health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	// 函数流量按主机名区分租户，路径全部交给编排器
	router.Handle("/*", gw)

	// 指标暴露在内部端口，避免与租户流量混用
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.MetricsPort),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			logger.WithField("port", cfg.Server.MetricsPort).Info("Starting metrics server")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Fatal("Metrics server failed")
			}
		}()
	}

	// 函数执行不设超时，写超时需要覆盖长流式回复
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		logger.WithField("port", cfg.Server.HTTPPort).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server shutdown error")
	}

	// 在新请求停止后排空上报缓冲
	rep.Close()

	rootCancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			logger.WithError(err).Error("Metrics server shutdown error")
		}
	}

	logger.Info("Server stopped")
}
