// Command gatewayd wires the policy engine, audit logger, execution
// harness, built-in connectors, and every transport into one process.
package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreflux/toolgateway/internal/audit"
	"github.com/coreflux/toolgateway/internal/connectors/fsconn"
	"github.com/coreflux/toolgateway/internal/connectors/httpconn"
	"github.com/coreflux/toolgateway/internal/connectors/sqlconn"
	"github.com/coreflux/toolgateway/internal/gateway"
	"github.com/coreflux/toolgateway/internal/infra"
	"github.com/coreflux/toolgateway/internal/policy"
	"github.com/coreflux/toolgateway/internal/registry"
	"github.com/coreflux/toolgateway/internal/transport/grpcapi"
	"github.com/coreflux/toolgateway/internal/transport/httpapi"
	"github.com/coreflux/toolgateway/internal/transport/stdio"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := newLogger(cfg.Logger)
	defer logger.Sync()

	policyCfg, err := policy.LoadConfig(cfg.Policy.ConfigPath)
	if err != nil {
		logger.Fatal("load policy config", zap.Error(err))
	}
	engine := policy.NewEngine(policyCfg)

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sink *audit.PostgresSink
	if cfg.Audit.PostgresDSN != "" {
		repo, err := audit.NewPostgresRepo(cfg.Audit.PostgresDSN)
		if err != nil {
			logger.Fatal("open audit postgres repo", zap.Error(err))
		}
		defer repo.Close()
		sink = audit.NewPostgresSink(repo, logger)
		sink.Start()
		defer sink.Stop()
	}
	auditor := audit.New(logger, cfg.Audit.FilePath, sink, cfg.Audit.Enabled)

	reg2 := prometheus.NewRegistry()
	metrics := gateway.NewMetrics(reg2)
	if sink != nil {
		sink.SetDepthGauge(metrics.AuditQueueDepth)
	}

	reg := registry.New()
	registerConnectors(appCtx, reg, cfg, logger, metrics)

	harness := gateway.New(reg, engine, auditor, cfg.Server.Actor, metrics)

	go serveMetrics(reg2, logger)

	if cfg.Server.StdioEnabled {
		go func() {
			srv := stdio.New(harness, logger)
			if err := srv.Serve(appCtx, os.Stdin, os.Stdout); err != nil {
				logger.Error("stdio transport exited", zap.Error(err))
			}
		}()
	}

	httpSrv := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      httpapi.New(harness, logger).Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Info("http transport listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http transport failed", zap.Error(err))
		}
	}()

	grpcSrv := grpc.NewServer()
	grpcapi.RegisterGatewayServer(grpcSrv, grpcapi.New(harness))
	go func() {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			logger.Fatal("grpc listen failed", zap.Error(err))
		}
		logger.Info("grpc transport listening", zap.String("addr", cfg.Server.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Fatal("grpc transport failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	cancel()
	logger.Info("shutdown complete")
}

func registerConnectors(ctx context.Context, reg *registry.Registry, cfg *infra.Config, logger *zap.Logger, metrics *gateway.Metrics) {
	fs := fsconn.New(fsconn.Config{
		AllowedPaths: cfg.FS.AllowedPaths,
		DeniedPaths:  cfg.FS.DeniedPaths,
		MaxFileSize:  cfg.FS.MaxFileSize,
	})
	if err := reg.RegisterMany(fs.Tools()); err != nil {
		logger.Fatal("register fs connector", zap.Error(err))
	}

	web := httpconn.New(httpconn.Config{
		AllowedDomains:     cfg.HTTP.AllowedDomains,
		DeniedDomains:      cfg.HTTP.DeniedDomains,
		MaxResponseBytes:   cfg.HTTP.MaxResponseBytes,
		TimeoutMs:          cfg.HTTP.TimeoutMs,
		RateLimitPerSecond: cfg.HTTP.RateLimitPerSecond,
		RateLimitBurst:     cfg.HTTP.RateLimitBurst,
		OnBreakerStateChange: func(from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues("web.fetch").Set(float64(to))
		},
	})
	if err := reg.Register(web.Tool()); err != nil {
		logger.Fatal("register http connector", zap.Error(err))
	}

	if cfg.SQL.DSN != "" {
		db, err := sqlconn.New(ctx, sqlconn.Config{
			DSN:            cfg.SQL.DSN,
			QueryTimeoutMs: cfg.SQL.QueryTimeoutMs,
			MaxRows:        cfg.SQL.MaxRows,
			MaxOpenConns:   cfg.SQL.MaxOpenConns,
			MaxRetries:     cfg.SQL.MaxRetries,
		})
		if err != nil {
			logger.Fatal("open sql connector", zap.Error(err))
		}
		if err := reg.RegisterMany(db.Tools()); err != nil {
			logger.Fatal("register sql connector", zap.Error(err))
		}
	}
}

func serveMetrics(reg *prometheus.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	logger.Info("metrics listening", zap.String("addr", ":9091"))
	if err := http.ListenAndServe(":9091", mux); err != nil {
		logger.Error("metrics server exited", zap.Error(err))
	}
}

func newLogger(cfg infra.LoggerConfig) *zap.Logger {
	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err == nil {
		zcfg.Level = level
	}
	logger, err := zcfg.Build()
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	return logger
}
