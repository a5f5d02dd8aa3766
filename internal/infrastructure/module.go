// Package infrastructure provides core infrastructure components and their Fx modules.
package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/Raikerian/go-live-tutor/internal/config"
	"github.com/Raikerian/go-live-tutor/internal/observe"
	pkginfra "github.com/Raikerian/go-live-tutor/pkg/infrastructure"
)

const (
	serviceName = "go-live-tutor"

	metricsReadHeaderTimeout = 5 * time.Second
)

// Version is stamped at build time.
var Version = "dev"

// LoggerModule provides logging infrastructure.
var LoggerModule = fx.Module("logger",
	fx.Provide(NewZapLogger),
)

// MetricsModule provides the OpenTelemetry meter provider, the voice
// pipeline instruments and the Prometheus scrape endpoint.
var MetricsModule = fx.Module("metrics",
	fx.Provide(
		NewMetricsProvider,
		NewMetrics,
		NewMetricsServer,
	),
	fx.Invoke(func(*MetricsServer) {}),
)

// NewZapLoggerParams holds dependencies for NewZapLogger.
type NewZapLoggerParams struct {
	fx.In
	Cfg *config.Config
	LC  fx.Lifecycle
}

// NewZapLogger creates and configures a new Zap logger.
func NewZapLogger(params NewZapLoggerParams) (*zap.Logger, error) {
	var zapConfig zap.Config
	switch params.Cfg.LogLevel {
	case "debug":
		zapConfig = zap.NewDevelopmentConfig()
	case "info":
		zapConfig = zap.NewProductionConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapConfig = zap.NewProductionConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapConfig = zap.NewProductionConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapConfig = zap.NewProductionConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create zap logger: %w", err)
	}

	params.LC.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			// Sync on stderr returns EINVAL/ENOTTY on most terminals.
			_ = logger.Sync()
			return nil
		},
	})

	return logger, nil
}

// NewFxLogger creates the Fx event logger using the public package.
func NewFxLogger(logger *zap.Logger) fxevent.Logger {
	return pkginfra.NewFxLogger(logger)
}

// NewMetricsProvider builds the meter provider and flushes it on stop.
func NewMetricsProvider(lc fx.Lifecycle) (*observe.Provider, error) {
	provider, err := observe.NewProvider(serviceName, Version)
	if err != nil {
		return nil, fmt.Errorf("failed to create meter provider: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return provider.Shutdown(ctx)
		},
	})

	return provider, nil
}

// NewMetrics registers the voice pipeline instruments on provider.
func NewMetrics(provider *observe.Provider) (*observe.Metrics, error) {
	m, err := observe.NewMetrics(provider.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	return m, nil
}

// MetricsServer serves the Prometheus registry over HTTP.
type MetricsServer struct {
	logger *zap.Logger
	addr   string
	server *http.Server
	ln     net.Listener
}

// NewMetricsServerParams holds dependencies for NewMetricsServer.
type NewMetricsServerParams struct {
	fx.In
	Cfg      *config.Config
	Provider *observe.Provider
	Logger   *zap.Logger
	LC       fx.Lifecycle
}

// NewMetricsServer creates the scrape endpoint. An empty address leaves it
// disabled; the instruments still record.
func NewMetricsServer(params NewMetricsServerParams) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle(params.Cfg.Metrics.Path, params.Provider.Handler())

	s := &MetricsServer{
		logger: params.Logger.Named("metrics"),
		addr:   params.Cfg.Metrics.Addr,
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: metricsReadHeaderTimeout,
		},
	}

	if s.addr == "" {
		s.logger.Info("Metrics endpoint disabled")
		return s
	}

	params.LC.Append(fx.Hook{
		OnStart: s.start,
		OnStop:  s.stop,
	})

	return s
}

// Addr reports the bound listen address, or "" when the server is not running.
func (s *MetricsServer) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *MetricsServer) start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.ln = ln

	s.logger.Info("Serving metrics", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server stopped", zap.Error(err))
		}
	}()

	return nil
}

func (s *MetricsServer) stop(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop metrics server: %w", err)
	}
	return nil
}
