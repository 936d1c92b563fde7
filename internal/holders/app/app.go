package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/yungbote/tokenholders/internal/holders/config"
	"github.com/yungbote/tokenholders/internal/holders/engine"
	"github.com/yungbote/tokenholders/internal/holders/httpapi"
	"github.com/yungbote/tokenholders/internal/holders/ledger"
	"github.com/yungbote/tokenholders/internal/holders/ledger/evmrpc"
	"github.com/yungbote/tokenholders/internal/holders/ledger/mock"
	"github.com/yungbote/tokenholders/internal/holders/observability"
	"github.com/yungbote/tokenholders/internal/platform/logger"
)

// Version is stamped at build time with -ldflags "-X .../app.Version=...".
var Version = "dev"

type App struct {
	Log     *logger.Logger
	Config  *config.Config
	Engine  *engine.Engine
	Metrics *observability.Metrics

	server        *http.Server
	closeLedger   func()
	shutdownTrace func(context.Context) error
}

// New loads configuration and builds every long-lived dependency once: the
// ledger connection is shared by all requests for the life of the process.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return NewWithConfig(ctx, cfg, log)
}

func NewWithConfig(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if isProduction(cfg.Env) {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownTrace := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Environment: cfg.Env,
		Version:     Version,
	})

	var metrics *observability.Metrics
	if cfg.Telemetry.MetricsEnabled {
		metrics = observability.NewMetrics()
	}

	l, closeLedger, err := BuildLedger(ctx, cfg.Ledger, metrics)
	if err != nil {
		_ = shutdownTrace(ctx)
		return nil, err
	}
	log.Info("ledger ready",
		"type", cfg.Ledger.Type,
		"rpc_url", cfg.Ledger.RPCURL,
		"contract", cfg.Ledger.ContractAddress,
		"holdings_method", cfg.Ledger.HoldingsMethod,
	)

	eng := engine.New(l, engine.WithLogger(log), engine.WithObserver(metrics))

	return &App{
		Log:           log,
		Config:        cfg,
		Engine:        eng,
		Metrics:       metrics,
		server:        httpapi.NewServer(cfg, log, eng, metrics),
		closeLedger:   closeLedger,
		shutdownTrace: shutdownTrace,
	}, nil
}

// BuildLedger constructs the configured ledger wrapped with rate limiting and,
// when m is non-nil, call metrics. The returned func releases the connection.
func BuildLedger(ctx context.Context, cfg config.LedgerConfig, m *observability.Metrics) (ledger.Ledger, func(), error) {
	var (
		l       ledger.Ledger
		closeFn = func() {}
	)
	switch cfg.Type {
	case config.LedgerTypeMock:
		l = mock.Seeded()
	case config.LedgerTypeEVMRPC:
		c, err := evmrpc.New(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		l, closeFn = c, c.Close
	default:
		return nil, nil, fmt.Errorf("unsupported ledger type %q", cfg.Type)
	}

	if cfg.RequestsPerSecond > 0 {
		l = ledger.Throttle(l, rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst))
	}
	if m != nil {
		l = ledger.Instrument(l, m)
	}
	return l, closeFn, nil
}

func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("listening", "addr", a.server.Addr)
		errCh <- a.server.ListenAndServe()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.HTTP.ShutdownTimeout.Duration)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.Log.Warn("http shutdown", "error", err)
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}
	a.Close()
	return runErr
}

// Close releases the ledger connection and flushes traces.
func (a *App) Close() {
	if a.closeLedger != nil {
		a.closeLedger()
		a.closeLedger = nil
	}
	if a.shutdownTrace != nil {
		_ = a.shutdownTrace(context.Background())
		a.shutdownTrace = nil
	}
	a.Log.Sync()
}

func isProduction(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "prod", "production":
		return true
	}
	return false
}
