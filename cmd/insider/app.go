package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	edgar "github.com/RxDataLab/edgar-insider"
	"github.com/RxDataLab/edgar-insider/internal/config"
	"github.com/RxDataLab/edgar-insider/internal/store"
	"github.com/RxDataLab/edgar-insider/internal/telemetry"
)

// as a CLI application, it has a very short lived lifecycle, so it is ok to use global variables.

var (
	envFile = flag.String("env-file", ".env", "Path to a .env file read before the environment")
	dbPath  = flag.String("db", "", "SQLite database path (overrides INSIDER_DB_PATH)")
	email   = flag.String("email", "", "Contact email for the SEC User-Agent (overrides EDGAR_USER_AGENT and SEC_EMAIL)")
)

// app holds the dependencies a subcommand needs. Fields are nil when the
// subcommand did not ask for them.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *store.SQLite
	client   *edgar.Client
	registry *prometheus.Registry
	metrics  *edgar.Metrics
	tracing  trace.TracerProvider
	shutdown telemetry.Shutdown
}

type needs struct {
	client  bool
	metrics bool
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(*envFile)
	if err != nil {
		return nil, err
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *email != "" {
		cfg.UserAgent = edgar.BuildUserAgent(*email)
	}
	return cfg, nil
}

func openApp(ctx context.Context, n needs) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	a.tracing, a.shutdown, err = telemetry.Setup(ctx, cfg.Trace, os.Stderr)
	if err != nil {
		return nil, err
	}

	if n.client {
		if err := cfg.Validate(); err != nil {
			a.Close()
			return nil, err
		}
		a.client, err = edgar.NewClient(cfg.UserAgent,
			edgar.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
			edgar.WithRateLimit(cfg.RateLimit),
		)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	if n.metrics {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if a.metrics, err = edgar.NewMetrics(a.registry); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.store, err = store.Open(ctx, cfg.DBPath)
	if err != nil {
		a.Close()
		return nil, err
	}
	logger.Debug("database opened", zap.String("path", cfg.DBPath))
	return a, nil
}

func (a *app) refresher() *edgar.Refresher {
	return edgar.NewRefresher(a.client, a.store,
		edgar.WithLogger(a.logger),
		edgar.WithMetrics(a.metrics),
		edgar.WithTracerProvider(a.tracing),
		edgar.WithMaxFilings(a.cfg.MaxFilings),
		edgar.WithWindowDays(a.cfg.WindowDays),
	)
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("closing database", zap.Error(err))
		}
	}
	if a.shutdown != nil {
		if err := a.shutdown(context.Background()); err != nil {
			a.logger.Warn("flushing traces", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
