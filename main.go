package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/config"
	infraobs "github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/outbox"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(getenvDefault("MINISHOP_CONFIG_DIR", "configs"), os.Getenv("MINISHOP_ENV"))
	if err != nil {
		return err
	}

	baseLogger, err := logging.NewLogger(logging.Options{
		Service:    cfg.App.Name + "-" + cfg.App.Service,
		Env:        cfg.App.Env,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return err
	}
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)
	systemLogger := zaplogger.New(logging.WithTrace(baseLogger, logging.SystemTraceID, logging.SystemSpanID))

	// W3C trace context travels on every peer call and is extracted by the HTTP middleware.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	tel := infraobs.NewStandard(prometrics.New(reg, "", ""), oteltrace.New(cfg.App.Name), zaplogger.New(baseLogger))
	metricsHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, systemLogger)
	if err != nil {
		return err
	}
	defer st.Close(systemLogger)

	sink, err := openSink(ctx, cfg)
	if err != nil {
		return err
	}
	if sink != nil {
		defer func() { _ = sink.Close() }()
	}

	// Stopped before the sink closes so queued events still reach the broker.
	bus := outbox.NewBus(tel)
	bus.Start(ctx)
	defer bus.Stop(context.Background())

	w := &wiring{cfg: cfg, tel: tel, stores: st, bus: bus, sink: sink, metrics: metricsHandler, log: systemLogger}
	servers, workers := w.build()
	if len(servers) == 0 {
		return errors.New("no service selected")
	}

	var wg sync.WaitGroup
	for _, ws := range workers {
		wg.Add(1)
		go func(ws workerSpec) {
			defer wg.Done()
			ws.runner.Run(ctx, ws.worker, ws.interval)
		}(ws)
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			systemLogger.Info("http_server_start", observability.F("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		systemLogger.Error("http_server_error", observability.F("error", runErr))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), orDuration(cfg.HTTP.ShutdownTimeout, 10*time.Second))
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			systemLogger.Error("http_server_shutdown_error", observability.F("addr", srv.Addr), observability.F("error", err))
		}
	}
	wg.Wait()
	systemLogger.Info("http_server_stopped")
	return runErr
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func orDuration(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}
