// Command consoled serves the wastage reduction operations console: dataset
// edit sessions, saves, CSV exports, and the dashboard, over a JSON API.
package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"wastageops/internal/adapters/console"
	"wastageops/internal/blob"
	"wastageops/internal/config"
	"wastageops/internal/core"
	"wastageops/pkg/domain"
)

// tableEnsurer is implemented by gateways that can create missing tables.
type tableEnsurer interface {
	EnsureTable(ctx context.Context, cfg domain.DatasetConfig) error
}

// newMetricsRecorder picks the service metrics backend from
// WASTAGEOPS_METRICS, mirroring the warehouse and blob driver switches.
// "prometheus" (the default) publishes on /metrics, "expvar" keeps
// process-local aggregates on /debug/vars, "none" disables recording.
func newMetricsRecorder(registry *prometheus.Registry) (core.MetricsRecorder, error) {
	backend := os.Getenv("WASTAGEOPS_METRICS")
	switch backend {
	case "", "prometheus":
		return core.NewPrometheusMetricsRecorder(registry), nil
	case "expvar":
		return core.NewExpvarMetricsRecorder("console_metrics"), nil
	case "none":
		return core.NoopMetrics{}, nil
	default:
		return nil, fmt.Errorf("unknown metrics backend %q", backend)
	}
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger); err != nil {
		logger.Fatal("consoled exited", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	gateway, err := core.OpenWarehouse()
	if err != nil {
		return err
	}

	store, err := blob.Open(ctx)
	if err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := newMetricsRecorder(promRegistry)
	if err != nil {
		return err
	}
	service := core.NewService(gateway, registry.Datasets,
		core.WithMetrics(recorder),
		core.WithGrantDataset(registry.GrantDataset),
	)
	if ensurer, ok := service.Gateway().(tableEnsurer); ok {
		for _, ds := range service.Datasets() {
			if err := ensurer.EnsureTable(ctx, ds); err != nil {
				return err
			}
		}
	}

	handler := console.NewHandler(service, logger)
	handler.Exporter = &console.Exporter{Store: store}
	handler.LocalIdentity = os.Getenv("WASTAGEOPS_LOCAL_IDENTITY")

	mux := http.NewServeMux()
	mux.Handle("/api/v1/", handler)
	mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	mux.Handle("/debug/vars", expvar.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	addr := os.Getenv("WASTAGEOPS_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", addr),
			zap.Int("datasets", len(registry.Datasets)),
			zap.String("blob_driver", string(store.Driver())),
		)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
