package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pscheid92/livequeryd/internal/domain"
	"github.com/pscheid92/livequeryd/internal/livequery"
	"github.com/pscheid92/livequeryd/internal/platform/config"
	"github.com/pscheid92/livequeryd/internal/platform/logging"
	"github.com/pscheid92/livequeryd/internal/platform/version"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// loggingHook is the default post_poll_hook until a real transport layer
// supplies its own (e.g. to also emit results over a metrics pipeline).
func loggingHook(cfg *config.Config) domain.PostPollHook {
	return func(d domain.PollDetails) {
		slog.Debug("poll tick completed",
			"poller_id", d.PollerID.String(),
			"source", d.Source,
			"role", d.Role,
			"batches", len(d.Batches),
			"total_time", d.TotalTime,
			"snapshot_time", d.SnapshotTime,
		)
	}
}

func runMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}

func runGracefulShutdown(metricsSrv *http.Server, registry *livequery.Registry) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown error", "error", err)
		}

		registry.Shutdown()
		close(done)
	}()

	return done
}

func main() {
	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("livequeryd starting", "version", version.Get().Version, "metrics_addr", cfg.MetricsAddr)

	clock := clockwork.NewRealClock()

	// No transport is wired into this binary yet: SourceResolver and the
	// GraphQL/websocket layer that would call AddSubscription/
	// RemoveSubscription are external collaborators (spec.md §1, §6).
	// This wiring point is where they attach.
	resolveSource := func(_ context.Context, name domain.SourceName) (domain.Source, domain.SourceConfig, error) {
		return nil, nil, errors.New("no source resolver configured for " + string(name))
	}

	registry := livequery.NewRegistry(resolveSource, loggingHook(cfg), cfg.MaxConcurrentBatches, clock)

	metricsSrv := runMetricsServer(cfg.MetricsAddr)

	done := runGracefulShutdown(metricsSrv, registry)
	<-done

	slog.Info("livequeryd stopped")
}
