// Command quicktab-daemon runs the privileged background context: the
// command router, the replication bus, the settings watcher, and the
// Prometheus metrics endpoint. Flag handling, the startup banner, and
// graceful shutdown on SIGINT/SIGTERM follow the teacher repo's
// cmd/master idiom.
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

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quicktabs/sync-core/internal/bus"
	"github.com/quicktabs/sync-core/internal/persistence"
	"github.com/quicktabs/sync-core/internal/router"
	"github.com/quicktabs/sync-core/internal/settings"
	"github.com/quicktabs/sync-core/internal/telemetry/logger"
	"github.com/quicktabs/sync-core/internal/telemetry/metrics"
	"github.com/quicktabs/sync-core/internal/transport"
)

func main() {
	var (
		storagePath  = flag.String("storage", "./data/quick_tabs_state.json", "Durable storage file path")
		settingsPath = flag.String("settings", "./data/settings.yaml", "Settings file path")
		metricsAddr  = flag.String("metrics-bind", "127.0.0.1:9090", "Metrics HTTP bind address")
		identity     = flag.String("identity", "quicktab-extension", "Extension identity required of every command sender")
		logLevel     = flag.String("log-level", "info", "Log level: debug, info, warn, error")
		rateLimit    = flag.Float64("rate-limit", 200, "Commands/sec the router will accept")
		rateBurst    = flag.Int("rate-burst", 400, "Router rate limiter burst size")
	)
	flag.Parse()

	fmt.Println("╔══════════════════════════════════════════════╗")
	fmt.Println("║            quicktab sync daemon               ║")
	fmt.Println("╚══════════════════════════════════════════════╝")

	logCfg := logger.DefaultConfig()
	logCfg.Level = *logLevel
	logCfg.Format = "json"
	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	metricsCollector := metrics.New()

	memFallback := persistence.NewMemoryAdapter()
	fileAdapter, err := persistence.NewFileAdapter(*storagePath, log, func() {
		metricsCollector.QuotaExceeded.Inc()
		log.Warn("durable storage quota exceeded, falling back to session-local storage")
	})
	if err != nil {
		log.Fatal("failed to open durable storage", zap.Error(err))
	}
	fileAdapter.UseFallback(memFallback)
	defer fileAdapter.Close()

	replicationBus := bus.New(log)

	settingsWatcher := settings.New(*settingsPath, log)
	if err := settingsWatcher.Start(); err != nil {
		log.Fatal("failed to start settings watcher", zap.Error(err))
	}
	defer settingsWatcher.Stop()

	cmdRouter := router.New(router.Config{
		Identity:                 *identity,
		Adapter:                  fileAdapter,
		Bus:                      replicationBus,
		Log:                      log,
		MaxQuickTabsPerContainer: settingsWatcher.Current().MaxQuickTabs,
		Limiter:                  rate.NewLimiter(rate.Limit(*rateLimit), *rateBurst),
		Metrics:                  metricsCollector,
	})

	knownContainers := &containerSet{}
	settingsWatcher.BroadcastTo(replicationBus, *identity, knownContainers.Snapshot, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/dispatch", dispatchHandler(cmdRouter, log, knownContainers))
	mux.HandleFunc("/ws", transport.HandleWS(replicationBus, log))
	mux.Handle("/metrics", metricsCollector.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	metricsServer := &http.Server{Addr: *metricsAddr, Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		metricsServer.Shutdown(shutdownCtx)
		cancel()
	}()

	fmt.Printf("metrics: http://%s/metrics\n", *metricsAddr)
	fmt.Printf("storage: %s\n", *storagePath)
	fmt.Println("press Ctrl+C to stop")

	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	fmt.Println("stopped")
}
