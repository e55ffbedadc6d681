// Command redilockd is an example daemon showing how to wire the
// redilock packages together: it loads a config file, opens one store
// adapter per configured node, builds a single-node or quorum lock per
// job, and runs each job body on a cron schedule under exec.Using so
// that only one node in the fleet executes a job per tick.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redilock/redilock/adapter"
	"github.com/redilock/redilock/config"
	"github.com/redilock/redilock/metrics"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "redilockd.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("redilockd %s\n", version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	nodeID := cfg.Node.ID
	if nodeID == "" {
		hostname, _ := os.Hostname()
		nodeID = fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])
	}
	logger = logger.With("node_id", nodeID)

	adapters, closeAdapters, err := dialStores(cfg.Stores, logger)
	if err != nil {
		logger.Error("failed to connect to stores", "error", err)
		os.Exit(1)
	}
	defer closeAdapters()

	var collector metrics.Collector = metrics.NoopCollector{}
	var stopMetricsServer func(context.Context) error
	if cfg.Metrics.Enabled {
		prom := metrics.NewPrometheus(nil)
		collector = prom
		stopMetricsServer = serveMetrics(cfg.Metrics.Address, prom, logger)
	}

	sched := newScheduler(cfg.Node.GracePeriod, logger)

	for _, jobCfg := range cfg.Jobs {
		if !jobCfg.IsEnabled() {
			logger.Info("job disabled, skipping", "job", jobCfg.Name)
			continue
		}
		job, err := newLockedJob(jobCfg, adapters, cfg.Locking, collector, logger)
		if err != nil {
			logger.Error("failed to build job", "job", jobCfg.Name, "error", err)
			os.Exit(1)
		}
		if err := sched.AddJob(job); err != nil {
			logger.Error("failed to schedule job", "job", jobCfg.Name, "error", err)
			os.Exit(1)
		}
	}

	sched.Start()

	notifySystemd(logger)
	stopWatchdog := startWatchdog(logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("received shutdown signal", "signal", sig)

	if stopWatchdog != nil {
		stopWatchdog()
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	sched.Stop()

	if stopMetricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := stopMetricsServer(ctx); err != nil {
			logger.Error("failed to stop metrics server", "error", err)
		}
		cancel()
	}

	logger.Info("shutdown complete")
}

// dialStores opens one adapter.Redis per configured store and pings it,
// grounded on cronlock/cmd/cronlock/main.go's single connect-then-ping
// step, generalized to N stores for redlock quorum.
func dialStores(stores []config.StoreConfig, logger *slog.Logger) ([]adapter.Adapter, func(), error) {
	clients := make([]*redis.Client, 0, len(stores))
	adapters := make([]adapter.Adapter, 0, len(stores))

	closeAll := func() {
		for _, c := range clients {
			_ = c.Close()
		}
	}

	for _, store := range stores {
		client := redis.NewClient(&redis.Options{
			Addr:     store.Address,
			Password: store.Password,
			DB:       store.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("connect to store %q: %w", store.Address, err)
		}

		logger.Info("connected to store", "address", store.Address)
		clients = append(clients, client)
		adapters = append(adapters, adapter.NewRedis(client, adapter.Config{
			KeyPrefix: store.KeyPrefix,
			Logger:    logger,
		}))
	}

	return adapters, closeAll, nil
}

// serveMetrics starts a background HTTP server exposing prom's registry
// on /metrics, grounded on the corpus's promhttp.HandlerFor usage
// (go-lynx-lynx/app/observability/metrics/handler.go). Returns a shutdown
// function.
func serveMetrics(addr string, prom *metrics.Prometheus, logger *slog.Logger) func(context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prom.Registry(), promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info("serving metrics", "address", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return server.Shutdown
}

func notifySystemd(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd", "error", err)
	} else if sent {
		logger.Debug("notified systemd ready")
	}
}

func startWatchdog(logger *slog.Logger) func() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return nil
	}

	logger.Info("starting systemd watchdog", "interval", interval)

	ticker := time.NewTicker(interval / 2)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				ticker.Stop()
				return
			case <-ticker.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()

	return func() {
		close(done)
	}
}
