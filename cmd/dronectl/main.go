// Command dronectl runs the drone orchestrator: it loads configuration,
// opens the registry, spawns the configured demo fleet, starts the HTTP
// API, and exposes Prometheus metrics.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/r3e-network/dronectl/adapters/cachingbatch"
	"github.com/r3e-network/dronectl/adapters/mockagents"
	"github.com/r3e-network/dronectl/adapters/resilientsite"
	"github.com/r3e-network/dronectl/adapters/slurmbatch"
	"github.com/r3e-network/dronectl/auth"
	"github.com/r3e-network/dronectl/config"
	"github.com/r3e-network/dronectl/drone"
	svcerrors "github.com/r3e-network/dronectl/infrastructure/errors"
	"github.com/r3e-network/dronectl/httpapi"
	"github.com/r3e-network/dronectl/infrastructure/logging"
	"github.com/r3e-network/dronectl/infrastructure/metrics"
	"github.com/r3e-network/dronectl/infrastructure/resilience"
	"github.com/r3e-network/dronectl/orchestrator"
	"github.com/r3e-network/dronectl/registry"
)

func main() {
	ctx := context.Background()
	logger := logging.NewFromEnv("dronectl")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal(ctx, "load configuration", err)
	}

	reg, err := openRegistry(ctx)
	if err != nil {
		logger.Fatal(ctx, "open registry", err)
	}

	m := metrics.New("dronectl")
	authConfig := auth.NewConfig(config.NewSecretSource(cfg))
	pacing := drone.Pacing{
		AvailabilityInterval: time.Duration(cfg.AvailabilityIntervalSeconds) * time.Second,
		StepPacing:           500 * time.Millisecond,
	}
	orch := orchestrator.NewWithPacing(reg, logger, m, pacing)

	startPruneJob(reg, logger)
	startMetricsUpdater(orch, m)
	spawnDemoFleet(ctx, orch, cfg)

	server := httpapi.New(reg, orch, authConfig, logger, m)

	mux := http.NewServeMux()
	mux.Handle("/", server.Router())
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:         addr(),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithContext(ctx).WithFields(map[string]interface{}{"addr": httpServer.Addr}).Info("dronectl listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "http server failed", err)
		}
	}()

	waitForShutdown(httpServer, logger)
}

func addr() string {
	if v := os.Getenv("DRONECTL_ADDR"); v != "" {
		return v
	}
	return ":8080"
}

func openRegistry(ctx context.Context) (registry.Registry, error) {
	dsn := os.Getenv("DRONECTL_DATABASE_DSN")
	if dsn == "" {
		return registry.NewMemoryRegistry(), nil
	}
	reg, err := registry.OpenSQLRegistry(ctx, dsn)
	if err != nil {
		return nil, svcerrors.Internal("open sql registry", err)
	}
	if err := reg.Migrate(ctx); err != nil {
		return nil, svcerrors.Internal("migrate sql registry", err)
	}
	return reg, nil
}

// buildBatchAgent wires the configured batch-system adapter behind the
// freshness cache that respects BatchSystem.max_age.
func buildBatchAgent(cfg *config.Config) drone.BatchSystemAgent {
	var base drone.BatchSystemAgent
	switch cfg.BatchSystem.Adapter {
	case "slurm":
		base = slurmbatch.New(cfg.BatchSystem.Options["partition"])
	default:
		base = mockagents.NewBatchSystemAgent(2 * time.Second)
	}
	return cachingbatch.New(base, cfg.BatchSystem.MaxAgeDuration())
}

// wrapSiteAgent adds circuit-breaker protection around a site provider
// adapter, so a provider outage fails fast instead of every drone retrying
// it independently.
func wrapSiteAgent(next drone.SiteAgent) drone.SiteAgent {
	return resilientsite.New(next, resilience.DefaultConfig())
}

// spawnDemoFleet starts one drone per entry of DRONECTL_DEMO_DRONES
// (comma-separated "prefix:maximum_demand" pairs) against the reference
// mock site agent, since no concrete site adapter ships with this module,
// and the batch agent buildBatchAgent configures.
// Empty/unset means no drones are spawned; the HTTP API still serves
// whatever the registry already holds.
func spawnDemoFleet(ctx context.Context, orch *orchestrator.Orchestrator, cfg *config.Config) {
	spec := strings.TrimSpace(os.Getenv("DRONECTL_DEMO_DRONES"))
	if spec == "" {
		return
	}

	site := wrapSiteAgent(mockagents.NewSiteAgent(3 * time.Second))
	batch := buildBatchAgent(cfg)

	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		prefix, demandStr, _ := strings.Cut(entry, ":")
		maximumDemand, err := strconv.ParseFloat(demandStr, 64)
		if err != nil {
			maximumDemand = 1.0
		}
		uniqueID, err := drone.NewUniqueID(prefix)
		if err != nil {
			continue
		}
		orch.Spawn(ctx, uniqueID, maximumDemand, site, batch)
	}
}

func startPruneJob(reg registry.Registry, logger *logging.Logger) {
	c := cron.New()
	c.AddFunc("@every 5m", func() {
		ctx := context.Background()
		n, err := reg.Prune(ctx, time.Now().Add(-24*time.Hour))
		if err != nil {
			logger.WithContext(ctx).WithError(err).Error("registry prune failed")
			return
		}
		if n > 0 {
			logger.WithContext(ctx).WithFields(map[string]interface{}{"pruned": n}).Info("registry prune completed")
		}
	})
	c.Start()
}

// startMetricsUpdater periodically refreshes the drones_live and
// supply/demand gauges from the orchestrator's live fleet.
func startMetricsUpdater(orch *orchestrator.Orchestrator, m *metrics.Metrics) {
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			counts := make(map[string]int)
			var supply, demand float64
			for _, id := range orch.Live() {
				d, ok := orch.Lookup(id)
				if !ok {
					continue
				}
				counts[d.State.Name()]++
				supply += d.Supply
				demand += d.Demand()
			}
			m.SetDronesLive(counts)
			m.SetDroneSupplyDemand(supply, demand)
		}
	}()
}

func waitForShutdown(httpServer *http.Server, logger *logging.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.WithContext(ctx).WithError(err).Error("http server shutdown failed")
	}
}
