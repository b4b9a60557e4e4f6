// Command matrixd is the resident localhost projection-matrix service:
// the detached daemon spec.md §5's process model describes, caching
// projection matrices and serving y = x·M over HTTP so callers don't pay
// per-process matrix-load cost.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jsbattig/code-indexer-sub009/internal/config"
	"github.com/jsbattig/code-indexer-sub009/internal/logging"
	"github.com/jsbattig/code-indexer-sub009/internal/metrics"
	"github.com/jsbattig/code-indexer-sub009/internal/projection"
)

func main() {
	port := flag.Int("port", 0, "TCP port to listen on (0 = OS-assigned)")
	configDir := flag.String("config-dir", ".", "directory to load project config from")
	flag.Parse()

	logger, cleanup, err := logging.Setup(logging.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "matrixd: failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	cfg, err := config.Load(*configDir)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	cache, err := projection.NewMatrixCache(cfg.Projection.CacheSize, cfg.Projection.CacheTTL)
	if err != nil {
		logger.Error("failed to build matrix cache", "error", err)
		os.Exit(1)
	}

	registry, err := projection.NewRegistry()
	if err != nil {
		logger.Error("failed to open port registry", "error", err)
		os.Exit(1)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	srv := projection.NewServer(cache, registry, m, logger, cfg.Projection.IdleShutdownAfter, cfg.Projection.EvictionScanInterval)

	logger.Info("matrixd starting", "port", *port)
	if err := srv.Run(context.Background(), *port); err != nil {
		logger.Error("matrixd exited with error", "error", err)
		os.Exit(1)
	}
}
