// Command lst-pipeline runs one land-surface-temperature acquisition cycle:
// it submits an area-extraction task for the configured regions of interest,
// downloads the resulting bundle, fuses each scene into raw and filtered
// products, and publishes the artifacts to the object store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lakewatch/lst-pipeline/internal/config"
	"github.com/lakewatch/lst-pipeline/internal/logging"
	"github.com/lakewatch/lst-pipeline/internal/metrics"
	"github.com/lakewatch/lst-pipeline/internal/pipeline"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to YAML config file")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("lst-pipeline %s (%s)\n", pipeline.Version, pipeline.GitSHA)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging)

	if cfg.Metrics.Enabled {
		metrics.Init("lst_pipeline")
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				slog.Error("metrics server failed", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := pipeline.New(cfg).Run(ctx); err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}
}
