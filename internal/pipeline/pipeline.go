// Package pipeline orchestrates one acquisition run: authenticate, submit
// the extraction task, wait for completion, download the bundle, fuse the
// scenes, publish the artifacts, and sweep expired files.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lakewatch/lst-pipeline/internal/appeears"
	"github.com/lakewatch/lst-pipeline/internal/bundle"
	"github.com/lakewatch/lst-pipeline/internal/config"
	"github.com/lakewatch/lst-pipeline/internal/fusion"
	"github.com/lakewatch/lst-pipeline/internal/ledger"
	"github.com/lakewatch/lst-pipeline/internal/logging"
	"github.com/lakewatch/lst-pipeline/internal/metrics"
	"github.com/lakewatch/lst-pipeline/internal/product"
	"github.com/lakewatch/lst-pipeline/internal/publish"
	"github.com/lakewatch/lst-pipeline/internal/raster"
	"github.com/lakewatch/lst-pipeline/internal/region"
)

// Build metadata, set via -ldflags at release time.
var (
	Version = "dev"
	GitSHA  = "unknown"
)

// Pipeline is one configured run.
type Pipeline struct {
	cfg config.Config
	log *slog.Logger
}

// New builds a pipeline from configuration.
func New(cfg config.Config) *Pipeline {
	return &Pipeline{cfg: cfg, log: logging.Component("pipeline")}
}

// Run executes the full acquisition flow. Failures before any data moves
// (authentication, registry building, task submission, task completion)
// abort the run; later per-file and per-scene failures are absorbed by the
// stage that hits them.
func (p *Pipeline) Run(ctx context.Context) error {
	runID := logging.GenerateRunID()
	ctx = logging.WithRunID(ctx, runID)
	log := p.log.With("run_id", runID)
	log.Info("run starting", "version", Version, "git_sha", GitSHA,
		"product", p.cfg.Task.Product,
		"start_date", p.cfg.Task.StartDate, "end_date", p.cfg.Task.EndDate)

	now := time.Now()
	run, err := ledger.NewRun(p.cfg.Paths.LogDir, now)
	if err != nil {
		return err
	}
	defer run.Close()
	run.Log("run %s started: product=%s dates=%s..%s",
		run.Timestamp, p.cfg.Task.Product, p.cfg.Task.StartDate, p.cfg.Task.EndDate)

	router, err := product.NewRouter(product.Defaults())
	if err != nil {
		return fmt.Errorf("configure product families: %w", err)
	}
	fam, err := router.ByKey(p.cfg.Task.Product)
	if err != nil {
		return fmt.Errorf("unknown product %q: %w", p.cfg.Task.Product, err)
	}

	coll, err := region.LoadCollection(p.cfg.Paths.ROIGeoJSON)
	if err != nil {
		return err
	}
	registry, err := region.Build(coll.Rows, p.cfg.Paths.RawRoot, p.cfg.Paths.FilteredRoot)
	if err != nil {
		return fmt.Errorf("build region registry: %w", err)
	}
	names := make(map[int]string, registry.Len())
	for id, reg := range registry.Map() {
		names[id] = reg.Name + "/" + reg.Sublocation
	}
	run.SetRegionMap(names)
	log.Info("regions registered", "count", registry.Len())

	client := appeears.New(p.cfg.Task.BaseURL)
	if err := client.Login(ctx, p.cfg.Task.User, p.cfg.Task.Password); err != nil {
		return err
	}

	taskID, err := p.submit(ctx, client, fam, coll, now)
	if err != nil {
		return err
	}
	run.SetTask(taskID, p.cfg.Task.StartDate, p.cfg.Task.EndDate)
	run.Log("task submitted: %s", taskID)

	waitStart := time.Now()
	if err := client.WaitForTask(ctx, taskID, p.pollPolicy()); err != nil {
		return err
	}
	if m := metrics.Get(); m != nil {
		m.TaskWaitDuration.Observe(time.Since(waitStart).Seconds())
	}
	log.Info("task complete", "task_id", taskID, "waited", time.Since(waitStart))

	downloader := bundle.New(client, registry, router, p.cfg.Paths.RawRoot, run)
	newFiles, err := downloader.Download(ctx, taskID)
	if err != nil {
		return err
	}
	log.Info("bundle downloaded", "new_files", len(newFiles))

	gdal := raster.NewGDAL()
	engine := fusion.New(router, gdal, gdal, registry,
		p.cfg.Paths.RawRoot, p.cfg.Paths.FilteredRoot, run, p.cfg.Output.Parquet)
	artifacts := engine.ProcessAll(newFiles)
	log.Info("fusion complete", "artifacts", len(artifacts))

	publisher, err := publish.New(ctx, p.cfg.Storage, run)
	if err != nil {
		return err
	}
	defer publisher.Close()

	for _, a := range artifacts {
		if !a.Publishable() {
			continue
		}
		if err := publisher.Publish(ctx, a.LocalPath, a.Kind, a.Region); err != nil {
			log.Warn("artifact upload failed", "path", a.LocalPath, "error", err)
			run.Log("upload failed: %s: %v", a.LocalPath, err)
			if m := metrics.Get(); m != nil {
				m.UploadErrors.WithLabelValues(a.Kind).Inc()
			}
		}
	}

	if p.cfg.Retention.Enabled {
		currentDOY := now.YearDay()
		if err := publisher.Cleanup(ctx, currentDOY, p.cfg.Retention.MaxAgeDays); err != nil {
			log.Warn("remote retention sweep failed", "error", err)
		}
		roots := []string{p.cfg.Paths.RawRoot, p.cfg.Paths.FilteredRoot}
		if err := publisher.CleanupLocal(roots, currentDOY, p.cfg.Retention.MaxAgeDays); err != nil {
			log.Warn("local retention sweep failed", "error", err)
		}
	}

	manifestPath, err := run.WriteManifest(p.cfg.Paths.LogDir)
	if err != nil {
		return err
	}
	run.Log("run %s finished", run.Timestamp)
	log.Info("run finished", "manifest", manifestPath)
	return nil
}

// submit builds and submits the area-extraction task for the configured
// product family over the full ROI collection.
func (p *Pipeline) submit(ctx context.Context, client *appeears.Client, fam product.Family, coll *region.Collection, now time.Time) (string, error) {
	layers := make([]appeears.TaskLayer, 0, len(fam.Layers))
	for _, name := range fam.LayerNames() {
		layers = append(layers, appeears.TaskLayer{Product: fam.Product, Layer: name})
	}

	taskName := fmt.Sprintf("%s_%s", fam.Key, now.Format(ledger.TimestampLayout))
	req := appeears.NewAreaRequest(taskName, p.cfg.Task.StartDate, p.cfg.Task.EndDate, layers, coll.Raw)
	return client.SubmitTask(ctx, req)
}

func (p *Pipeline) pollPolicy() backoff.BackOff {
	maxWait := time.Duration(p.cfg.Task.MaxWait)
	if maxWait <= 0 {
		// Effectively unbounded; the context still cancels the wait.
		maxWait = 365 * 24 * time.Hour
	}
	return appeears.PollPolicy(time.Duration(p.cfg.Task.PollInterval), maxWait)
}
