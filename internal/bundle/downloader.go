// Package bundle downloads a completed task's output bundle and routes each
// file into the per-region raw directory tree.
package bundle

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lakewatch/lst-pipeline/internal/appeears"
	"github.com/lakewatch/lst-pipeline/internal/ledger"
	"github.com/lakewatch/lst-pipeline/internal/logging"
	"github.com/lakewatch/lst-pipeline/internal/metrics"
	"github.com/lakewatch/lst-pipeline/internal/product"
	"github.com/lakewatch/lst-pipeline/internal/region"
	"github.com/lakewatch/lst-pipeline/internal/scene"
)

// Client is the slice of the service API the downloader needs.
type Client interface {
	ListBundle(ctx context.Context, taskID string) ([]appeears.BundleFile, error)
	OpenBundleFile(ctx context.Context, taskID, fileID string) (io.ReadCloser, error)
}

// Downloader fetches a task bundle to local storage. Per-file failures are
// absorbed: a bad file costs that file, not the run.
type Downloader struct {
	client   Client
	registry *region.Registry
	router   *product.Router
	rawRoot  string
	run      *ledger.Run
	log      *slog.Logger
}

// New builds a downloader writing under rawRoot.
func New(client Client, registry *region.Registry, router *product.Router, rawRoot string, run *ledger.Run) *Downloader {
	return &Downloader{
		client:   client,
		registry: registry,
		router:   router,
		rawRoot:  rawRoot,
		run:      run,
		log:      logging.Component("bundle"),
	}
}

// Download fetches every bundle file and returns the paths of the
// region-routed rasters saved in this call, in bundle order.
func (d *Downloader) Download(ctx context.Context, taskID string) ([]string, error) {
	log := d.runLog(ctx)

	files, err := d.client.ListBundle(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("list bundle for task %s: %w", taskID, err)
	}
	log.Info("bundle listed", "task_id", taskID, "files", len(files))

	m := metrics.Get()
	var saved []string
	for _, bf := range files {
		path, regionID, err := d.downloadOne(ctx, log, taskID, bf)
		if err != nil {
			log.Warn("file download failed", "file", bf.FileName, "error", err)
			d.run.Log("download failed: %s: %v", bf.FileName, err)
			if m != nil {
				m.DownloadErrors.WithLabelValues(d.familyKey(bf.FileName)).Inc()
			}
			continue
		}
		if path == "" {
			continue
		}
		if regionID != 0 {
			saved = append(saved, path)
			d.run.AddNewFile(regionID, path)
		}
		d.run.Log("downloaded: %s", path)
		if m != nil {
			m.FilesDownloaded.WithLabelValues(d.familyKey(bf.FileName)).Inc()
		}
	}
	return saved, nil
}

// downloadOne saves a single bundle file. Region-routed files land in the
// region's raw directory; files without a region token are ancillary run
// records and land in the raw root with the run timestamp injected into the
// name. Files with a region token that resolves to no known region are
// skipped.
func (d *Downloader) downloadOne(ctx context.Context, log *slog.Logger, taskID string, bf appeears.BundleFile) (string, int, error) {
	base := filepath.Base(bf.FileName)
	meta := scene.ExtractMeta(base)

	var dest string
	switch {
	case meta.RegionID == 0:
		dest = filepath.Join(d.rawRoot, stampName(base, d.run.Timestamp))
	default:
		reg, ok := d.registry.Lookup(meta.RegionID)
		if !ok {
			log.Warn("no region mapping for file", "file", base, "region_id", meta.RegionID)
			d.run.Log("skipped (unknown region %d): %s", meta.RegionID, base)
			if m := metrics.Get(); m != nil {
				m.FilesSkipped.WithLabelValues(d.familyKey(base)).Inc()
			}
			return "", 0, nil
		}
		dest = filepath.Join(reg.RawDir(d.rawRoot), base)
	}

	body, err := d.client.OpenBundleFile(ctx, taskID, bf.FileID)
	if err != nil {
		return "", 0, err
	}
	defer body.Close()

	reader, name, cleanup, err := decompressed(filepath.Base(dest), body)
	if err != nil {
		return "", 0, err
	}
	defer cleanup()
	dest = filepath.Join(filepath.Dir(dest), name)

	if err := saveAtomic(dest, reader); err != nil {
		return "", 0, err
	}
	return dest, meta.RegionID, nil
}

// saveAtomic streams to a temp file in the target directory and renames it
// into place, so readers never observe a partial file.
func saveAtomic(dest string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", dest, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", dest, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("finalize %s: %w", dest, err)
	}
	return nil
}

// stampName injects the run timestamp before the extension, so successive
// runs never overwrite each other's ancillary records.
func stampName(base, timestamp string) string {
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "_" + timestamp + ext
}

// runLog attaches the run correlation id carried on the context.
func (d *Downloader) runLog(ctx context.Context) *slog.Logger {
	if id := logging.RunID(ctx); id != "" {
		return d.log.With("run_id", id)
	}
	return d.log
}

func (d *Downloader) familyKey(filename string) string {
	fam, err := d.router.Route(filename)
	if err != nil {
		return "unknown"
	}
	return fam.Key
}
