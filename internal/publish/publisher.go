// Package publish uploads fusion artifacts to the configured object store
// and runs the age-based retention sweep over both remote and local copies.
package publish

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/lakewatch/lst-pipeline/internal/config"
	"github.com/lakewatch/lst-pipeline/internal/ledger"
	"github.com/lakewatch/lst-pipeline/internal/logging"
	"github.com/lakewatch/lst-pipeline/internal/metrics"
	"github.com/lakewatch/lst-pipeline/internal/region"
	"github.com/lakewatch/lst-pipeline/internal/scene"
)

// Publisher writes artifacts into one bucket under a product prefix.
type Publisher struct {
	bucket *blob.Bucket
	prefix string
	run    *ledger.Run
	log    *slog.Logger
}

// New opens the bucket the storage configuration names.
func New(ctx context.Context, cfg config.StorageConfig, run *ledger.Run) (*Publisher, error) {
	blobURL, err := bucketURL(cfg)
	if err != nil {
		return nil, err
	}

	bucket, err := blob.OpenBucket(ctx, blobURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", blobURL, err)
	}
	return NewWithBucket(bucket, cfg.Prefix, run), nil
}

// NewWithBucket wraps an already-open bucket. Tests use this with an
// in-memory bucket.
func NewWithBucket(bucket *blob.Bucket, prefix string, run *ledger.Run) *Publisher {
	return &Publisher{
		bucket: bucket,
		prefix: prefix,
		run:    run,
		log:    logging.Component("publish"),
	}
}

func bucketURL(cfg config.StorageConfig) (string, error) {
	switch cfg.Backend {
	case "local":
		abs, err := filepath.Abs(cfg.LocalDir)
		if err != nil {
			return "", fmt.Errorf("resolve local storage dir: %w", err)
		}
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return "", fmt.Errorf("create local storage dir: %w", err)
		}
		return "file://" + filepath.ToSlash(abs) + "?create_dir=1", nil
	case "gcs":
		return "gs://" + cfg.Bucket, nil
	case "s3":
		q := url.Values{}
		if cfg.S3Region != "" {
			q.Set("region", cfg.S3Region)
		}
		if cfg.S3Endpoint != "" {
			q.Set("endpoint", cfg.S3Endpoint)
			q.Set("s3ForcePathStyle", "true")
		}
		u := "s3://" + cfg.Bucket
		if len(q) > 0 {
			u += "?" + q.Encode()
		}
		return u, nil
	default:
		return "", fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// key places an artifact at <prefix>/<region>/<sublocation>/<basename>.
func (p *Publisher) key(reg region.Region, localPath string) string {
	return path.Join(p.prefix, reg.Name, reg.Sublocation, filepath.Base(localPath))
}

// Publish uploads one artifact unless an object with its key already
// exists. Existence is decided by a key-prefix listing, so a retried run
// never re-uploads what a previous run already published.
func (p *Publisher) Publish(ctx context.Context, localPath, kind string, reg region.Region) error {
	key := p.key(reg, localPath)
	m := metrics.Get()
	log := p.runLog(ctx)

	exists, err := p.exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check %s: %w", key, err)
	}
	if exists {
		log.Debug("object exists, skipping upload", "key", key)
		p.run.Log("upload skipped (exists): %s", key)
		if m != nil {
			m.UploadsSkipped.WithLabelValues(kind).Inc()
		}
		return nil
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	w, err := p.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("open writer for %s: %w", key, err)
	}
	n, err := io.Copy(w, f)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}

	log.Info("artifact uploaded", "key", key, "bytes", n)
	p.run.Log("uploaded: %s", key)
	if m != nil {
		m.ArtifactsUploaded.WithLabelValues(kind).Inc()
		m.ArtifactUploadBytes.WithLabelValues(kind).Observe(float64(n))
	}
	return nil
}

func (p *Publisher) exists(ctx context.Context, key string) (bool, error) {
	iter := p.bucket.List(&blob.ListOptions{Prefix: key})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if obj.Key == key {
			return true, nil
		}
	}
}

// Cleanup deletes remote objects whose date token is older than the
// retention window, measured in day-of-year against the current day.
func (p *Publisher) Cleanup(ctx context.Context, currentDOY, maxAgeDays int) error {
	m := metrics.Get()
	iter := p.bucket.List(&blob.ListOptions{Prefix: p.prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("list %s: %w", p.prefix, err)
		}

		if !expired(path.Base(obj.Key), currentDOY, maxAgeDays) {
			continue
		}
		if err := p.bucket.Delete(ctx, obj.Key); err != nil {
			p.log.Warn("retention delete failed", "key", obj.Key, "error", err)
			continue
		}
		p.run.AddDeletedFile(obj.Key)
		p.run.Log("deleted (retention): %s", obj.Key)
		if m != nil {
			m.ObjectsDeleted.WithLabelValues("remote").Inc()
		}
	}
}

// CleanupLocal applies the same retention window to the local roots.
func (p *Publisher) CleanupLocal(roots []string, currentDOY, maxAgeDays int) error {
	m := metrics.Get()
	for _, root := range roots {
		err := filepath.WalkDir(root, func(fpath string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			if !expired(d.Name(), currentDOY, maxAgeDays) {
				return nil
			}
			if err := os.Remove(fpath); err != nil {
				p.log.Warn("retention delete failed", "path", fpath, "error", err)
				return nil
			}
			p.run.AddDeletedFile(fpath)
			p.run.Log("deleted (retention): %s", fpath)
			if m != nil {
				m.ObjectsDeleted.WithLabelValues("local").Inc()
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("sweep %s: %w", root, err)
		}
	}
	return nil
}

// expired reports whether a filename's date token falls outside the
// retention window. Files without a date token never expire.
func expired(name string, currentDOY, maxAgeDays int) bool {
	meta := scene.ExtractMeta(name)
	if meta.Date == "" {
		return false
	}
	doy, ok := scene.DayOfYear(meta.Date)
	if !ok {
		return false
	}
	return doy < currentDOY-maxAgeDays
}

// runLog attaches the run correlation id carried on the context.
func (p *Publisher) runLog(ctx context.Context) *slog.Logger {
	if id := logging.RunID(ctx); id != "" {
		return p.log.With("run_id", id)
	}
	return p.log
}

// Close releases the bucket.
func (p *Publisher) Close() error {
	return p.bucket.Close()
}
