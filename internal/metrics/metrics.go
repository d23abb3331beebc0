// Package metrics provides Prometheus metrics for the LST pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the LST pipeline.
type Metrics struct {
	// Download metrics
	FilesDownloaded *prometheus.CounterVec
	FilesSkipped    *prometheus.CounterVec
	DownloadErrors  *prometheus.CounterVec

	// Fusion metrics
	ScenesFused   *prometheus.CounterVec
	ScenesSkipped *prometheus.CounterVec

	// Publish metrics
	ArtifactsUploaded *prometheus.CounterVec
	UploadsSkipped    *prometheus.CounterVec
	UploadErrors      *prometheus.CounterVec
	ObjectsDeleted    *prometheus.CounterVec

	// Timing metrics
	TaskWaitDuration    prometheus.Histogram
	SceneFuseDuration   *prometheus.HistogramVec
	ArtifactUploadBytes *prometheus.HistogramVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // Address for metrics HTTP server (e.g., ":9090")
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "lst_pipeline"
	}

	m := &Metrics{
		FilesDownloaded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_downloaded_total",
				Help:      "Total number of bundle files downloaded",
			},
			[]string{"product"},
		),
		FilesSkipped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_skipped_total",
				Help:      "Total number of bundle files skipped (no region mapping)",
			},
			[]string{"product"},
		),
		DownloadErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "download_errors_total",
				Help:      "Total number of per-file download errors",
			},
			[]string{"product"},
		),
		ScenesFused: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scenes_fused_total",
				Help:      "Total number of scenes fused into filtered products",
			},
			[]string{"family"},
		),
		ScenesSkipped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scenes_skipped_total",
				Help:      "Total number of scenes skipped, by reason",
			},
			[]string{"family", "reason"},
		),
		ArtifactsUploaded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifacts_uploaded_total",
				Help:      "Total number of artifacts uploaded to the object store",
			},
			[]string{"kind"},
		),
		UploadsSkipped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "uploads_skipped_total",
				Help:      "Total number of uploads skipped (object already exists)",
			},
			[]string{"kind"},
		),
		UploadErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upload_errors_total",
				Help:      "Total number of per-artifact upload errors",
			},
			[]string{"kind"},
		),
		ObjectsDeleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "objects_deleted_total",
				Help:      "Total number of objects removed by the retention sweep",
			},
			[]string{"location"},
		),
		TaskWaitDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_wait_duration_seconds",
				Help:      "Time spent waiting for the extraction task to complete",
				Buckets:   prometheus.ExponentialBuckets(30, 2, 10), // 30s to ~4h
			},
		),
		SceneFuseDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scene_fuse_duration_seconds",
				Help:      "Time to fuse one scene into raw and filtered products",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~100s
			},
			[]string{"family"},
		),
		ArtifactUploadBytes: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "artifact_upload_bytes",
				Help:      "Size of uploaded artifacts in bytes",
				Buckets:   prometheus.ExponentialBuckets(1024, 2, 15), // 1KB to ~32MB
			},
			[]string{"kind"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// IncScenesSkipped increments the scenes skipped counter for a reason.
func (m *Metrics) IncScenesSkipped(family, reason string) {
	if m == nil {
		return
	}
	m.ScenesSkipped.WithLabelValues(family, reason).Inc()
}

// IncScenesFused increments the scenes fused counter.
func (m *Metrics) IncScenesFused(family string) {
	if m == nil {
		return
	}
	m.ScenesFused.WithLabelValues(family).Inc()
}
