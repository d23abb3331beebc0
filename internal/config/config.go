// Package config loads pipeline configuration from a YAML file with
// environment variable overrides. Credentials come from the environment
// (optionally via a .env file) and are never written to the config file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lakewatch/lst-pipeline/internal/logging"
	"github.com/lakewatch/lst-pipeline/internal/metrics"
)

// Config is the top-level pipeline configuration.
type Config struct {
	Task      TaskConfig      `yaml:"task"`
	Paths     PathsConfig     `yaml:"paths"`
	Storage   StorageConfig   `yaml:"storage"`
	Retention RetentionConfig `yaml:"retention"`
	Output    OutputConfig    `yaml:"output"`
	Logging   logging.Config  `yaml:"logging"`
	Metrics   metrics.Config  `yaml:"metrics"`
}

// Duration parses Go duration strings ("30s", "2h") from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// TaskConfig configures the extraction request and the poll loop.
type TaskConfig struct {
	BaseURL      string   `yaml:"base_url"`
	User         string   `yaml:"-"`
	Password     string   `yaml:"-"`
	Product      string   `yaml:"product"`    // product family key: "ECO" | "MODIS"
	StartDate    string   `yaml:"start_date"` // MM-DD-YYYY; empty = yesterday
	EndDate      string   `yaml:"end_date"`   // MM-DD-YYYY; empty = today
	PollInterval Duration `yaml:"poll_interval"`
	MaxWait      Duration `yaml:"max_wait"` // 0 = wait forever
}

// PathsConfig holds the local storage roots.
type PathsConfig struct {
	ROIGeoJSON   string `yaml:"roi_geojson"`
	RawRoot      string `yaml:"raw_root"`
	FilteredRoot string `yaml:"filtered_root"`
	LogDir       string `yaml:"log_dir"`
}

// StorageConfig configures the remote object store.
type StorageConfig struct {
	Backend    string `yaml:"backend"` // "local" | "gcs" | "s3"
	Bucket     string `yaml:"bucket"`
	Prefix     string `yaml:"prefix"` // remote top-level product folder, e.g. "ECO"
	LocalDir   string `yaml:"local_dir"`
	S3Endpoint string `yaml:"s3_endpoint"`
	S3Region   string `yaml:"s3_region"`
}

// RetentionConfig configures the age-based retention sweep.
type RetentionConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxAgeDays int  `yaml:"max_age_days"`
}

// OutputConfig toggles optional artifact formats.
type OutputConfig struct {
	Parquet bool `yaml:"parquet"` // emit a long-form parquet pixel table next to the filtered CSV
}

// Load reads the YAML config at path (optional) and applies environment
// overrides. A .env file in the working directory is honored if present.
func Load(path string) (Config, error) {
	// Best effort: missing .env is not an error.
	_ = godotenv.Load()

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaults() Config {
	now := time.Now()
	return Config{
		Task: TaskConfig{
			BaseURL:      "https://appeears.earthdatacloud.nasa.gov/api",
			Product:      "ECO",
			StartDate:    now.AddDate(0, 0, -1).Format("01-02-2006"),
			EndDate:      now.Format("01-02-2006"),
			PollInterval: Duration(30 * time.Second),
		},
		Paths: PathsConfig{
			ROIGeoJSON:   "polygon/new_polygons.geojson",
			RawRoot:      "ECOraw",
			FilteredRoot: "ECO",
			LogDir:       "logs",
		},
		Storage: StorageConfig{
			Backend:  "local",
			Prefix:   "ECO",
			LocalDir: "published",
		},
		Retention: RetentionConfig{
			Enabled:    false,
			MaxAgeDays: 90,
		},
		Logging: logging.Config{Format: "text", Level: "info"},
	}
}

func applyEnv(cfg *Config) {
	cfg.Task.User = getenvDefault("APPEEARS_USER", cfg.Task.User)
	cfg.Task.Password = getenvDefault("APPEEARS_PASS", cfg.Task.Password)
	cfg.Task.BaseURL = getenvDefault("APPEEARS_URL", cfg.Task.BaseURL)
	cfg.Task.StartDate = getenvDefault("START_DATE", cfg.Task.StartDate)
	cfg.Task.EndDate = getenvDefault("END_DATE", cfg.Task.EndDate)

	cfg.Storage.Backend = getenvDefault("STORAGE_BACKEND", cfg.Storage.Backend)
	cfg.Storage.Bucket = getenvDefault("STORAGE_BUCKET", cfg.Storage.Bucket)
	cfg.Storage.Prefix = getenvDefault("STORAGE_PREFIX", cfg.Storage.Prefix)
	cfg.Storage.S3Endpoint = getenvDefault("S3_ENDPOINT", cfg.Storage.S3Endpoint)
	cfg.Storage.S3Region = getenvDefault("S3_REGION", cfg.Storage.S3Region)

	if v := os.Getenv("RETENTION_MAX_AGE_DAYS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Retention.MaxAgeDays = parsed
			cfg.Retention.Enabled = true
		}
	}
}

func (c Config) validate() error {
	if c.Task.User == "" || c.Task.Password == "" {
		return fmt.Errorf("earthdata credentials are not set: set APPEEARS_USER and APPEEARS_PASS")
	}
	if c.Task.PollInterval <= 0 {
		return fmt.Errorf("task.poll_interval must be positive")
	}
	if c.Paths.ROIGeoJSON == "" {
		return fmt.Errorf("paths.roi_geojson is required")
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir required for local backend")
		}
	case "gcs", "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket required for %s backend", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown storage backend: %s", c.Storage.Backend)
	}
	return nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}
