// Package config defines the YAML configuration surface of the augmentation
// pipeline and its service mode. Load reads a file over the defaults, so a
// config file only needs the keys it wants to change.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spatweave/spatweave/internal/dataset"
	"github.com/spatweave/spatweave/internal/domain/neighbors"
)

// UnsetLambda marks a configuration with no lambda. Lambda has no sensible
// default and must be set explicitly.
const UnsetLambda = -1.0

// Config is the root configuration.
type Config struct {
	Lambda  float64 `yaml:"lambda"`
	K       int     `yaml:"k"`
	Backend string  `yaml:"backend"`
	Workers int     `yaml:"workers"`

	Features  FeaturesConfig  `yaml:"features"`
	Group     GroupConfig     `yaml:"group"`
	Gradient  GradientConfig  `yaml:"gradient"`
	Stagger   StaggerConfig   `yaml:"stagger"`
	QC        QCConfig        `yaml:"qc"`
	Normalize NormalizeConfig `yaml:"normalize"`

	Input  InputConfig  `yaml:"input"`
	Output OutputConfig `yaml:"output"`

	Cache    CacheConfig    `yaml:"cache"`
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Fetch    FetchConfig    `yaml:"fetch"`
}

// FeaturesConfig selects which features feed the augmentation.
type FeaturesConfig struct {
	Mode string   `yaml:"mode"`
	List []string `yaml:"list"`
	TopN int      `yaml:"top_n"`
}

// GroupConfig names the metadata column that isolates neighbor searches and
// controls whether scaling is computed per group.
type GroupConfig struct {
	Column     string `yaml:"column"`
	SplitScale bool   `yaml:"split_scale"`
}

// GradientConfig toggles the azimuthal gradient block.
type GradientConfig struct {
	Enabled  bool `yaml:"enabled"`
	Harmonic int  `yaml:"harmonic"`
}

// StaggerConfig toggles the side-by-side coordinate layout written alongside
// the output. A zero gap picks one from the group extents.
type StaggerConfig struct {
	Enabled bool    `yaml:"enabled"`
	Gap     float64 `yaml:"gap"`
}

// QCConfig filters observations by total counts before normalization.
type QCConfig struct {
	Enabled        bool    `yaml:"enabled"`
	LowPercentile  float64 `yaml:"low_percentile"`
	HighPercentile float64 `yaml:"high_percentile"`
}

// NormalizeConfig controls the log normalization layer.
type NormalizeConfig struct {
	Enabled bool    `yaml:"enabled"`
	Scale   float64 `yaml:"scale"`
}

// InputConfig names the input table and its column roles.
type InputConfig struct {
	Path        string   `yaml:"path"`
	IDColumn    string   `yaml:"id_column"`
	XColumn     string   `yaml:"x_column"`
	YColumn     string   `yaml:"y_column"`
	Layer       string   `yaml:"layer"`
	MetaColumns []string `yaml:"meta_columns"`
}

// OutputConfig names where the augmented matrix is written.
type OutputConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig configures the Redis graph cache.
type CacheConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// TTL returns the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// DatabaseConfig configures the Postgres run registry.
type DatabaseConfig struct {
	Enabled        bool   `yaml:"enabled"`
	DSN            string `yaml:"dsn"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the per-statement deadline.
func (c DatabaseConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ServerConfig configures the HTTP service mode.
type ServerConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	ReadTimeoutSeconds     int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int    `yaml:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
}

func (c ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// FetchConfig configures the dataset downloader.
type FetchConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	MaxFailures       int     `yaml:"max_failures"`
}

// Timeout returns the per-download deadline.
func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Default returns the configuration used when no file is given. Lambda is
// left unset and must come from the file or a flag.
func Default() *Config {
	return &Config{
		Lambda:  UnsetLambda,
		K:       18,
		Backend: string(neighbors.BackendAuto),
		Workers: 0,
		Features: FeaturesConfig{
			Mode: string(dataset.SelectAll),
			TopN: dataset.DefaultVariableCount,
		},
		Gradient: GradientConfig{
			Enabled:  false,
			Harmonic: 2,
		},
		QC: QCConfig{
			Enabled:        false,
			LowPercentile:  1,
			HighPercentile: 99,
		},
		Normalize: NormalizeConfig{
			Enabled: false,
			Scale:   dataset.DefaultNormalizeScale,
		},
		Input: InputConfig{
			IDColumn: "id",
			XColumn:  "x",
			YColumn:  "y",
			Layer:    dataset.LayerCounts,
		},
		Cache: CacheConfig{
			Addr:       "localhost:6379",
			TTLSeconds: 86400,
		},
		Database: DatabaseConfig{
			TimeoutSeconds: 10,
		},
		Server: ServerConfig{
			Host:                   "0.0.0.0",
			Port:                   8080,
			ReadTimeoutSeconds:     30,
			WriteTimeoutSeconds:    120,
			ShutdownTimeoutSeconds: 10,
		},
		Fetch: FetchConfig{
			RequestsPerSecond: 2,
			Burst:             4,
			TimeoutSeconds:    300,
			MaxFailures:       5,
		},
	}
}

// Read parses a YAML config file over the defaults without validating, so
// callers can layer flag overrides on top before Validate.
func Read(path string) (*Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Load reads a YAML config file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// ValidateRun checks the augmentation parameters alone. Service mode applies
// it to per-request overrides, which can never touch the infrastructure
// sections.
func (c *Config) ValidateRun() error {
	if c.Lambda == UnsetLambda {
		return fmt.Errorf("lambda is required, set it in the config file or with --lambda")
	}
	if c.Lambda < 0 || c.Lambda > 1 {
		return fmt.Errorf("lambda %v outside [0, 1]", c.Lambda)
	}
	if c.K < 1 {
		return fmt.Errorf("k must be at least 1, got %d", c.K)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}

	switch neighbors.Backend(c.Backend) {
	case neighbors.BackendAuto, neighbors.BackendFlat, neighbors.BackendKDTree:
	default:
		return fmt.Errorf("unknown neighbor backend %q", c.Backend)
	}

	switch dataset.SelectionMode(c.Features.Mode) {
	case dataset.SelectAll:
	case dataset.SelectVariable:
		if c.Features.TopN < 1 {
			return fmt.Errorf("features.top_n must be at least 1, got %d", c.Features.TopN)
		}
	case dataset.SelectList:
		if len(c.Features.List) == 0 {
			return fmt.Errorf("features.mode is %q but features.list is empty", c.Features.Mode)
		}
	default:
		return fmt.Errorf("unknown features.mode %q", c.Features.Mode)
	}

	if c.Group.SplitScale && c.Group.Column == "" {
		return fmt.Errorf("group.split_scale requires group.column")
	}
	if c.Gradient.Enabled && c.Gradient.Harmonic < 1 {
		return fmt.Errorf("gradient.harmonic must be at least 1, got %d", c.Gradient.Harmonic)
	}
	if c.Stagger.Gap < 0 {
		return fmt.Errorf("stagger.gap must not be negative, got %v", c.Stagger.Gap)
	}
	if c.QC.Enabled {
		if c.QC.LowPercentile < 0 || c.QC.HighPercentile > 100 || c.QC.LowPercentile >= c.QC.HighPercentile {
			return fmt.Errorf("qc percentile band [%v, %v] invalid", c.QC.LowPercentile, c.QC.HighPercentile)
		}
	}
	if c.Normalize.Enabled && c.Normalize.Scale <= 0 {
		return fmt.Errorf("normalize.scale must be positive, got %v", c.Normalize.Scale)
	}
	return nil
}

// Validate checks the full configuration: the augmentation parameters plus
// the cache, database, server and fetch sections. Input and output paths are
// checked by the commands that need them, not here.
func (c *Config) Validate() error {
	if err := c.ValidateRun(); err != nil {
		return err
	}

	if c.Cache.Enabled && c.Cache.Addr == "" {
		return fmt.Errorf("cache.enabled requires cache.addr")
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("database.enabled requires database.dsn")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d outside 1..65535", c.Server.Port)
	}
	if c.Fetch.RequestsPerSecond <= 0 {
		return fmt.Errorf("fetch.requests_per_second must be positive, got %v", c.Fetch.RequestsPerSecond)
	}
	return nil
}

// Selection translates the feature block into a dataset selection.
func (c *Config) Selection() dataset.Selection {
	return dataset.Selection{
		Mode: dataset.SelectionMode(c.Features.Mode),
		List: c.Features.List,
		TopN: c.Features.TopN,
	}
}

// LoadOptions translates the input block into loader options.
func (c *Config) LoadOptions() dataset.LoadOptions {
	metas := c.Input.MetaColumns
	if c.Group.Column != "" {
		found := false
		for _, m := range metas {
			if m == c.Group.Column {
				found = true
				break
			}
		}
		if !found {
			metas = append(append([]string(nil), metas...), c.Group.Column)
		}
	}
	return dataset.LoadOptions{
		IDColumn:    c.Input.IDColumn,
		XColumn:     c.Input.XColumn,
		YColumn:     c.Input.YColumn,
		MetaColumns: metas,
	}
}
