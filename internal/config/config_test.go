package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spatweave/spatweave/internal/dataset"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Lambda = 0.2
	return cfg
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "augment.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultRequiresLambda(t *testing.T) {
	err := Default().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lambda is required")
}

func TestLoadKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "lambda: 0.3\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.3, cfg.Lambda)
	assert.Equal(t, 18, cfg.K)
	assert.Equal(t, "auto", cfg.Backend)
	assert.Equal(t, "all", cfg.Features.Mode)
	assert.Equal(t, 2, cfg.Gradient.Harmonic)
	assert.Equal(t, "id", cfg.Input.IDColumn)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL())
}

func TestLoadFull(t *testing.T) {
	path := writeConfig(t, `
lambda: 0.8
k: 6
backend: flat
workers: 4
features:
  mode: list
  list: [geneA, geneB]
group:
  column: sample
  split_scale: true
gradient:
  enabled: true
  harmonic: 1
stagger:
  enabled: true
  gap: 120.5
qc:
  enabled: true
  low_percentile: 5
  high_percentile: 95
normalize:
  enabled: true
  scale: 10000
input:
  path: spots.csv
  id_column: cell
  x_column: px
  y_column: py
  meta_columns: [batch]
output:
  path: augmented.csv
cache:
  enabled: true
  addr: redis:6379
  ttl_seconds: 600
database:
  enabled: true
  dsn: postgres://localhost/spatweave
  timeout_seconds: 3
server:
  port: 9090
fetch:
  requests_per_second: 0.5
  burst: 1
  timeout_seconds: 60
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.8, cfg.Lambda)
	assert.Equal(t, 6, cfg.K)
	assert.Equal(t, []string{"geneA", "geneB"}, cfg.Features.List)
	assert.True(t, cfg.Group.SplitScale)
	assert.Equal(t, 1, cfg.Gradient.Harmonic)
	assert.Equal(t, 120.5, cfg.Stagger.Gap)
	assert.Equal(t, "cell", cfg.Input.IDColumn)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL())
	assert.Equal(t, 3*time.Second, cfg.Database.Timeout())
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, time.Minute, cfg.Fetch.Timeout())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadBadYAML(t *testing.T) {
	path := writeConfig(t, "lambda: [not a number\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"lambda below range", func(c *Config) { c.Lambda = -0.2 }, "outside [0, 1]"},
		{"lambda above range", func(c *Config) { c.Lambda = 1.01 }, "outside [0, 1]"},
		{"k zero", func(c *Config) { c.K = 0 }, "k must be at least 1"},
		{"negative workers", func(c *Config) { c.Workers = -1 }, "workers must not be negative"},
		{"unknown backend", func(c *Config) { c.Backend = "quadtree" }, "unknown neighbor backend"},
		{"unknown features mode", func(c *Config) { c.Features.Mode = "best" }, "unknown features.mode"},
		{"list mode without list", func(c *Config) { c.Features.Mode = "list" }, "features.list is empty"},
		{"variable mode bad top_n", func(c *Config) { c.Features.Mode = "variable"; c.Features.TopN = 0 }, "features.top_n"},
		{"split scale without column", func(c *Config) { c.Group.SplitScale = true }, "requires group.column"},
		{"gradient bad harmonic", func(c *Config) { c.Gradient.Enabled = true; c.Gradient.Harmonic = 0 }, "gradient.harmonic"},
		{"negative stagger gap", func(c *Config) { c.Stagger.Gap = -1 }, "stagger.gap"},
		{"qc band inverted", func(c *Config) { c.QC.Enabled = true; c.QC.LowPercentile = 90; c.QC.HighPercentile = 10 }, "qc percentile band"},
		{"normalize bad scale", func(c *Config) { c.Normalize.Enabled = true; c.Normalize.Scale = 0 }, "normalize.scale"},
		{"cache without addr", func(c *Config) { c.Cache.Enabled = true; c.Cache.Addr = "" }, "requires cache.addr"},
		{"database without dsn", func(c *Config) { c.Database.Enabled = true }, "requires database.dsn"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"bad fetch rate", func(c *Config) { c.Fetch.RequestsPerSecond = 0 }, "fetch.requests_per_second"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}

	assert.NoError(t, validConfig().Validate())
}

func TestValidateBoundaryLambdas(t *testing.T) {
	for _, lambda := range []float64{0, 1} {
		cfg := validConfig()
		cfg.Lambda = lambda
		assert.NoError(t, cfg.Validate(), "lambda %v", lambda)
	}
}

func TestValidateRunIgnoresInfrastructure(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.Fetch.RequestsPerSecond = 0

	assert.NoError(t, cfg.ValidateRun())
	assert.Error(t, cfg.Validate())
}

func TestSelection(t *testing.T) {
	cfg := validConfig()
	cfg.Features.Mode = "list"
	cfg.Features.List = []string{"a"}

	sel := cfg.Selection()
	assert.Equal(t, dataset.SelectList, sel.Mode)
	assert.Equal(t, []string{"a"}, sel.List)
}

func TestLoadOptionsAddsGroupColumn(t *testing.T) {
	cfg := validConfig()
	cfg.Input.MetaColumns = []string{"batch"}
	cfg.Group.Column = "sample"

	opts := cfg.LoadOptions()
	assert.Equal(t, []string{"batch", "sample"}, opts.MetaColumns)
	assert.Equal(t, []string{"batch"}, cfg.Input.MetaColumns, "must not mutate the config")

	cfg.Group.Column = "batch"
	assert.Equal(t, []string{"batch"}, cfg.LoadOptions().MetaColumns, "no duplicate when already listed")
}
