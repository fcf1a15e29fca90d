package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 5, cfg.Scan.RegionConcurrency)
	assert.Equal(t, 10, cfg.Scan.ServiceConcurrency)
	assert.Equal(t, 20, cfg.Scan.CheckConcurrency)
	assert.Equal(t, 30*time.Second, cfg.Scan.OperationTimeout)
	assert.Equal(t, 3, cfg.Scan.RetryAttempts)
	assert.Equal(t, time.Second, cfg.Scan.RetryBaseDelay)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "duckdb", cfg.Store.Driver)
	require.NoError(t, validate(cfg))
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cloudvigil.yaml")
	body := `
regions:
  - us-east-1
scan:
  check_concurrency: 8
  operation_timeout: 10s
store:
  driver: postgres
  dsn: postgres://localhost/cloudvigil
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"us-east-1"}, cfg.Regions)
	assert.Equal(t, 8, cfg.Scan.CheckConcurrency)
	assert.Equal(t, 10*time.Second, cfg.Scan.OperationTimeout)
	// Unnamed fields keep their defaults.
	assert.Equal(t, 5, cfg.Scan.RegionConcurrency)
	assert.Equal(t, "postgres", cfg.Store.Driver)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CLOUDVIGIL_REGIONS", "eu-west-1, eu-central-1")
	t.Setenv("CLOUDVIGIL_CHECK_CONCURRENCY", "4")
	t.Setenv("CLOUDVIGIL_CACHE_TTL", "90s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"eu-west-1", "eu-central-1"}, cfg.Regions)
	assert.Equal(t, 4, cfg.Scan.CheckConcurrency)
	assert.Equal(t, 90*time.Second, cfg.Cache.TTL)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = "mongodb"
	assert.Error(t, validate(cfg))

	cfg = Default()
	cfg.Regions = nil
	assert.Error(t, validate(cfg))

	cfg = Default()
	cfg.Scan.CheckConcurrency = 0
	assert.Error(t, validate(cfg))
}
