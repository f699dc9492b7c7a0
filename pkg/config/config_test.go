package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/nodewatch/pkg/config"
)

func TestDefault_PassesValidate(t *testing.T) {
	require.NoError(t, config.Default().Validate())
}

func TestValidate_RejectsFailerIntervalAboveCap(t *testing.T) {
	cfg := config.Default()
	cfg.DownTimeLimit = 10 * time.Minute
	cfg.FailerInterval = 6 * time.Minute // exceeds both downTimeLimit/2 (5m) and the 5m ceiling

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failerInterval")
}

func TestValidate_DownTimeLimitTightensCapBelowFiveMinutes(t *testing.T) {
	cfg := config.Default()
	cfg.DownTimeLimit = 4 * time.Minute // downTimeLimit/2 = 2m, tighter than the 5m ceiling
	cfg.FailerInterval = 3 * time.Minute

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2m0s")
}

func TestValidate_RejectsNonPositiveFields(t *testing.T) {
	base := config.Default()

	zeroRequest := base
	zeroRequest.NodeRequestInterval = 0
	assert.Error(t, zeroRequest.Validate())

	zeroFailTimeout := base
	zeroFailTimeout.FailTimeout = 0
	assert.Error(t, zeroFailTimeout.Validate())

	zeroExpirerInterval := base
	zeroExpirerInterval.ExpirerInterval = 0
	assert.Error(t, zeroExpirerInterval.Validate())
}

func TestLoad_FillsZeroFieldsFromDefaultsAndOverridesSet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodewatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bindAddr: \"0.0.0.0:9090\"\n"), 0600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.BindAddr)
	assert.Equal(t, config.Default().FailerInterval, cfg.FailerInterval)
	assert.Equal(t, config.Default().DataDir, cfg.DataDir)
}

func TestLoad_InvalidConfigFailsValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodewatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("failTimeout: 0s\n"), 0600))

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failTimeout")
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}
