package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/qqgrab/config"
	"github.com/xeptore/qqgrab/unit"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	conf, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", conf.Log.Level)
	assert.Equal(t, "pretty", conf.Log.Format)
	assert.Equal(t, "creds.db", conf.Creds.Path)
	assert.Equal(t, "qqgrab", conf.Catalog.DeviceGUID)
	assert.InDelta(t, 5.0, conf.Catalog.RequestsPerSecond, 0)
	assert.Equal(t, 5, conf.Catalog.Timeouts.Search)
	assert.Equal(t, 10, conf.Catalog.Timeouts.DownloadCover)
	assert.Equal(t, "./music", conf.Downloader.Dir)
	assert.Equal(t, 3, conf.Downloader.Concurrency)
	assert.Equal(t, int64(unit.Kibibyte), conf.Downloader.MinTrackSize)
	assert.False(t, conf.Downloader.PreferLossless)
	assert.Equal(t, 120, conf.Downloader.DownloadTimeout)
	assert.Equal(t, uint64(2), conf.Downloader.FetchRetries)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	content := `
log:
  level: debug
  format: json
downloader:
  dir: /tmp/music
  concurrency: 8
  prefer_lossless: true
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	conf, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", conf.Log.Level)
	assert.Equal(t, "json", conf.Log.Format)
	assert.Equal(t, "/tmp/music", conf.Downloader.Dir)
	assert.Equal(t, 8, conf.Downloader.Concurrency)
	assert.True(t, conf.Downloader.PreferLossless)

	// Unset sections still get their defaults.
	assert.Equal(t, "creds.db", conf.Creds.Path)
	assert.Equal(t, 120, conf.Downloader.DownloadTimeout)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadInvalidLogLevel(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o600))

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "level")
}
