package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/kilupskalvis/revdb/internal/blobstore"
	"github.com/kilupskalvis/revdb/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvDataDir, EnvLogLevel, EnvLogFormat} {
		t.Setenv(key, "")
	}
}

func TestConfig_DefaultsWhenFileMissing(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	cfg, err := LoadFromDir(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, int64(store.DefaultBigAttachmentLength), cfg.BigAttachmentLength)
	assert.Equal(t, "sha1", cfg.Digest)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_SaveAndLoad(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	cfg := Default()
	cfg.DataDir = dir
	cfg.LogLevel = "debug"
	cfg.Digest = "sha256"
	cfg.BigAttachmentLength = 4096
	require.NoError(t, cfg.Save())

	_, err := os.Stat(filepath.Join(dir, ConfigFile))
	require.NoError(t, err)

	loaded, err := LoadFromDir(dir)
	require.NoError(t, err)
	assert.Equal(t, "debug", loaded.LogLevel)
	assert.Equal(t, "sha256", loaded.Digest)
	assert.Equal(t, int64(4096), loaded.BigAttachmentLength)
}

func TestConfig_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFile), []byte("log_level = \"warn\"\n"), 0644))

	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogFormat, "json")
	t.Setenv(EnvDataDir, "/elsewhere")

	cfg, err := LoadFromDir(dir)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "/elsewhere", cfg.DataDir)
}

func TestConfig_ParseError(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ConfigFile)
	require.NoError(t, os.WriteFile(path, []byte("log_level = ["), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "loud"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Digest = "md5"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.BigAttachmentLength = -1
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.DataDir = ""
	assert.Error(t, cfg.Validate())
}

func TestConfig_StoreOptions(t *testing.T) {
	cfg := Default()
	cfg.Digest = "sha256"

	opts, err := cfg.StoreOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, blobstore.SHA256, opts.Digester)
	assert.Equal(t, cfg.BigAttachmentLength, opts.BigAttachmentLength)
	assert.Equal(t, cfg.DocIDCacheSize, opts.DocIDCacheSize)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.LogLevel = "warn"
	cfg.LogFormat = "json"

	logger := NewLogger(cfg, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}
