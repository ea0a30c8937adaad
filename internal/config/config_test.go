package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(NewViper(""))
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8000", cfg.ServerURL)
	assert.Equal(t, 200*time.Millisecond, cfg.WriteDebounce)
	assert.Equal(t, 100*time.Millisecond, cfg.CursorDebounce)
	assert.Equal(t, "sqlite3", cfg.DatabaseDriver)
	assert.Equal(t, 5*time.Second, cfg.RunnerTimeout)
	assert.Equal(t, "local", cfg.Export.Backend)
	assert.Error(t, cfg.ValidateServer(), "serve needs a jwt secret")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("COLLABX_WORKSPACE", "team")
	t.Setenv("COLLABX_WRITE_DEBOUNCE", "0s")
	t.Setenv("COLLABX_EXPORT_S3_BUCKET", "exports")
	t.Setenv("COLLABX_JWT_SECRET", "s3cret")

	cfg, err := Load(NewViper(""))
	require.NoError(t, err)
	assert.Equal(t, "team", cfg.Workspace)
	assert.Equal(t, time.Duration(0), cfg.WriteDebounce)
	assert.Equal(t, "exports", cfg.Export.S3Bucket)
	assert.NoError(t, cfg.ValidateServer())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collabx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_url: wss://collab.example.com
log_format: json
cursor_debounce: 250ms
export:
  backend: s3
  s3_bucket: ws-exports
`), 0o644))

	cfg, err := Load(NewViper(path))
	require.NoError(t, err)
	assert.Equal(t, "wss://collab.example.com", cfg.ServerURL)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 250*time.Millisecond, cfg.CursorDebounce)
	assert.Equal(t, "s3", cfg.Export.Backend)
	assert.NoError(t, cfg.ValidateExport())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(NewViper(filepath.Join(t.TempDir(), "nope.yaml")))
	assert.Error(t, err)
}

func TestValidateNamesKey(t *testing.T) {
	t.Setenv("COLLABX_DATABASE_DRIVER", "mysql")
	_, err := Load(NewViper(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database_driver")

	cfg := &Config{LogFormat: "console", DatabaseDriver: "sqlite3", Export: ExportConfig{Backend: "s3"}}
	assert.ErrorContains(t, cfg.ValidateExport(), "export.s3_bucket")
}
