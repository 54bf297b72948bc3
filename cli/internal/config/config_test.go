package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withMemFs(t *testing.T) afero.Fs {
	t.Helper()
	old := AppFs
	AppFs = afero.NewMemMapFs()
	t.Cleanup(func() { AppFs = old })
	return AppFs
}

func TestLoadConfigDefaults(t *testing.T) {
	withMemFs(t)
	t.Setenv("DATABASE_URL", "file:test.db")

	v, err := New()
	require.NoError(t, err)
	cfg, err := LoadConfig(v)
	require.NoError(t, err)

	assert.Equal(t, "model.yaml", cfg.ModelPath)
	assert.Equal(t, "generic-92", cfg.Dialect)
	assert.Equal(t, "sqlite", cfg.Driver)
	assert.Equal(t, "file:test.db", cfg.DatabaseURL)
	assert.Equal(t, 512, cfg.ShapeCache)
}

func TestSaveAndLoad(t *testing.T) {
	withMemFs(t)
	t.Setenv("SHAOLINQ_DIALECT", "")
	cwd, err := os.Getwd()
	require.NoError(t, err)

	require.NoError(t, SaveConfig(&Config{
		ModelPath:     "schema/people.yaml",
		Dialect:       "postgresql",
		ServerVersion: "9.4",
		Driver:        "pgx",
	}, filepath.Join(cwd, FileName+".yaml")))

	v, err := New()
	require.NoError(t, err)
	cfg, err := LoadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "schema/people.yaml", cfg.ModelPath)
	assert.Equal(t, "postgresql", cfg.Dialect)
	assert.Equal(t, "9.4", cfg.ServerVersion)
	assert.Equal(t, "pgx", cfg.Driver)
}

func TestEnvironmentOverrides(t *testing.T) {
	withMemFs(t)
	t.Setenv("SHAOLINQ_DIALECT", "mysql")

	v, err := New()
	require.NoError(t, err)
	cfg, err := LoadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Dialect)
}
