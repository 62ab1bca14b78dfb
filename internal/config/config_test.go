package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/cmadac/internal/optimization"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DSN", ":memory:")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 40, cfg.DAC.HistoryLength)
	assert.Equal(t, 10, cfg.DAC.PopulationSize)
	assert.Equal(t, 100, cfg.DAC.Cutoff)
	assert.Equal(t, 0.05, cfg.DAC.SigmaFloor)
	assert.Equal(t, 1, cfg.DAC.EvalWorkers)

	ec := cfg.EnvConfig()
	assert.Equal(t, 40, ec.HistoryLength)
	assert.Equal(t, 0.05, ec.SigmaFloor)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DSN", ":memory:")
	t.Setenv("DAC_HIST_LENGTH", "8")
	t.Setenv("DAC_POPSIZE", "6")
	t.Setenv("DAC_SEED", "42")
	t.Setenv("DAC_EVAL_WORKERS", "4")

	cfg, err := Load()
	require.NoError(t, err)

	ec := cfg.EnvConfig()
	assert.Equal(t, 8, ec.HistoryLength)
	assert.Equal(t, 6, ec.PopulationSize)
	assert.Equal(t, int64(42), ec.Seed)
	assert.Equal(t, 4, ec.Workers)
}

func TestLoadRejectsInvalidDAC(t *testing.T) {
	t.Setenv("DB_DSN", ":memory:")
	t.Setenv("DAC_CUTOFF", "0")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, optimization.ErrInvalidConfig)
}

func TestEnsureDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	t.Setenv("DB_DSN", "file:"+filepath.Join(dir, "episodes.db")+"?cache=shared")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.EnsureDataDir())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	mem := &Config{}
	mem.Database.DSN = ":memory:"
	assert.NoError(t, mem.EnsureDataDir())
}

func TestInstanceProvider(t *testing.T) {
	t.Run("built-in set", func(t *testing.T) {
		cfg := &Config{}
		p, err := cfg.InstanceProvider()
		require.NoError(t, err)
		assert.Positive(t, p.Len())
	})

	t.Run("yaml set", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "set.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
name: two
instances:
  - function: sphere
    dimension: 2
  - function: rastrigin
    dimension: 3
`), 0o644))

		cfg := &Config{}
		cfg.DAC.InstanceSet = path
		p, err := cfg.InstanceProvider()
		require.NoError(t, err)
		assert.Equal(t, 2, p.Len())

		inst, err := p.Next()
		require.NoError(t, err)
		assert.Equal(t, "sphere", inst.Name)
	})

	t.Run("missing file", func(t *testing.T) {
		cfg := &Config{}
		cfg.DAC.InstanceSet = filepath.Join(t.TempDir(), "nope.yaml")
		_, err := cfg.InstanceProvider()
		assert.Error(t, err)
	})
}
