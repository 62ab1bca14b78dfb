package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/cmadac/internal/environment"
	"github.com/copyleftdev/cmadac/internal/instances"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Database struct {
		// DSN of the episode store. Empty disables persistence.
		DSN string `env:"DB_DSN" envDefault:"file:data/cmadac.db"`
	}
	DAC struct {
		HistoryLength  int     `env:"DAC_HIST_LENGTH" envDefault:"40"`
		PopulationSize int     `env:"DAC_POPSIZE" envDefault:"10"`
		Cutoff         int     `env:"DAC_CUTOFF" envDefault:"100"`
		SigmaFloor     float64 `env:"DAC_SIGMA_FLOOR" envDefault:"0.05"`
		Seed           int64   `env:"DAC_SEED" envDefault:"0"`
		EvalWorkers    int     `env:"DAC_EVAL_WORKERS" envDefault:"1"`
		// InstanceSet is a YAML instance set path. Empty uses the built-in set.
		InstanceSet     string `env:"DAC_INSTANCE_SET"`
		InstanceShuffle bool   `env:"DAC_INSTANCE_SHUFFLE" envDefault:"false"`
		// StateInterval groups tracked states. Zero disables grouping.
		StateInterval int `env:"DAC_STATE_INTERVAL" envDefault:"0"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	// Parse environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Set default logging level based on environment
	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.EnvConfig().Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// EnvConfig converts the DAC section into an environment configuration.
func (c *Config) EnvConfig() environment.Config {
	ec := environment.DefaultConfig()
	ec.HistoryLength = c.DAC.HistoryLength
	ec.PopulationSize = c.DAC.PopulationSize
	ec.Cutoff = c.DAC.Cutoff
	ec.SigmaFloor = c.DAC.SigmaFloor
	ec.Seed = c.DAC.Seed
	ec.Workers = c.DAC.EvalWorkers
	return ec
}

// InstanceProvider loads the configured instance set, or the built-in one,
// and wraps it in a provider.
func (c *Config) InstanceProvider() (*instances.Provider, error) {
	set := instances.DefaultSet()
	if c.DAC.InstanceSet != "" {
		loaded, err := instances.LoadSet(c.DAC.InstanceSet)
		if err != nil {
			return nil, err
		}
		set = loaded
	}
	return instances.NewProvider(set, c.DAC.InstanceShuffle, uint64(c.DAC.Seed))
}

// EnsureDataDir creates the parent directory of a file-backed sqlite DSN.
func (c *Config) EnsureDataDir() error {
	path := strings.TrimPrefix(c.Database.DSN, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	return nil
}

// GetEnv returns the value of the environment variable or the default value
func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
