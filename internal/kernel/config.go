package kernel

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config controls how a Kernel lays out its files and tunes the storage
// layers beneath it. It is designed to be loaded from a small YAML file
// (see LoadConfig), the way the teacher repo's server loads its own
// settings.
type Config struct {
	// DataDir holds one data file and one log file per table, plus the
	// catalog's own data file.
	DataDir string `yaml:"data_dir"`

	// BufferPoolCapacity is the number of page frames each table (and the
	// catalog) gets in its buffer pool.
	BufferPoolCapacity int `yaml:"buffer_pool_capacity"`

	// LockTimeout bounds how long a lock request waits before failing
	// with ErrLockTimeout.
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// CheckpointInterval is how often kerneld's background scheduler calls
	// CheckpointAll. Zero disables automatic checkpointing; callers can
	// still call Checkpoint directly.
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// DefaultConfig returns sensible defaults for a small single-process
// deployment.
func DefaultConfig() Config {
	return Config{
		DataDir:            "./data",
		BufferPoolCapacity: 256,
		LockTimeout:        5 * time.Second,
		CheckpointInterval: 5 * time.Minute,
	}
}

// LoadConfig reads and parses a YAML config file. Fields absent from the
// file keep their DefaultConfig values, and an empty data_dir or a
// non-positive buffer_pool_capacity or lock_timeout is reset to its
// default; checkpoint_interval is kept as given, so 0 disables it.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("kernel: read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("kernel: parse config %s: %w", path, err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultConfig().DataDir
	}
	if cfg.BufferPoolCapacity <= 0 {
		cfg.BufferPoolCapacity = DefaultConfig().BufferPoolCapacity
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultConfig().LockTimeout
	}
	return cfg, nil
}
