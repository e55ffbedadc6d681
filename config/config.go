// Package config defines the typed configuration surface for
// cmd/redilockd and any other embedder that wants file- or env-driven
// setup instead of constructing lock/extend/batch configs by hand.
// Grounded on cronlock/internal/config/config.go's struct-of-structs +
// Defaults() shape.
package config

import "time"

// Config is the complete daemon configuration.
type Config struct {
	Node    NodeConfig    `koanf:"node"`
	Stores  []StoreConfig `koanf:"stores"`
	Locking LockingConfig `koanf:"locking"`
	Metrics MetricsConfig `koanf:"metrics"`
	Jobs    []JobConfig   `koanf:"jobs"`
}

// NodeConfig contains node-identity settings.
type NodeConfig struct {
	ID          string        `koanf:"id"`
	GracePeriod time.Duration `koanf:"grace_period"`
}

// StoreConfig describes one backing store adapter. A single-node lock
// uses Stores[0]; a redlock uses every entry.
type StoreConfig struct {
	Address   string `koanf:"address"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

// LockingConfig carries the defaults applied to every lock this daemon
// constructs, mirroring the daemon's configuration file layout.
// ThresholdRatio, SingleNodeBufferRatio and DistributedBufferRatio are
// loaded but not passed to any lock or auto-extension scheduler; those
// use the extend package's default ratios.
type LockingConfig struct {
	DefaultTTL           time.Duration `koanf:"default_ttl"`
	RetryAttempts        int           `koanf:"retry_attempts"`
	RetryDelay           time.Duration `koanf:"retry_delay"`
	Quorum               int           `koanf:"quorum"` // 0 = floor(N/2)+1
	ClockDriftFactor     float64       `koanf:"clock_drift_factor"`
	ThresholdRatio       float64       `koanf:"threshold_ratio"`
	SingleNodeBufferRatio float64      `koanf:"single_node_buffer_ratio"`
	DistributedBufferRatio float64     `koanf:"distributed_buffer_ratio"`
}

// MetricsConfig configures the optional Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Address string `koanf:"address"`
}

// JobConfig defines one scheduled, lock-guarded unit of work.
type JobConfig struct {
	Name     string        `koanf:"name"`
	Schedule string        `koanf:"schedule"`
	Key      string        `koanf:"key"`
	TTL      time.Duration `koanf:"ttl"`
	Strategy string        `koanf:"strategy"` // "single" or "redlock"
	Enabled  *bool         `koanf:"enabled"`
}

// IsEnabled returns whether the job is enabled. Defaults to true if not
// specified.
func (j JobConfig) IsEnabled() bool {
	if j.Enabled == nil {
		return true
	}
	return *j.Enabled
}

// Defaults returns a Config with sensible default values, matching the
// constants lock.SingleConfig, lock.RedlockConfig, and extend.Config fall
// back to when left unset, except RetryDelay: its 200ms is
// lock.RedlockConfig's fallback, while lock.SingleConfig falls back to
// 100ms.
func Defaults() Config {
	return Config{
		Node: NodeConfig{
			GracePeriod: 5 * time.Second,
		},
		Stores: []StoreConfig{
			{Address: "localhost:6379", KeyPrefix: "redilock:"},
		},
		Locking: LockingConfig{
			DefaultTTL:             30 * time.Second,
			RetryAttempts:          3,
			RetryDelay:             200 * time.Millisecond,
			ClockDriftFactor:       0.01,
			ThresholdRatio:         0.20,
			SingleNodeBufferRatio:  0.10,
			DistributedBufferRatio: 0.05,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9090",
		},
		Jobs: []JobConfig{},
	}
}
