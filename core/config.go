package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultStateTTL              = 10 * time.Minute
	defaultRefreshScanInterval   = time.Minute
	defaultRefreshWindow         = 5 * time.Minute
	defaultRefreshErrorThreshold = 5
	defaultRefreshLeaseTTL       = 2 * time.Minute
	defaultRefreshMaxAttempts    = 3
	defaultRefreshInitialBackoff = 500 * time.Millisecond
	defaultRefreshMaxBackoff     = 10 * time.Second
	defaultRefreshBatchSize      = 100
	defaultProviderTimeout       = 15 * time.Second
)

type StateConfig struct {
	TTL time.Duration `koanf:"ttl" mapstructure:"ttl"`
}

type RefreshConfig struct {
	ScanInterval   time.Duration `koanf:"scan_interval" mapstructure:"scan_interval"`
	Window         time.Duration `koanf:"window" mapstructure:"window"`
	ErrorThreshold int           `koanf:"error_threshold" mapstructure:"error_threshold"`
	LeaseTTL       time.Duration `koanf:"lease_ttl" mapstructure:"lease_ttl"`
	MaxAttempts    int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
	BatchSize      int           `koanf:"batch_size" mapstructure:"batch_size"`
}

type ProviderConfig struct {
	RequestTimeout time.Duration `koanf:"request_timeout" mapstructure:"request_timeout"`
}

type Config struct {
	ServiceName string         `koanf:"service_name" mapstructure:"service_name"`
	State       StateConfig    `koanf:"state" mapstructure:"state"`
	Refresh     RefreshConfig  `koanf:"refresh" mapstructure:"refresh"`
	Provider    ProviderConfig `koanf:"provider" mapstructure:"provider"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "integrations",
		State: StateConfig{
			TTL: defaultStateTTL,
		},
		Refresh: RefreshConfig{
			ScanInterval:   defaultRefreshScanInterval,
			Window:         defaultRefreshWindow,
			ErrorThreshold: defaultRefreshErrorThreshold,
			LeaseTTL:       defaultRefreshLeaseTTL,
			MaxAttempts:    defaultRefreshMaxAttempts,
			InitialBackoff: defaultRefreshInitialBackoff,
			MaxBackoff:     defaultRefreshMaxBackoff,
			BatchSize:      defaultRefreshBatchSize,
		},
		Provider: ProviderConfig{
			RequestTimeout: defaultProviderTimeout,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.State.TTL <= 0 {
		return fmt.Errorf("core: state.ttl must be positive")
	}
	if c.Refresh.ScanInterval <= 0 {
		return fmt.Errorf("core: refresh.scan_interval must be positive")
	}
	if c.Refresh.Window <= 0 {
		return fmt.Errorf("core: refresh.window must be positive")
	}
	if c.Refresh.ErrorThreshold <= 0 {
		return fmt.Errorf("core: refresh.error_threshold must be positive")
	}
	if c.Refresh.LeaseTTL <= 0 {
		return fmt.Errorf("core: refresh.lease_ttl must be positive")
	}
	if c.Refresh.MaxAttempts <= 0 {
		return fmt.Errorf("core: refresh.max_attempts must be positive")
	}
	if c.Refresh.InitialBackoff < 0 || c.Refresh.MaxBackoff < 0 {
		return fmt.Errorf("core: refresh backoff must not be negative")
	}
	if worst := c.RefreshWorstCase(); c.Refresh.LeaseTTL <= worst {
		return fmt.Errorf("core: refresh.lease_ttl %s must exceed the worst-case refresh duration %s", c.Refresh.LeaseTTL, worst)
	}
	if c.Refresh.BatchSize <= 0 {
		return fmt.Errorf("core: refresh.batch_size must be positive")
	}
	if c.Provider.RequestTimeout <= 0 {
		return fmt.Errorf("core: provider.request_timeout must be positive")
	}
	return nil
}

// RefreshWorstCase is the longest a refresh can spend inside its lease: every
// attempt running to the provider timeout plus the backoff between attempts.
func (c Config) RefreshWorstCase() time.Duration {
	attempts := c.Refresh.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	total := time.Duration(attempts) * c.Provider.RequestTimeout
	backoff := ExponentialBackoffScheduler{Initial: c.Refresh.InitialBackoff, Max: c.Refresh.MaxBackoff}
	for attempt := 1; attempt < attempts; attempt++ {
		total += backoff.NextDelay(attempt)
	}
	return total
}

// RetryPolicy derives the provider call retry policy from refresh settings.
func (c Config) RetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: c.Refresh.MaxAttempts,
		Backoff: ExponentialBackoffScheduler{
			Initial: c.Refresh.InitialBackoff,
			Max:     c.Refresh.MaxBackoff,
		},
	}
}
