package dispatch

import (
	"fmt"
	"time"
)

// Config defines dispatch-related settings. Zero values are replaced by
// SetDefaults.
type Config struct {
	// SweepIntervalSeconds is the period of the fallback assignment pass.
	SweepIntervalSeconds int `json:"sweep_interval_seconds"`
	// AckTimeoutSeconds is how long an assigned request may wait for the
	// drone's first on_route report before it returns to pending.
	AckTimeoutSeconds int `json:"ack_timeout_seconds"`
	// CancelTimeoutSeconds is how long a cancel command may stay
	// unacknowledged before the request is finalized as cancelled.
	CancelTimeoutSeconds int `json:"cancel_timeout_seconds"`
	TelemetryWorkers     int `json:"telemetry_workers"`
	TelemetryQueueSize   int `json:"telemetry_queue_size"`
	// Selector names the drone selection strategy.
	Selector string `json:"selector"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.SweepIntervalSeconds == 0 {
		c.SweepIntervalSeconds = 10
	}
	if c.AckTimeoutSeconds == 0 {
		c.AckTimeoutSeconds = 120
	}
	if c.CancelTimeoutSeconds == 0 {
		c.CancelTimeoutSeconds = 60
	}
	if c.TelemetryWorkers == 0 {
		c.TelemetryWorkers = 4
	}
	if c.TelemetryQueueSize == 0 {
		c.TelemetryQueueSize = 64
	}
	if c.Selector == "" {
		c.Selector = "nearest"
	}
}

// Validate rejects negative values.
func (c Config) Validate() error {
	for name, v := range map[string]int{
		"sweep_interval_seconds": c.SweepIntervalSeconds,
		"ack_timeout_seconds":    c.AckTimeoutSeconds,
		"cancel_timeout_seconds": c.CancelTimeoutSeconds,
		"telemetry_workers":      c.TelemetryWorkers,
		"telemetry_queue_size":   c.TelemetryQueueSize,
	} {
		if v < 0 {
			return fmt.Errorf("dispatch.%s must not be negative", name)
		}
	}
	return nil
}

func (c Config) sweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c Config) ackTimeout() time.Duration {
	return time.Duration(c.AckTimeoutSeconds) * time.Second
}

func (c Config) cancelTimeout() time.Duration {
	return time.Duration(c.CancelTimeoutSeconds) * time.Second
}
