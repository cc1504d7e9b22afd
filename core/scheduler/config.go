package scheduler

import (
	"fmt"
	"time"
)

// Config holds the periodic intervals of the service.
type Config struct {
	GridIntervalMS   int `json:"grid_interval_ms"`
	MeterIntervalMS  int `json:"meter_interval_ms"`
	StorageTimeoutMS int `json:"storage_timeout_ms"`
	ShutdownGraceMS  int `json:"shutdown_grace_ms"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.GridIntervalMS == 0 {
		c.GridIntervalMS = 5000
	}
	if c.MeterIntervalMS == 0 {
		c.MeterIntervalMS = 5000
	}
	if c.StorageTimeoutMS == 0 {
		c.StorageTimeoutMS = 2000
	}
	if c.ShutdownGraceMS == 0 {
		c.ShutdownGraceMS = 3000
	}
}

// Validate rejects non-positive durations.
func (c Config) Validate() error {
	for name, v := range map[string]int{
		"grid_interval_ms":   c.GridIntervalMS,
		"meter_interval_ms":  c.MeterIntervalMS,
		"storage_timeout_ms": c.StorageTimeoutMS,
		"shutdown_grace_ms":  c.ShutdownGraceMS,
	} {
		if v <= 0 {
			return fmt.Errorf("scheduler.%s must be positive", name)
		}
	}
	return nil
}

func (c Config) GridInterval() time.Duration   { return ms(c.GridIntervalMS) }
func (c Config) MeterInterval() time.Duration  { return ms(c.MeterIntervalMS) }
func (c Config) StorageTimeout() time.Duration { return ms(c.StorageTimeoutMS) }
func (c Config) ShutdownGrace() time.Duration  { return ms(c.ShutdownGraceMS) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
