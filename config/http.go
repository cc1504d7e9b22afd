package config

import "fmt"

// HTTPConfig configures the API and websocket listener.
type HTTPConfig struct {
	Address string `json:"address"`
	// ShutdownTimeoutMS bounds graceful server shutdown.
	ShutdownTimeoutMS int `json:"shutdown_timeout_ms"`
}

func (c *HTTPConfig) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.ShutdownTimeoutMS == 0 {
		c.ShutdownTimeoutMS = 5000
	}
}

func (c HTTPConfig) Validate() error {
	if c.ShutdownTimeoutMS < 0 {
		return fmt.Errorf("shutdown_timeout_ms must not be negative")
	}
	return nil
}
