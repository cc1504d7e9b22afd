package metrics

import "github.com/kilianp07/gridx/core/factory"

// Config defines settings for metrics sinks.
type Config struct {
	Sinks             []factory.ModuleConfig `json:"sinks"`
	PrometheusAddress string                 `json:"prometheus_address"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.PrometheusAddress == "" {
		c.PrometheusAddress = ":9090"
	}
}
