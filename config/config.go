package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/gridx/core/metrics"
	"github.com/kilianp07/gridx/core/model"
	"github.com/kilianp07/gridx/core/scheduler"
	"github.com/kilianp07/gridx/infra/mqtt"
	"github.com/kilianp07/gridx/infra/storage"
)

type Config struct {
	Grid       model.GridConfig `json:"grid"`
	Scheduler  scheduler.Config `json:"scheduler"`
	Simulation SimulationConfig `json:"simulation"`
	Storage    storage.Config   `json:"storage"`
	HTTP       HTTPConfig       `json:"http"`
	MQTT       mqtt.Config      `json:"mqtt"`
	Metrics    metrics.Config   `json:"metrics"`
	Logging    LoggingConfig    `json:"logging"`
	Sentry     SentryConfig     `json:"sentry"`
}

// Default returns a configuration usable without any file.
func Default() *Config {
	cfg := &Config{Grid: model.DefaultGridConfig()}
	cfg.SetDefaults()
	return cfg
}

// Load reads a YAML or JSON file and applies K_ prefixed environment
// overrides, "__" separating nested keys (K_GRID__BASE_PRICE=7). An empty
// path loads defaults plus environment only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, err
		}
	}
	if err := k.Load(env.Provider("K_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	cfg := Config{Grid: model.DefaultGridConfig()}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
	}
}

// SetDefaults fills unset fields of every section.
func (c *Config) SetDefaults() {
	c.Scheduler.SetDefaults()
	c.Simulation.SetDefaults()
	c.Storage.SetDefaults()
	c.HTTP.SetDefaults()
	c.MQTT.SetDefaults()
	c.Metrics.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate checks every section and joins the failures.
func (c Config) Validate() error {
	var errs []error
	add := func(section string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section, err))
		}
	}
	add("grid", c.Grid.Validate())
	add("scheduler", c.Scheduler.Validate())
	add("simulation", c.Simulation.Validate())
	add("storage", c.Storage.Validate())
	add("http", c.HTTP.Validate())
	add("mqtt", c.MQTT.Validate())
	add("logging", c.Logging.Validate())
	add("sentry", c.Sentry.Validate())
	return errors.Join(errs...)
}
