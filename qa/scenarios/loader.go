package scenarios

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/gridx/core/factory"
	"github.com/kilianp07/gridx/core/model"
)

// Step sets the grid aggregates for one tick and the outcome it must yield.
type Step struct {
	Supply      float64  `yaml:"supply"`
	Demand      float64  `yaml:"demand"`
	StorageDown bool     `yaml:"storage_down,omitempty"`
	Expected    Expected `yaml:"expected"`
}

type Expected struct {
	Status      string   `yaml:"status"`
	Price       float64  `yaml:"price"`
	HealthScore *float64 `yaml:"health_score,omitempty"`
}

type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	// Grid overrides the default pricing parameters using the config keys
	// (base_price, smoothing_factor, ...).
	Grid  map[string]any `yaml:"grid,omitempty"`
	Steps []Step         `yaml:"steps"`
}

// GridConfig applies the scenario overrides to the default configuration.
func (s Scenario) GridConfig() (model.GridConfig, error) {
	cfg := model.DefaultGridConfig()
	if len(s.Grid) == 0 {
		return cfg, nil
	}
	var patch model.GridConfigPatch
	if err := factory.Decode(s.Grid, &patch); err != nil {
		return cfg, fmt.Errorf("scenario %s grid: %w", s.Name, err)
	}
	cfg = patch.Apply(cfg)
	return cfg, cfg.Validate()
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if len(sc.Steps) == 0 {
		return nil, fmt.Errorf("scenario %s has no steps", path)
	}
	return &sc, nil
}
