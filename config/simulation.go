package config

import (
	"fmt"

	"github.com/kilianp07/gridx/core/meter"
)

// SimulationConfig selects the users whose meters are simulated at boot.
type SimulationConfig struct {
	// Users lists user ids. Ignored when RosterPath is set.
	Users []string `json:"users"`
	// RosterPath points to a YAML or JSON roster file.
	RosterPath string `json:"roster_path"`
	// Seed fixes the reading generator. Zero seeds from the clock.
	Seed int64 `json:"seed"`
	// Disabled skips starting meters at boot.
	Disabled bool `json:"disabled"`
}

func (c *SimulationConfig) SetDefaults() {
	if len(c.Users) == 0 && c.RosterPath == "" {
		c.Users = append([]string(nil), meter.DemoUsers...)
	}
}

func (c SimulationConfig) Validate() error {
	for _, u := range c.Users {
		if u == "" {
			return fmt.Errorf("empty user id")
		}
	}
	return nil
}

// Roster resolves the configured user ids.
func (c SimulationConfig) Roster() ([]string, error) {
	if c.RosterPath != "" {
		return meter.LoadRoster(c.RosterPath)
	}
	return c.Users, nil
}
