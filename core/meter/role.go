package meter

import "github.com/kilianp07/gridx/core/model"

// RoleDeadBand is the net energy magnitude (kWh) within which an entity is
// labeled Prosumer.
const RoleDeadBand = 0.5

// ClassifyRole labels an entity from its net energy (exported minus
// imported). The dead-band bounds are inclusive.
func ClassifyRole(net float64) model.Role {
	switch {
	case net > RoleDeadBand:
		return model.RoleSeller
	case net < -RoleDeadBand:
		return model.RoleBuyer
	default:
		return model.RoleProsumer
	}
}
