package model

import "time"

// Role describes the net energy position of a metered user.
type Role string

const (
	RoleBuyer    Role = "Buyer"
	RoleSeller   Role = "Seller"
	RoleProsumer Role = "Prosumer"
)

// MeterReading is a synthetic smart meter sample for one user.
type MeterReading struct {
	ID        string    `json:"id,omitempty"`
	UserID    string    `json:"user_id"`
	Imported  float64   `json:"imported"`   // kWh drawn from the grid
	Exported  float64   `json:"exported"`   // kWh injected into the grid
	NetEnergy float64   `json:"net_energy"` // exported - imported
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`
}

// AggregateStats summarises the latest reading of every tracked user.
type AggregateStats struct {
	TotalImported float64 `json:"total_imported"`
	TotalExported float64 `json:"total_exported"`
	TotalNet      float64 `json:"total_net_energy"`
	BuyerCount    int     `json:"buyer_count"`
	SellerCount   int     `json:"seller_count"`
	ProsumerCount int     `json:"prosumer_count"`
}
