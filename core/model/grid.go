package model

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidConfig is returned when a GridConfig fails validation.
var ErrInvalidConfig = errors.New("invalid grid configuration")

// GridStatus classifies the supply/demand balance of the grid.
type GridStatus string

const (
	StatusBalanced   GridStatus = "Balanced"
	StatusOversupply GridStatus = "Oversupply"
	StatusShortage   GridStatus = "Shortage"
)

// GridConfig holds the tunable pricing parameters of the stability engine.
type GridConfig struct {
	BasePrice float64 `json:"base_price"` // ₹/kWh
	MinPrice  float64 `json:"min_price"`
	MaxPrice  float64 `json:"max_price"`
	// Elasticity converts one kW of imbalance into a raw price delta.
	Elasticity float64 `json:"elasticity"`
	// Threshold is the imbalance magnitude (kW) below which the grid is Balanced.
	Threshold float64 `json:"threshold"`
	// SmoothingFactor is the weight of the fresh price in the moving average, in [0,1].
	SmoothingFactor float64 `json:"smoothing_factor"`
}

// DefaultGridConfig returns the demo pricing parameters.
func DefaultGridConfig() GridConfig {
	return GridConfig{
		BasePrice:       6,
		MinPrice:        3,
		MaxPrice:        12,
		Elasticity:      0.15,
		Threshold:       2,
		SmoothingFactor: 0.3,
	}
}

// Validate checks the price bounds and the smoothing coefficient.
func (c GridConfig) Validate() error {
	vals := map[string]float64{
		"base_price":       c.BasePrice,
		"min_price":        c.MinPrice,
		"max_price":        c.MaxPrice,
		"elasticity":       c.Elasticity,
		"threshold":        c.Threshold,
		"smoothing_factor": c.SmoothingFactor,
	}
	for name, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not a finite number", ErrInvalidConfig, name)
		}
	}
	if c.MinPrice > c.MaxPrice {
		return fmt.Errorf("%w: min_price %.2f exceeds max_price %.2f", ErrInvalidConfig, c.MinPrice, c.MaxPrice)
	}
	if c.BasePrice < c.MinPrice || c.BasePrice > c.MaxPrice {
		return fmt.Errorf("%w: base_price %.2f outside [%.2f, %.2f]", ErrInvalidConfig, c.BasePrice, c.MinPrice, c.MaxPrice)
	}
	if c.SmoothingFactor < 0 || c.SmoothingFactor > 1 {
		return fmt.Errorf("%w: smoothing_factor %.2f outside [0, 1]", ErrInvalidConfig, c.SmoothingFactor)
	}
	if c.Threshold < 0 {
		return fmt.Errorf("%w: threshold must not be negative", ErrInvalidConfig)
	}
	if c.Elasticity < 0 {
		return fmt.Errorf("%w: elasticity must not be negative", ErrInvalidConfig)
	}
	return nil
}

// GridConfigPatch is a partial GridConfig update. Nil fields are left untouched.
type GridConfigPatch struct {
	BasePrice       *float64 `json:"base_price,omitempty"`
	MinPrice        *float64 `json:"min_price,omitempty"`
	MaxPrice        *float64 `json:"max_price,omitempty"`
	Elasticity      *float64 `json:"elasticity,omitempty"`
	Threshold       *float64 `json:"threshold,omitempty"`
	SmoothingFactor *float64 `json:"smoothing_factor,omitempty"`
}

// Apply merges the patch into c and returns the result.
func (p GridConfigPatch) Apply(c GridConfig) GridConfig {
	if p.BasePrice != nil {
		c.BasePrice = *p.BasePrice
	}
	if p.MinPrice != nil {
		c.MinPrice = *p.MinPrice
	}
	if p.MaxPrice != nil {
		c.MaxPrice = *p.MaxPrice
	}
	if p.Elasticity != nil {
		c.Elasticity = *p.Elasticity
	}
	if p.Threshold != nil {
		c.Threshold = *p.Threshold
	}
	if p.SmoothingFactor != nil {
		c.SmoothingFactor = *p.SmoothingFactor
	}
	return c
}

// GridMetrics is the sample produced by one stability tick.
type GridMetrics struct {
	ID          string     `json:"id,omitempty"`
	Supply      float64    `json:"supply"`
	Demand      float64    `json:"demand"`
	Imbalance   float64    `json:"imbalance"` // demand - supply
	Status      GridStatus `json:"grid_status"`
	Price       float64    `json:"updated_price"`
	HealthScore float64    `json:"health_score"`
	Timestamp   time.Time  `json:"timestamp"`
}

// PriceSnapshot exposes the pricing state of the engine.
type PriceSnapshot struct {
	CurrentPrice  float64   `json:"current_price"`
	BasePrice     float64   `json:"base_price"`
	MinPrice      float64   `json:"min_price"`
	MaxPrice      float64   `json:"max_price"`
	PriceHistory  []float64 `json:"price_history"`
	MovingAverage float64   `json:"moving_average"`
}
