package grid

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kilianp07/gridx/core/model"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name      string
		imbalance float64
		want      model.GridStatus
	}{
		{"zero", 0, model.StatusBalanced},
		{"just below threshold", 1.99, model.StatusBalanced},
		{"negative below threshold", -1.99, model.StatusBalanced},
		{"at threshold positive", 2, model.StatusShortage},
		{"at threshold negative", -2, model.StatusOversupply},
		{"demand exceeds supply", 3, model.StatusShortage},
		{"supply exceeds demand", -10, model.StatusOversupply},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyStatus(tt.imbalance, 2))
		})
	}
}

func TestClassifyStatus_ZeroThreshold(t *testing.T) {
	assert.Equal(t, model.StatusOversupply, ClassifyStatus(0, 0))
	assert.Equal(t, model.StatusShortage, ClassifyStatus(0.01, 0))
}

func TestTargetPrice_Clamps(t *testing.T) {
	cfg := model.DefaultGridConfig()
	assert.InDelta(t, 6.45, TargetPrice(cfg, 3), 1e-9)
	assert.Equal(t, 12.0, TargetPrice(cfg, 1000))
	assert.Equal(t, 3.0, TargetPrice(cfg, -1000))
}

func TestSmooth(t *testing.T) {
	assert.InDelta(t, 6.135, Smooth(0.3, 6.45, 6), 1e-9)
	assert.Equal(t, 6.0, Smooth(0, 12, 6))
	assert.Equal(t, 12.0, Smooth(1, 12, 6))
}

func TestHealthScore(t *testing.T) {
	assert.Equal(t, 100.0, HealthScore(0))
	assert.Equal(t, 85.0, HealthScore(3))
	assert.Equal(t, 85.0, HealthScore(-3))
	assert.Equal(t, 0.0, HealthScore(20))
	assert.Equal(t, 0.0, HealthScore(-500))
}

func TestUptimeHealth(t *testing.T) {
	s, l := UptimeHealth(99.5)
	assert.Equal(t, 99.5, s)
	assert.Equal(t, LevelHealthy, l)
	_, l = UptimeHealth(90)
	assert.Equal(t, LevelWarning, l)
	_, l = UptimeHealth(50)
	assert.Equal(t, LevelCritical, l)
	s, _ = UptimeHealth(140)
	assert.Equal(t, 100.0, s)
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 6.14, Round2(6.135000000000001))
	assert.Equal(t, 6.14, Round2(6.134999999999999))
	assert.Equal(t, -1.24, Round2(-1.235000001))
	assert.Equal(t, 0.0, Round2(0.001))
	assert.True(t, math.IsNaN(Round2(math.NaN())))
}
