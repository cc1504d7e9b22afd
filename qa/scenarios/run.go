package scenarios

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/gridx/core/broadcast"
	"github.com/kilianp07/gridx/core/grid"
	"github.com/kilianp07/gridx/core/model"
	"github.com/kilianp07/gridx/core/store"
	"github.com/kilianp07/gridx/infra/logger"
	"github.com/kilianp07/gridx/infra/metrics"
	"github.com/kilianp07/gridx/internal/eventbus"
)

// RunScenario ticks a fresh engine once per step and checks each sample, the
// GRID_UPDATE broadcasts and the exported price gauge.
func RunScenario(t *testing.T, sc *Scenario) {
	t.Helper()
	cfg, err := sc.GridConfig()
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	sink, err := metrics.NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	hub := eventbus.NewHub(len(sc.Steps))
	defer hub.Close()
	updates := hub.Subscribe(broadcast.TopicGridUpdate, broadcast.Global)

	mem := store.NewMemory(0, 0)
	e, err := grid.NewEngine(cfg, mem, mem, hub, sink, logger.NopLogger{})
	require.NoError(t, err)

	var last model.GridMetrics
	for i, step := range sc.Steps {
		mem.SetAggregates(step.Supply, step.Demand)
		mem.SetFailures(step.StorageDown, false)
		last = e.Tick(context.Background())

		assert.Equalf(t, model.GridStatus(step.Expected.Status), last.Status, "step %d status", i)
		assert.InDeltaf(t, step.Expected.Price, last.Price, 1e-9, "step %d price", i)
		if step.Expected.HealthScore != nil {
			assert.InDeltaf(t, *step.Expected.HealthScore, last.HealthScore, 1e-9, "step %d health", i)
		}
	}

	for i := range sc.Steps {
		select {
		case m := <-updates:
			assert.Equal(t, broadcast.TopicGridUpdate, m.Topic)
		default:
			t.Fatalf("missing GRID_UPDATE for step %d", i)
		}
	}
	assert.InDelta(t, last.Price, gaugeValue(t, reg, "grid_price"), 1e-9)
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name && len(f.GetMetric()) > 0 {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
