package metrics_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/gridx/core/factory"
	"github.com/kilianp07/gridx/core/metrics"
	"github.com/kilianp07/gridx/core/model"
)

type countingSink struct {
	grid, meter int
	err         error
}

func (c *countingSink) RecordGridMetrics(model.GridMetrics) error {
	c.grid++
	return c.err
}

func (c *countingSink) RecordMeterReading(model.MeterReading) error {
	c.meter++
	return c.err
}

func TestMultiSink_ForwardsToAll(t *testing.T) {
	a, b := &countingSink{}, &countingSink{err: errors.New("down")}
	m := metrics.NewMultiSink(a, b)

	err := m.RecordGridMetrics(model.GridMetrics{})
	assert.Error(t, err)
	require.NoError(t, metrics.NewMultiSink(a).RecordMeterReading(model.MeterReading{}))

	assert.Equal(t, 1, a.grid)
	assert.Equal(t, 1, b.grid)
	assert.Equal(t, 1, a.meter)
}

func TestNewSink_Registry(t *testing.T) {
	require.NoError(t, metrics.RegisterSink("counting-test", func(map[string]any) (metrics.Sink, error) {
		return &countingSink{}, nil
	}))

	s, err := metrics.NewSink(nil)
	require.NoError(t, err)
	assert.IsType(t, metrics.NopSink{}, s)

	s, err = metrics.NewSink([]factory.ModuleConfig{{Type: "counting-test"}, {Type: "counting-test"}})
	require.NoError(t, err)
	multi, ok := s.(*metrics.MultiSink)
	require.True(t, ok)
	assert.Len(t, multi.Sinks, 2)

	_, err = metrics.NewSink([]factory.ModuleConfig{{Type: "missing"}})
	assert.Error(t, err)
	assert.Contains(t, metrics.SinkTypes(), "counting-test")
}

type forgettingSink struct {
	countingSink
	forgotten []string
	closed    bool
}

func (f *forgettingSink) ForgetUser(id string) { f.forgotten = append(f.forgotten, id) }
func (f *forgettingSink) Close()               { f.closed = true }

func TestMultiSink_ForgetAndClose(t *testing.T) {
	f := &forgettingSink{}
	m := metrics.NewMultiSink(&countingSink{}, f)
	m.ForgetUser("user-1")
	m.Close()
	assert.Equal(t, []string{"user-1"}, f.forgotten)
	assert.True(t, f.closed)
}
