package grid

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/gridx/core/broadcast"
	"github.com/kilianp07/gridx/core/model"
	"github.com/kilianp07/gridx/core/store"
)

type published struct {
	topic   string
	payload any
	scope   string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (r *recordingPublisher) Publish(topic string, payload any, scope string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{topic, payload, scope})
}

type recordingRecorder struct{ samples []model.GridMetrics }

func (r *recordingRecorder) RecordGridMetrics(m model.GridMetrics) error {
	r.samples = append(r.samples, m)
	return errors.New("sink offline")
}

func fixedClock() func() time.Time {
	t := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func newTestEngine(t *testing.T, mem *store.Memory, pub broadcast.Publisher) *Engine {
	t.Helper()
	e, err := NewEngine(model.DefaultGridConfig(), mem, mem, pub, nil, nil, WithClock(fixedClock()))
	require.NoError(t, err)
	return e
}

func TestNewEngine_InvalidConfig(t *testing.T) {
	cfg := model.DefaultGridConfig()
	cfg.MinPrice = 20
	_, err := NewEngine(cfg, nil, nil, nil, nil, nil)
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
}

func TestTick_ShortageScenario(t *testing.T) {
	mem := store.NewMemory(45, 48)
	pub := &recordingPublisher{}
	rec := &recordingRecorder{}
	e, err := NewEngine(model.DefaultGridConfig(), mem, mem, pub, rec, nil, WithClock(fixedClock()))
	require.NoError(t, err)

	m := e.Tick(context.Background())
	assert.Equal(t, 45.0, m.Supply)
	assert.Equal(t, 48.0, m.Demand)
	assert.Equal(t, 3.0, m.Imbalance)
	assert.Equal(t, model.StatusShortage, m.Status)
	assert.Equal(t, 6.14, m.Price)
	assert.Equal(t, 85.0, m.HealthScore)
	assert.NotEmpty(t, m.ID)

	require.Len(t, pub.events, 1)
	assert.Equal(t, broadcast.TopicGridUpdate, pub.events[0].topic)
	assert.Equal(t, broadcast.Global, pub.events[0].scope)
	assert.Equal(t, m, pub.events[0].payload)

	require.Len(t, mem.GridRecords(), 1)
	assert.Len(t, rec.samples, 1)

	last, ok := e.Last()
	require.True(t, ok)
	assert.Equal(t, m, last)
}

func TestTick_StorageFailureUsesFallback(t *testing.T) {
	mem := store.NewMemory(10, 10)
	mem.SetFailures(true, true)
	pub := &recordingPublisher{}
	e := newTestEngine(t, mem, pub)

	m := e.Tick(context.Background())
	assert.Equal(t, FallbackSupply, m.Supply)
	assert.Equal(t, FallbackDemand, m.Demand)
	assert.Equal(t, model.StatusShortage, m.Status)
	assert.Len(t, pub.events, 1, "publication happens even when persistence fails")
	assert.Empty(t, mem.GridRecords())
}

func TestTick_CustomFallbackAndNilSource(t *testing.T) {
	e, err := NewEngine(model.DefaultGridConfig(), nil, nil, nil, nil, nil, WithFallback(50, 50))
	require.NoError(t, err)
	m := e.Tick(context.Background())
	assert.Equal(t, model.StatusBalanced, m.Status)
	assert.Equal(t, 6.0, m.Price)
}

func TestComputeAdaptivePrice_StaysWithinBounds(t *testing.T) {
	e := newTestEngine(t, store.NewMemory(0, 0), nil)
	cfg := e.Config()
	for _, imb := range []float64{1000, -1000, 55, -3, 0, 1e6, -1e6} {
		p := e.ComputeAdaptivePrice(imb)
		assert.GreaterOrEqual(t, p, cfg.MinPrice)
		assert.LessOrEqual(t, p, cfg.MaxPrice)
	}
}

func TestComputeAdaptivePrice_ConvergesToTarget(t *testing.T) {
	e := newTestEngine(t, store.NewMemory(0, 0), nil)
	var p float64
	for i := 0; i < 100; i++ {
		p = e.ComputeAdaptivePrice(1000)
	}
	assert.Equal(t, 12.0, p)
}

func TestComputeAdaptivePrice_AlphaZeroFreezes(t *testing.T) {
	e := newTestEngine(t, store.NewMemory(0, 0), nil)
	zero := 0.0
	_, err := e.Reconfigure(model.GridConfigPatch{SmoothingFactor: &zero})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		assert.Equal(t, 6.0, e.ComputeAdaptivePrice(40))
	}
}

func TestComputeAdaptivePrice_AlphaOneTracksTarget(t *testing.T) {
	e := newTestEngine(t, store.NewMemory(0, 0), nil)
	one := 1.0
	_, err := e.Reconfigure(model.GridConfigPatch{SmoothingFactor: &one})
	require.NoError(t, err)
	assert.Equal(t, 6.45, e.ComputeAdaptivePrice(3))
	assert.Equal(t, 3.0, e.ComputeAdaptivePrice(-100))
}

func TestPriceHistory_BoundedFIFO(t *testing.T) {
	e := newTestEngine(t, store.NewMemory(0, 0), nil)
	for i := 0; i < 25; i++ {
		e.ComputeAdaptivePrice(float64(i))
	}
	snap := e.Snapshot()
	require.Len(t, snap.PriceHistory, priceHistoryCap)
	assert.Equal(t, snap.CurrentPrice, snap.PriceHistory[priceHistoryCap-1])
}

func TestMovingAveragePrice(t *testing.T) {
	e := newTestEngine(t, store.NewMemory(0, 0), nil)
	assert.Equal(t, 6.0, e.MovingAveragePrice())

	one := 1.0
	_, err := e.Reconfigure(model.GridConfigPatch{SmoothingFactor: &one})
	require.NoError(t, err)
	e.ComputeAdaptivePrice(20) // 9
	e.ComputeAdaptivePrice(40) // 12
	assert.Equal(t, 10.5, e.MovingAveragePrice())
}

func TestReconfigure_AtomicOnError(t *testing.T) {
	e := newTestEngine(t, store.NewMemory(0, 0), nil)
	before := e.Config()

	badMin := 20.0
	_, err := e.Reconfigure(model.GridConfigPatch{MinPrice: &badMin})
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
	assert.Equal(t, before, e.Config())

	alpha := 1.5
	_, err = e.Reconfigure(model.GridConfigPatch{SmoothingFactor: &alpha})
	assert.ErrorIs(t, err, model.ErrInvalidConfig)

	threshold := 5.0
	cfg, err := e.Reconfigure(model.GridConfigPatch{Threshold: &threshold})
	require.NoError(t, err)
	assert.Equal(t, 5.0, cfg.Threshold)
	assert.Equal(t, model.StatusBalanced, e.ClassifyStatus(3))
}

func TestReconfigure_KeepsPriceState(t *testing.T) {
	e := newTestEngine(t, store.NewMemory(0, 0), nil)
	p := e.ComputeAdaptivePrice(10)
	base := 7.0
	_, err := e.Reconfigure(model.GridConfigPatch{BasePrice: &base})
	require.NoError(t, err)
	assert.Equal(t, p, e.Snapshot().CurrentPrice)
	assert.Len(t, e.Snapshot().PriceHistory, 1)
}

func TestState_NoSideEffects(t *testing.T) {
	mem := store.NewMemory(40, 30)
	pub := &recordingPublisher{}
	e := newTestEngine(t, mem, pub)

	s := e.State(context.Background())
	assert.Equal(t, -10.0, s.Imbalance)
	assert.Equal(t, model.StatusOversupply, s.Status)
	assert.Equal(t, 6.0, s.Price)
	assert.Equal(t, 50.0, s.HealthScore)
	assert.Empty(t, pub.events)
	assert.Empty(t, e.Snapshot().PriceHistory)
	_, ok := e.Last()
	assert.False(t, ok)
}

func TestHistory(t *testing.T) {
	mem := store.NewMemory(45, 48)
	e, err := NewEngine(model.DefaultGridConfig(), mem, mem, nil, nil, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		e.Tick(context.Background())
	}
	hist := e.History(context.Background(), 1)
	require.Len(t, hist, 3)
	assert.False(t, hist[0].Timestamp.Before(hist[2].Timestamp))

	mem.SetFailures(true, false)
	assert.Empty(t, e.History(context.Background(), 1))
}

func TestHistory_LargeHoursCapped(t *testing.T) {
	mem := store.NewMemory(45, 48)
	e, err := NewEngine(model.DefaultGridConfig(), mem, mem, nil, nil, nil)
	require.NoError(t, err)
	e.Tick(context.Background())
	assert.Len(t, e.History(context.Background(), 1<<40), 1)
}

func TestHealthScore_MatchesTickAndState(t *testing.T) {
	mem := store.NewMemory(45, 48)
	e, err := NewEngine(model.DefaultGridConfig(), mem, mem, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 85.0, e.HealthScore(3))
	assert.Equal(t, e.HealthScore(3), e.Tick(context.Background()).HealthScore)
	assert.Equal(t, e.HealthScore(3), e.State(context.Background()).HealthScore)
}

func TestHistory_NoReader(t *testing.T) {
	e, err := NewEngine(model.DefaultGridConfig(), nil, nil, nil, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, e.History(context.Background(), 24))
	assert.Empty(t, e.History(context.Background(), 24))
}

func TestTick_Concurrent(t *testing.T) {
	mem := store.NewMemory(45, 48)
	e := newTestEngine(t, mem, nil)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Tick(context.Background())
		}()
	}
	wg.Wait()
	assert.Len(t, mem.GridRecords(), 10)
	assert.Len(t, e.Snapshot().PriceHistory, 10)
}
