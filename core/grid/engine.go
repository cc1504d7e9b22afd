// Package grid turns aggregate supply and demand into a grid status, a
// smoothed adaptive price and a display health score, once per tick.
package grid

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/gridx/core/broadcast"
	"github.com/kilianp07/gridx/core/logger"
	"github.com/kilianp07/gridx/core/metrics"
	"github.com/kilianp07/gridx/core/model"
	"github.com/kilianp07/gridx/core/store"
)

const (
	// DefaultStorageTimeout bounds every storage call made by a tick.
	DefaultStorageTimeout = 2 * time.Second
	// FallbackSupply and FallbackDemand are used when the store cannot answer.
	FallbackSupply = 45.0
	FallbackDemand = 48.0

	priceHistoryCap = 20
	historyLimit    = 100
)

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithTimeout sets the per-call storage timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithFallback sets the aggregates substituted for failed reads.
func WithFallback(supply, demand float64) Option {
	return func(e *Engine) {
		e.fallbackSupply, e.fallbackDemand = supply, demand
	}
}

// Engine is the grid stability engine. It is safe for concurrent use; ticks
// are serialized.
type Engine struct {
	cfgMu sync.RWMutex
	cfg   model.GridConfig

	mu      sync.Mutex
	current float64
	history []float64
	last    model.GridMetrics
	hasLast bool

	tickMu sync.Mutex

	src  store.GridSource
	sink store.GridWriter
	pub  broadcast.Publisher
	rec  metrics.GridRecorder
	log  logger.Logger

	now            func() time.Time
	timeout        time.Duration
	fallbackSupply float64
	fallbackDemand float64
}

// NewEngine validates cfg and returns an engine whose current price starts at
// the base price. Nil collaborators are replaced by no-op implementations.
func NewEngine(cfg model.GridConfig, src store.GridSource, sink store.GridWriter, pub broadcast.Publisher, rec metrics.GridRecorder, log logger.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if pub == nil {
		pub = broadcast.Nop{}
	}
	if rec == nil {
		rec = metrics.NopSink{}
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	e := &Engine{
		cfg:            cfg,
		current:        cfg.BasePrice,
		history:        make([]float64, 0, priceHistoryCap),
		src:            src,
		sink:           sink,
		pub:            pub,
		rec:            rec,
		log:            log,
		now:            time.Now,
		timeout:        DefaultStorageTimeout,
		fallbackSupply: FallbackSupply,
		fallbackDemand: FallbackDemand,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() model.GridConfig {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// Reconfigure merges patch into the active configuration. The new config is
// validated as a whole and swapped atomically; on error nothing changes.
// Price state is kept.
func (e *Engine) Reconfigure(patch model.GridConfigPatch) (model.GridConfig, error) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	next := patch.Apply(e.cfg)
	if err := next.Validate(); err != nil {
		return e.cfg, err
	}
	e.cfg = next
	e.log.Infof("grid config updated: base=%.2f min=%.2f max=%.2f elasticity=%.3f threshold=%.2f alpha=%.2f",
		next.BasePrice, next.MinPrice, next.MaxPrice, next.Elasticity, next.Threshold, next.SmoothingFactor)
	return next, nil
}

// ClassifyStatus classifies imbalance with the active threshold.
func (e *Engine) ClassifyStatus(imbalance float64) model.GridStatus {
	return ClassifyStatus(imbalance, e.Config().Threshold)
}

// HealthScore is the display health for imbalance.
func (e *Engine) HealthScore(imbalance float64) float64 {
	return HealthScore(imbalance)
}

// ComputeAdaptivePrice advances the smoothed price by one step towards the
// clamped imbalance price and returns it rounded to two decimals. The price
// history keeps the last 20 unrounded values.
func (e *Engine) ComputeAdaptivePrice(imbalance float64) float64 {
	return e.computeAdaptivePrice(e.Config(), imbalance)
}

func (e *Engine) computeAdaptivePrice(cfg model.GridConfig, imbalance float64) float64 {
	target := TargetPrice(cfg, imbalance)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = Smooth(cfg.SmoothingFactor, target, e.current)
	if len(e.history) == priceHistoryCap {
		copy(e.history, e.history[1:])
		e.history = e.history[:priceHistoryCap-1]
	}
	e.history = append(e.history, e.current)
	return Round2(e.current)
}

// MovingAveragePrice is the mean of the price history, or the base price
// when no tick happened yet.
func (e *Engine) MovingAveragePrice() float64 {
	e.mu.Lock()
	hist := append([]float64(nil), e.history...)
	e.mu.Unlock()
	if len(hist) == 0 {
		return Round2(e.Config().BasePrice)
	}
	return Round2(stat.Mean(hist, nil))
}

// Snapshot reports the pricing state.
func (e *Engine) Snapshot() model.PriceSnapshot {
	cfg := e.Config()
	e.mu.Lock()
	hist := make([]float64, len(e.history))
	for i, p := range e.history {
		hist[i] = Round2(p)
	}
	current := e.current
	e.mu.Unlock()
	return model.PriceSnapshot{
		CurrentPrice:  Round2(current),
		BasePrice:     cfg.BasePrice,
		MinPrice:      cfg.MinPrice,
		MaxPrice:      cfg.MaxPrice,
		PriceHistory:  hist,
		MovingAverage: e.MovingAveragePrice(),
	}
}

// Tick samples the grid once: it reads the aggregates, classifies, reprices,
// publishes GRID_UPDATE and persists the sample. Storage failures never
// abort a tick.
func (e *Engine) Tick(ctx context.Context) model.GridMetrics {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	supply := e.readAggregate(ctx, store.Supply, e.fallbackSupply)
	demand := e.readAggregate(ctx, store.Demand, e.fallbackDemand)
	imbalance := demand - supply

	cfg := e.Config()
	m := model.GridMetrics{
		ID:          uuid.NewString(),
		Supply:      Round2(supply),
		Demand:      Round2(demand),
		Imbalance:   Round2(imbalance),
		Status:      ClassifyStatus(imbalance, cfg.Threshold),
		Price:       e.computeAdaptivePrice(cfg, imbalance),
		HealthScore: e.HealthScore(imbalance),
		Timestamp:   e.now(),
	}

	e.mu.Lock()
	e.last, e.hasLast = m, true
	e.mu.Unlock()

	e.pub.Publish(broadcast.TopicGridUpdate, m, broadcast.Global)
	e.persist(ctx, m)
	if err := e.rec.RecordGridMetrics(m); err != nil {
		e.log.Warnf("grid metrics sink: %v", err)
	}
	e.log.Debugw("grid tick", map[string]any{
		"supply": m.Supply, "demand": m.Demand, "status": string(m.Status), "price": m.Price,
	})
	return m
}

// State reports the live grid status without advancing the price.
func (e *Engine) State(ctx context.Context) model.GridMetrics {
	supply := e.readAggregate(ctx, store.Supply, e.fallbackSupply)
	demand := e.readAggregate(ctx, store.Demand, e.fallbackDemand)
	imbalance := demand - supply

	e.mu.Lock()
	current := e.current
	e.mu.Unlock()

	return model.GridMetrics{
		Supply:      Round2(supply),
		Demand:      Round2(demand),
		Imbalance:   Round2(imbalance),
		Status:      e.ClassifyStatus(imbalance),
		Price:       Round2(current),
		HealthScore: e.HealthScore(imbalance),
		Timestamp:   e.now(),
	}
}

// Last returns the most recent tick sample.
func (e *Engine) Last() (model.GridMetrics, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last, e.hasLast
}

// History returns persisted samples of the last hours, most recent first and
// at most 100 of them. It returns an empty slice when the store cannot
// answer.
func (e *Engine) History(ctx context.Context, hours int) []model.GridMetrics {
	reader, ok := e.sink.(store.GridHistoryReader)
	if !ok {
		reader, ok = e.src.(store.GridHistoryReader)
	}
	if !ok {
		return []model.GridMetrics{}
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	since := e.now().Add(-store.HistoryWindow(hours))
	rows, err := reader.GridHistory(ctx, since, historyLimit)
	if err != nil {
		e.log.Warnf("grid history unavailable: %v", err)
		return []model.GridMetrics{}
	}
	if len(rows) > historyLimit {
		rows = rows[:historyLimit]
	}
	return rows
}

func (e *Engine) readAggregate(ctx context.Context, kind store.Aggregate, fallback float64) float64 {
	if e.src == nil {
		return fallback
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	v, err := e.src.ReadAggregate(ctx, kind)
	if err != nil {
		e.log.Warnf("read %s failed, using fallback %.2f: %v", kind, fallback, err)
		return fallback
	}
	return v
}

func (e *Engine) persist(ctx context.Context, m model.GridMetrics) {
	if e.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.sink.WriteGridMetrics(ctx, m); err != nil {
		e.log.Errorf("persist grid metrics %s: %v", m.ID, err)
	}
}
