package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/gridx/core/model"
)

// Memory keeps everything in process. It backs tests and the "memory"
// storage backend used when no database is reachable.
type Memory struct {
	mu       sync.RWMutex
	supply   float64
	demand   float64
	grid     []model.GridMetrics
	readings map[string][]model.MeterReading

	// FailReads and FailWrites inject ErrStorageUnavailable.
	FailReads  bool
	FailWrites bool
}

// NewMemory returns a store reporting the given aggregates.
func NewMemory(supply, demand float64) *Memory {
	return &Memory{supply: supply, demand: demand, readings: map[string][]model.MeterReading{}}
}

// SetAggregates replaces the reported supply and demand.
func (m *Memory) SetAggregates(supply, demand float64) {
	m.mu.Lock()
	m.supply, m.demand = supply, demand
	m.mu.Unlock()
}

// SetFailures toggles failure injection.
func (m *Memory) SetFailures(reads, writes bool) {
	m.mu.Lock()
	m.FailReads, m.FailWrites = reads, writes
	m.mu.Unlock()
}

func (m *Memory) ReadAggregate(ctx context.Context, kind Aggregate) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailReads {
		return 0, fmt.Errorf("%w: read %s", ErrStorageUnavailable, kind)
	}
	switch kind {
	case Supply:
		return m.supply, nil
	case Demand:
		return m.demand, nil
	default:
		return 0, fmt.Errorf("unknown aggregate %d", kind)
	}
}

func (m *Memory) WriteGridMetrics(_ context.Context, g model.GridMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return fmt.Errorf("%w: write grid metrics", ErrStorageUnavailable)
	}
	m.grid = append(m.grid, g)
	return nil
}

func (m *Memory) GridHistory(_ context.Context, since time.Time, limit int) ([]model.GridMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailReads {
		return nil, fmt.Errorf("%w: grid history", ErrStorageUnavailable)
	}
	res := make([]model.GridMetrics, 0)
	for i := len(m.grid) - 1; i >= 0; i-- {
		if limit > 0 && len(res) >= limit {
			break
		}
		if m.grid[i].Timestamp.After(since) {
			res = append(res, m.grid[i])
		}
	}
	return res, nil
}

func (m *Memory) WriteMeterReading(_ context.Context, r model.MeterReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return fmt.Errorf("%w: write meter reading", ErrStorageUnavailable)
	}
	m.readings[r.UserID] = append(m.readings[r.UserID], r)
	return nil
}

func (m *Memory) MeterHistory(_ context.Context, userID string, since time.Time, limit int) ([]model.MeterReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailReads {
		return nil, fmt.Errorf("%w: meter history", ErrStorageUnavailable)
	}
	rs := m.readings[userID]
	res := make([]model.MeterReading, 0)
	for i := len(rs) - 1; i >= 0; i-- {
		if limit > 0 && len(res) >= limit {
			break
		}
		if rs[i].Timestamp.After(since) {
			res = append(res, rs[i])
		}
	}
	return res, nil
}

func (m *Memory) MeterUsers(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailReads {
		return nil, fmt.Errorf("%w: meter users", ErrStorageUnavailable)
	}
	ids := make([]string, 0, len(m.readings))
	for id := range m.readings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// GridRecords returns a copy of every persisted grid sample in insertion order.
func (m *Memory) GridRecords() []model.GridMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.GridMetrics(nil), m.grid...)
}

// Readings returns a copy of the persisted series of one user.
func (m *Memory) Readings(userID string) []model.MeterReading {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.MeterReading(nil), m.readings[userID]...)
}

func (m *Memory) Close() error { return nil }
