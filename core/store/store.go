package store

import (
	"context"
	"errors"
	"time"

	"github.com/kilianp07/gridx/core/model"
)

// ErrStorageUnavailable wraps any failure of the backing store. Engines treat
// it as recoverable.
var ErrStorageUnavailable = errors.New("storage unavailable")

// MaxHistoryHours caps every history window.
const MaxHistoryHours = 24 * 365

// HistoryWindow turns a window in hours into a duration. Non-positive
// values mean 24 hours and larger values are capped at MaxHistoryHours.
func HistoryWindow(hours int) time.Duration {
	if hours <= 0 {
		hours = 24
	}
	if hours > MaxHistoryHours {
		hours = MaxHistoryHours
	}
	return time.Duration(hours) * time.Hour
}

// Aggregate selects which instantaneous grid total to read.
type Aggregate int

const (
	// Supply is the summed output of active producer nodes.
	Supply Aggregate = iota
	// Demand is the summed load of active consumer nodes.
	Demand
)

func (a Aggregate) String() string {
	switch a {
	case Supply:
		return "supply"
	case Demand:
		return "demand"
	default:
		return "unknown"
	}
}

// GridSource reads aggregate supply and demand.
type GridSource interface {
	ReadAggregate(ctx context.Context, kind Aggregate) (float64, error)
}

// GridWriter persists stability samples.
type GridWriter interface {
	WriteGridMetrics(ctx context.Context, m model.GridMetrics) error
}

// GridHistoryReader returns persisted samples newer than since, most recent
// first, at most limit rows.
type GridHistoryReader interface {
	GridHistory(ctx context.Context, since time.Time, limit int) ([]model.GridMetrics, error)
}

// MeterWriter appends meter readings.
type MeterWriter interface {
	WriteMeterReading(ctx context.Context, r model.MeterReading) error
}

// MeterHistoryReader returns persisted readings of one user, most recent first.
type MeterHistoryReader interface {
	MeterHistory(ctx context.Context, userID string, since time.Time, limit int) ([]model.MeterReading, error)
}

// MeterEntityLister lists users that have at least one persisted reading.
type MeterEntityLister interface {
	MeterUsers(ctx context.Context) ([]string, error)
}

// Store is implemented by full persistence backends.
type Store interface {
	GridSource
	GridWriter
	GridHistoryReader
	MeterWriter
	MeterHistoryReader
	MeterEntityLister
	Close() error
}
