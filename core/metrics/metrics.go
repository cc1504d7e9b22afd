package metrics

import (
	"errors"

	"github.com/kilianp07/gridx/core/model"
)

// GridRecorder records grid stability samples.
type GridRecorder interface {
	RecordGridMetrics(m model.GridMetrics) error
}

// MeterRecorder records simulated meter readings.
type MeterRecorder interface {
	RecordMeterReading(r model.MeterReading) error
}

// Sink records both kinds of samples.
type Sink interface {
	GridRecorder
	MeterRecorder
}

// NopSink implements Sink with no-op methods.
type NopSink struct{}

func (NopSink) RecordGridMetrics(model.GridMetrics) error   { return nil }
func (NopSink) RecordMeterReading(model.MeterReading) error { return nil }

// MultiSink fans samples out to several sinks.
type MultiSink struct {
	Sinks []Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordGridMetrics forwards the sample to every sink and joins their errors.
func (m *MultiSink) RecordGridMetrics(g model.GridMetrics) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := s.RecordGridMetrics(g); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordMeterReading forwards the reading to every sink and joins their errors.
func (m *MultiSink) RecordMeterReading(r model.MeterReading) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := s.RecordMeterReading(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// UserForgetter is implemented by sinks that keep per-user series.
type UserForgetter interface {
	ForgetUser(userID string)
}

// ForgetUser forwards to every member implementing UserForgetter.
func (m *MultiSink) ForgetUser(userID string) {
	for _, s := range m.Sinks {
		if f, ok := s.(UserForgetter); ok {
			f.ForgetUser(userID)
		}
	}
}

// Close closes every member that holds a connection.
func (m *MultiSink) Close() {
	for _, s := range m.Sinks {
		if c, ok := s.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
