package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/gridx/core/metrics"
	"github.com/kilianp07/gridx/core/model"
)

// PromSink exposes grid and meter samples as Prometheus metrics.
type PromSink struct {
	price     prometheus.Gauge
	supply    prometheus.Gauge
	demand    prometheus.Gauge
	imbalance prometheus.Gauge
	health    prometheus.Gauge
	status    *prometheus.CounterVec
	meterNet  *prometheus.GaugeVec
	roles     *prometheus.CounterVec
}

// NewPromSink registers the sink metrics on the default Prometheus registerer.
// The HTTP endpoint is served separately by StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// already registered by a previous sink are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{}
	var err error
	if s.price, err = registerGauge(reg, "grid_price", "Smoothed adaptive energy price"); err != nil {
		return nil, err
	}
	if s.supply, err = registerGauge(reg, "grid_supply_kw", "Aggregate supply of active producers"); err != nil {
		return nil, err
	}
	if s.demand, err = registerGauge(reg, "grid_demand_kw", "Aggregate load of active consumers"); err != nil {
		return nil, err
	}
	if s.imbalance, err = registerGauge(reg, "grid_imbalance_kw", "Demand minus supply"); err != nil {
		return nil, err
	}
	if s.health, err = registerGauge(reg, "grid_health_score", "Imbalance based health score in [0,100]"); err != nil {
		return nil, err
	}
	if s.status, err = registerCounterVec(reg, "grid_status_total", "Grid ticks per status", "status"); err != nil {
		return nil, err
	}
	meterNet := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "meter_net_energy_kwh",
		Help: "Latest net energy (exported minus imported) per user",
	}, []string{"user_id"})
	if err := reg.Register(meterNet); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		meterNet = are.ExistingCollector.(*prometheus.GaugeVec)
	}
	s.meterNet = meterNet
	if s.roles, err = registerCounterVec(reg, "meter_role_total", "Meter readings per role", "role"); err != nil {
		return nil, err
	}
	return s, nil
}

func registerGauge(reg prometheus.Registerer, name, help string) (prometheus.Gauge, error) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	if err := reg.Register(g); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector.(prometheus.Gauge), nil
		}
		return nil, err
	}
	return g, nil
}

func registerCounterVec(reg prometheus.Registerer, name, help, label string) (*prometheus.CounterVec, error) {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, []string{label})
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector.(*prometheus.CounterVec), nil
		}
		return nil, err
	}
	return c, nil
}

// RecordGridMetrics updates the grid gauges and the status counter.
func (s *PromSink) RecordGridMetrics(m model.GridMetrics) error {
	s.price.Set(m.Price)
	s.supply.Set(m.Supply)
	s.demand.Set(m.Demand)
	s.imbalance.Set(m.Imbalance)
	s.health.Set(m.HealthScore)
	s.status.WithLabelValues(string(m.Status)).Inc()
	return nil
}

// RecordMeterReading updates the per-user net energy and the role counter.
func (s *PromSink) RecordMeterReading(r model.MeterReading) error {
	s.meterNet.WithLabelValues(r.UserID).Set(r.NetEnergy)
	s.roles.WithLabelValues(string(r.Role)).Inc()
	return nil
}

// ForgetUser drops the per-user series of userID.
func (s *PromSink) ForgetUser(userID string) {
	s.meterNet.DeleteLabelValues(userID)
}

var _ coremetrics.Sink = (*PromSink)(nil)
