package scheduler

import (
	"strings"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// collectors is one set of scheduler metrics. A Scheduler keeps the set that
// was active when it was created, so runs outliving Close never touch a set
// installed later by ResetMetrics.
type collectors struct {
	total   *prometheus.CounterVec
	skipped *prometheus.CounterVec
	dur     *prometheus.HistogramVec
}

var active atomic.Pointer[collectors]

func currentCollectors() *collectors { return active.Load() }

func newCollectors() *collectors {
	total := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_ticks_total",
			Help: "Number of scheduled job runs",
		},
		[]string{"job"},
	)
	skipped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_ticks_skipped_total",
			Help: "Number of fires skipped because the previous run was still executing",
		},
		[]string{"job"},
	)
	dur := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_tick_duration_seconds",
			Help:    "Duration of scheduled job runs",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)
	return &collectors{total: total, skipped: skipped, dur: dur}
}

func init() {
	active.Store(newCollectors())
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers scheduler metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := currentCollectors()
	reg.MustRegister(c.total, c.skipped, c.dur)
}

// ResetMetrics reinitializes the collectors for testing purposes and
// registers them on the provided registry if not nil. Schedulers created
// before the reset keep recording into their previous collectors.
func ResetMetrics(reg prometheus.Registerer) {
	active.Store(newCollectors())
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}

// JobLabel is the metric label of key: the part before the first colon, so
// "meter:user-1" is reported as "meter".
func JobLabel(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}
