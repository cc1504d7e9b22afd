package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kilianp07/gridx/core/logger"
	"github.com/kilianp07/gridx/core/monitoring"
)

var (
	// ErrClosed is returned by Schedule after Close.
	ErrClosed = errors.New("scheduler closed")
	// ErrShutdownTimeout is returned by Close when in-flight runs did not
	// finish within the grace period.
	ErrShutdownTimeout = errors.New("scheduler shutdown timed out")
)

// Job is one unit of periodic work. The context is cancelled only when a
// shutdown exceeds its grace period.
type Job func(ctx context.Context)

type entry struct {
	cancel  context.CancelFunc
	running *atomic.Bool
	label   string
}

// Scheduler runs keyed periodic jobs.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	wg        sync.WaitGroup
	runCtx    context.Context
	runCancel context.CancelFunc
	log       logger.Logger
	metrics   *collectors
}

// New returns an empty scheduler.
func New(log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		entries:   make(map[string]*entry),
		runCtx:    ctx,
		runCancel: cancel,
		log:       log,
		metrics:   currentCollectors(),
	}
}

// Schedule registers job under key, replacing any previous schedule of that
// key. When immediate is set the job is dispatched once right away, then
// every interval.
func (s *Scheduler) Schedule(key string, interval time.Duration, job Job, immediate bool) error {
	if interval <= 0 {
		return fmt.Errorf("schedule %s: interval must be positive", key)
	}
	if job == nil {
		return fmt.Errorf("schedule %s: nil job", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	running := new(atomic.Bool)
	if old, ok := s.entries[key]; ok {
		old.cancel()
		// a run of the replaced schedule may still be in flight
		running = old.running
	}
	ctx, cancel := context.WithCancel(s.runCtx)
	e := &entry{cancel: cancel, running: running, label: JobLabel(key)}
	s.entries[key] = e

	if immediate {
		s.fire(key, e, job)
	}
	s.wg.Add(1)
	go s.loop(ctx, key, e, interval, job)
	s.log.Debugf("scheduled %s every %s", key, interval)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, key string, e *entry, interval time.Duration, job Job) {
	defer s.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if ctx.Err() != nil {
				return
			}
			s.fire(key, e, job)
		}
	}
}

// fire dispatches one run unless the previous run of the same key is still
// executing.
func (s *Scheduler) fire(key string, e *entry, job Job) {
	if !e.running.CompareAndSwap(false, true) {
		s.metrics.skipped.WithLabelValues(e.label).Inc()
		s.log.Debugf("skip %s: previous run still in flight", key)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer e.running.Store(false)
		s.run(key, e.label, job)
	}()
}

func (s *Scheduler) run(key, label string, job Job) {
	start := time.Now()
	defer func() {
		s.metrics.total.WithLabelValues(label).Inc()
		s.metrics.dur.WithLabelValues(label).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			s.log.Errorf("job %s panicked: %v", key, r)
			monitoring.CapturePanic(r, map[string]string{"job": label, "key": key})
		}
	}()
	job(s.runCtx)
}

// Cancel stops the schedule of key. Runs already started complete. It
// reports whether a schedule existed.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	e.cancel()
	delete(s.entries, key)
	s.log.Debugf("cancelled %s", key)
	return true
}

// Has reports whether key is scheduled.
func (s *Scheduler) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// Active lists the scheduled keys in lexical order.
func (s *Scheduler) Active() []string {
	s.mu.Lock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Close cancels every schedule and waits up to grace for in-flight runs.
// Past the grace period the run context is cancelled and
// ErrShutdownTimeout is returned.
func (s *Scheduler) Close(grace time.Duration) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for k, e := range s.entries {
		e.cancel()
		delete(s.entries, k)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.runCancel()
		return nil
	case <-time.After(grace):
		s.runCancel()
		s.log.Warnf("scheduler shutdown exceeded %s", grace)
		return ErrShutdownTimeout
	}
}
