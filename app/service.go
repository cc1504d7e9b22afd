package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	apigrid "github.com/kilianp07/gridx/api/grid"
	"github.com/kilianp07/gridx/api/httpx"
	apimeter "github.com/kilianp07/gridx/api/meter"
	"github.com/kilianp07/gridx/config"
	"github.com/kilianp07/gridx/core/grid"
	coremetrics "github.com/kilianp07/gridx/core/metrics"
	"github.com/kilianp07/gridx/core/meter"
	"github.com/kilianp07/gridx/core/monitoring"
	"github.com/kilianp07/gridx/core/scheduler"
	"github.com/kilianp07/gridx/core/store"
	"github.com/kilianp07/gridx/infra/logger"
	"github.com/kilianp07/gridx/infra/metrics"
	"github.com/kilianp07/gridx/infra/mqtt"
	"github.com/kilianp07/gridx/infra/storage"
	"github.com/kilianp07/gridx/infra/ws"
	"github.com/kilianp07/gridx/internal/eventbus"
)

const (
	gridJob     = "grid"
	meterPrefix = "meter:"
	hubBuffer   = 64
)

// Service wires the stability engine, the meter simulation and their
// schedules to storage, metrics and the broadcast bridges.
type Service struct {
	Grid      *grid.Engine
	Meters    *meter.Simulation
	Scheduler *scheduler.Scheduler
	Hub       *eventbus.Hub

	cfg    *config.Config
	store  store.Store
	sink   coremetrics.Sink
	bridge *mqtt.Bridge
	ws     *ws.Server
	log    logger.Logger

	closeOnce sync.Once
}

// newBridge is replaced in tests.
var newBridge = mqtt.NewBridge

// New creates a Service from the configuration. Storage that cannot be
// reached is replaced by the in-memory store so the service still runs.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	logger.Configure(cfg.Logging.Level, cfg.Logging.Format)
	logg := logger.New("service")

	st := openStore(ctx, cfg.Storage, logg)

	sink, err := coremetrics.NewSink(cfg.Metrics.Sinks)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("metrics sink: %w", err)
	}

	hub := eventbus.NewHub(hubBuffer)
	svc := &Service{
		Hub:   hub,
		cfg:   cfg,
		store: st,
		sink:  sink,
		ws:    ws.NewServer(hub),
		log:   logg,
	}

	if cfg.MQTT.Enabled {
		b, err := newBridge(cfg.MQTT)
		if err != nil {
			logg.Warnf("mqtt bridge disabled: %v", err)
		} else {
			svc.bridge = b
		}
	}

	timeout := cfg.Scheduler.StorageTimeout()
	svc.Grid, err = grid.NewEngine(cfg.Grid, st, st, hub, sink, logger.New("grid"), grid.WithTimeout(timeout))
	if err != nil {
		_ = svc.Close()
		return nil, fmt.Errorf("grid engine: %w", err)
	}
	var src meter.Source
	if cfg.Simulation.Seed != 0 {
		src = meter.NewGenerator(cfg.Simulation.Seed)
	}
	svc.Meters = meter.NewSimulation(src, st, hub, sink, logger.New("meter"), meter.WithTimeout(timeout))
	svc.Scheduler = scheduler.New(logger.New("scheduler"))
	return svc, nil
}

func openStore(ctx context.Context, cfg storage.Config, log logger.Logger) store.Store {
	if cfg.Backend == storage.BackendMemory {
		return store.NewMemory(grid.FallbackSupply, grid.FallbackDemand)
	}
	st, err := storage.Open(ctx, cfg)
	if err != nil {
		log.Warnf("storage %s unavailable, running on in-memory store: %v", cfg.Backend, err)
		monitoring.CaptureException(err, map[string]string{"component": "storage"})
		return store.NewMemory(grid.FallbackSupply, grid.FallbackDemand)
	}
	log.Infof("storage backend %s ready", cfg.Backend)
	return st
}

// Handler returns the HTTP API, the websocket endpoint and /health.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", httpx.Health)
	mux.Handle("GET /ws", s.ws)
	var uptime apigrid.UptimeSource
	if u, ok := s.store.(apigrid.UptimeSource); ok {
		uptime = u
	}
	apigrid.Register(mux, s.Grid, uptime)
	apimeter.Register(mux, s.Meters, s, s.cfg.Scheduler.MeterInterval())
	return mux
}

// Start schedules the grid monitor and the configured roster.
func (s *Service) Start() error {
	if err := s.Scheduler.Schedule(gridJob, s.cfg.Scheduler.GridInterval(), func(ctx context.Context) {
		s.Grid.Tick(ctx)
	}, false); err != nil {
		return err
	}
	if s.cfg.Simulation.Disabled {
		return nil
	}
	users, err := s.cfg.Simulation.Roster()
	if err != nil {
		return fmt.Errorf("roster: %w", err)
	}
	for _, u := range users {
		if err := s.StartMeter(u, 0); err != nil {
			return err
		}
	}
	s.log.Infof("simulating %d meters", len(users))
	return nil
}

// StartMeter ticks userID's meter now and then every interval. A zero
// interval uses the configured default. Restarting a running meter replaces
// its schedule.
func (s *Service) StartMeter(userID string, interval time.Duration) error {
	if userID == "" {
		return errors.New("user id required")
	}
	if interval <= 0 {
		interval = s.cfg.Scheduler.MeterInterval()
	}
	return s.Scheduler.Schedule(meterPrefix+userID, interval, func(ctx context.Context) {
		s.Meters.Tick(ctx, userID)
	}, true)
}

// StopMeter cancels userID's schedule. The latest reading stays available.
func (s *Service) StopMeter(userID string) bool {
	return s.Scheduler.Cancel(meterPrefix + userID)
}

// RemoveMeter stops userID's schedule and drops its latest reading and
// per-user metric series.
func (s *Service) RemoveMeter(userID string) bool {
	stopped := s.StopMeter(userID)
	s.Meters.Forget(userID)
	if f, ok := s.sink.(coremetrics.UserForgetter); ok {
		f.ForgetUser(userID)
	}
	return stopped
}

// StartTracked starts a schedule for every user found in storage that is not
// already simulated and returns the number started.
func (s *Service) StartTracked(ctx context.Context) (int, error) {
	n := 0
	for _, u := range s.Meters.Tracked(ctx) {
		if s.Scheduler.Has(meterPrefix + u) {
			continue
		}
		if err := s.StartMeter(u, 0); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// StopAllMeters cancels every meter schedule and returns how many ran.
func (s *Service) StopAllMeters() int {
	n := 0
	for _, key := range s.Scheduler.Active() {
		if strings.HasPrefix(key, meterPrefix) && s.Scheduler.Cancel(key) {
			n++
		}
	}
	return n
}

// RunningMeters lists the users with an active schedule.
func (s *Service) RunningMeters() []string {
	var users []string
	for _, key := range s.Scheduler.Active() {
		if u, ok := strings.CutPrefix(key, meterPrefix); ok {
			users = append(users, u)
		}
	}
	sort.Strings(users)
	return users
}

// Run starts the schedules and servers and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	if s.bridge != nil {
		go s.bridge.Forward(ctx, s.Hub.Subscribe("", eventbus.AnyScope))
	}
	if s.promEnabled() {
		go func() {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.PrometheusAddress); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	srv := &http.Server{Addr: s.cfg.HTTP.Address, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("listening on %s", s.cfg.HTTP.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(s.cfg.HTTP.ShutdownTimeoutMS)*time.Millisecond)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Errorf("http shutdown: %v", err)
	}
	return nil
}

func (s *Service) promEnabled() bool {
	for _, c := range s.cfg.Metrics.Sinks {
		if c.Type == "prometheus" {
			return true
		}
	}
	return false
}

// Close drains the scheduler and releases storage, bridges and sinks.
func (s *Service) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		if s.Scheduler != nil {
			if err := s.Scheduler.Close(s.cfg.Scheduler.ShutdownGrace()); err != nil {
				errs = append(errs, err)
			}
		}
		s.Hub.Close()
		if s.bridge != nil {
			s.bridge.Disconnect()
		}
		if c, ok := s.sink.(interface{ Close() }); ok {
			c.Close()
		}
		if err := s.store.Close(); err != nil {
			errs = append(errs, err)
		}
		monitoring.Flush(2 * time.Second)
	})
	return errors.Join(errs...)
}
