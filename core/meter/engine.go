// Package meter simulates per-user smart meters: each tick generates a
// reading, classifies the user as Buyer, Seller or Prosumer, keeps the
// latest reading per user and publishes it.
package meter

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"github.com/kilianp07/gridx/core/broadcast"
	"github.com/kilianp07/gridx/core/logger"
	"github.com/kilianp07/gridx/core/metrics"
	"github.com/kilianp07/gridx/core/model"
	"github.com/kilianp07/gridx/core/store"
)

const (
	// DefaultStorageTimeout bounds every storage call made by a tick.
	DefaultStorageTimeout = 2 * time.Second
	historyLimit          = 288
)

// Option customizes a Simulation.
type Option func(*Simulation)

// WithClock overrides the time source. The hour of the returned time drives
// the generator.
func WithClock(now func() time.Time) Option {
	return func(s *Simulation) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTimeout sets the per-call storage timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Simulation) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Simulation is the meter simulation engine.
type Simulation struct {
	src Source
	w   store.MeterWriter
	pub broadcast.Publisher
	rec metrics.MeterRecorder
	log logger.Logger

	now     func() time.Time
	timeout time.Duration

	mu     sync.RWMutex
	latest map[string]model.MeterReading
	locks  map[string]*sync.Mutex
	// generation of each user, bumped by Forget
	gens map[string]uint64
}

// NewSimulation wires a simulation. Nil collaborators are replaced by no-op
// implementations; a nil source uses a time-seeded Generator.
func NewSimulation(src Source, w store.MeterWriter, pub broadcast.Publisher, rec metrics.MeterRecorder, log logger.Logger, opts ...Option) *Simulation {
	if src == nil {
		src = NewGenerator(time.Now().UnixNano())
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
	s := &Simulation{
		src:     src,
		w:       w,
		pub:     pub,
		rec:     rec,
		log:     log,
		now:     time.Now,
		timeout: DefaultStorageTimeout,
		latest:  make(map[string]model.MeterReading),
		locks:   make(map[string]*sync.Mutex),
		gens:    make(map[string]uint64),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Simulation) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

func (s *Simulation) generation(userID string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gens[userID]
}

func (s *Simulation) forgottenSince(userID string, gen uint64) bool {
	return s.generation(userID) != gen
}

// Tick produces one reading for userID, stores it as the user's latest,
// persists it and publishes it globally and to the user's scope. A reading
// whose user was forgotten while the tick ran is returned but not kept,
// published or recorded.
func (s *Simulation) Tick(ctx context.Context, userID string) model.MeterReading {
	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()
	gen := s.generation(userID)

	ts := s.now()
	imported, exported := s.src.Generate(ts.Hour())
	net := round2(exported - imported)
	r := model.MeterReading{
		ID:        uuid.NewString(),
		UserID:    userID,
		Imported:  imported,
		Exported:  exported,
		NetEnergy: net,
		Role:      ClassifyRole(net),
		Timestamp: ts,
	}

	s.mu.Lock()
	if s.gens[userID] != gen {
		s.mu.Unlock()
		s.log.Debugf("drop reading of forgotten user %s", userID)
		return r
	}
	s.latest[userID] = r
	s.mu.Unlock()

	s.persist(ctx, r)
	if s.forgottenSince(userID, gen) {
		return r
	}
	s.pub.Publish(broadcast.TopicMeterUpdate, r, broadcast.Global)
	s.pub.Publish(broadcast.TopicMyMeterUpdate, r, userID)
	if err := s.rec.RecordMeterReading(r); err != nil {
		s.log.Warnf("meter metrics sink: %v", err)
	}
	return r
}

func (s *Simulation) persist(ctx context.Context, r model.MeterReading) {
	if s.w == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.w.WriteMeterReading(ctx, r); err != nil {
		s.log.Errorf("persist meter reading for %s: %v", r.UserID, err)
	}
}

// Latest returns the most recent reading of userID.
func (s *Simulation) Latest(userID string) (model.MeterReading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.latest[userID]
	return r, ok
}

// All returns the latest reading of every tracked user, ordered by user id.
func (s *Simulation) All() []model.MeterReading {
	s.mu.RLock()
	out := make([]model.MeterReading, 0, len(s.latest))
	for _, r := range s.latest {
		out = append(out, r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Forget drops the latest reading of userID. A tick of userID still in
// flight finishes without bringing the reading back. The per-user lock is
// kept so a later tick never overlaps that run.
func (s *Simulation) Forget(userID string) {
	s.mu.Lock()
	delete(s.latest, userID)
	s.gens[userID]++
	s.mu.Unlock()
}

// AggregateStats folds over the latest reading of every tracked user.
func (s *Simulation) AggregateStats() model.AggregateStats {
	all := s.All()
	imported := make([]float64, len(all))
	exported := make([]float64, len(all))
	net := make([]float64, len(all))
	var st model.AggregateStats
	for i, r := range all {
		imported[i], exported[i], net[i] = r.Imported, r.Exported, r.NetEnergy
		switch r.Role {
		case model.RoleBuyer:
			st.BuyerCount++
		case model.RoleSeller:
			st.SellerCount++
		default:
			st.ProsumerCount++
		}
	}
	st.TotalImported = round2(floats.Sum(imported))
	st.TotalExported = round2(floats.Sum(exported))
	st.TotalNet = round2(floats.Sum(net))
	return st
}

// History returns the persisted readings of userID over the last hours,
// most recent first and at most 288 of them. It returns an empty slice when
// the store cannot answer.
func (s *Simulation) History(ctx context.Context, userID string, hours int) []model.MeterReading {
	reader, ok := s.w.(store.MeterHistoryReader)
	if !ok {
		return []model.MeterReading{}
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	since := s.now().Add(-store.HistoryWindow(hours))
	rows, err := reader.MeterHistory(ctx, userID, since, historyLimit)
	if err != nil {
		s.log.Warnf("meter history for %s unavailable: %v", userID, err)
		return []model.MeterReading{}
	}
	if len(rows) > historyLimit {
		rows = rows[:historyLimit]
	}
	return rows
}

// Tracked lists the users known to the store, merged with the users held in
// memory.
func (s *Simulation) Tracked(ctx context.Context) []string {
	seen := map[string]struct{}{}
	for _, r := range s.All() {
		seen[r.UserID] = struct{}{}
	}
	if lister, ok := s.w.(store.MeterEntityLister); ok {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		users, err := lister.MeterUsers(ctx)
		if err != nil {
			s.log.Warnf("list meter users: %v", err)
		}
		for _, u := range users {
			seen[u] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
