// Package meter exposes the meter simulation under /api/meters.
package meter

import (
	"context"
	"net/http"
	"time"

	"github.com/kilianp07/gridx/api/httpx"
	"github.com/kilianp07/gridx/core/model"
)

// Simulation is the part of the meter engine served over HTTP.
type Simulation interface {
	Tick(ctx context.Context, userID string) model.MeterReading
	Latest(userID string) (model.MeterReading, bool)
	All() []model.MeterReading
	AggregateStats() model.AggregateStats
	History(ctx context.Context, userID string, hours int) []model.MeterReading
}

// Controller starts and stops periodic simulation of a user.
type Controller interface {
	StartMeter(userID string, interval time.Duration) error
	StopMeter(userID string) bool
}

// Fleet is implemented by controllers that manage every simulated user at
// once.
type Fleet interface {
	RemoveMeter(userID string) bool
	StartTracked(ctx context.Context) (int, error)
	StopAllMeters() int
	RunningMeters() []string
}

// Register mounts the meter routes on mux. ctl may be nil, in which case the
// start and stop routes are not served.
func Register(mux *http.ServeMux, sim Simulation, ctl Controller, defaultInterval time.Duration) {
	mux.HandleFunc("GET /api/meters", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, sim.All())
	})
	mux.HandleFunc("GET /api/meters/stats", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, sim.AggregateStats())
	})
	mux.HandleFunc("GET /api/meters/{user}", func(w http.ResponseWriter, r *http.Request) {
		reading, ok := sim.Latest(r.PathValue("user"))
		if !ok {
			httpx.Error(w, http.StatusNotFound, "no reading for user")
			return
		}
		httpx.WriteJSON(w, http.StatusOK, reading)
	})
	mux.HandleFunc("GET /api/meters/{user}/history", func(w http.ResponseWriter, r *http.Request) {
		hours, ok := httpx.IntQuery(r, "hours", 24)
		if !ok {
			httpx.Error(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		httpx.WriteJSON(w, http.StatusOK, sim.History(r.Context(), r.PathValue("user"), hours))
	})
	mux.HandleFunc("POST /api/meters/{user}/tick", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, sim.Tick(r.Context(), r.PathValue("user")))
	})
	if ctl == nil {
		return
	}
	mux.HandleFunc("POST /api/meters/{user}/start", func(w http.ResponseWriter, r *http.Request) {
		ms, ok := httpx.IntQuery(r, "interval_ms", int(defaultInterval/time.Millisecond))
		if !ok {
			httpx.Error(w, http.StatusBadRequest, "interval_ms must be a positive integer")
			return
		}
		user := r.PathValue("user")
		interval := time.Duration(ms) * time.Millisecond
		if err := ctl.StartMeter(user, interval); err != nil {
			httpx.Error(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		httpx.WriteJSON(w, http.StatusAccepted, map[string]any{"user_id": user, "interval_ms": ms, "running": true})
	})
	mux.HandleFunc("POST /api/meters/{user}/stop", func(w http.ResponseWriter, r *http.Request) {
		user := r.PathValue("user")
		stopped := ctl.StopMeter(user)
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"user_id": user, "stopped": stopped})
	})
	fleet, ok := ctl.(Fleet)
	if !ok {
		return
	}
	mux.HandleFunc("DELETE /api/meters/{user}", func(w http.ResponseWriter, r *http.Request) {
		user := r.PathValue("user")
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"user_id": user, "stopped": fleet.RemoveMeter(user)})
	})
	mux.HandleFunc("GET /api/meters/running", func(w http.ResponseWriter, _ *http.Request) {
		users := fleet.RunningMeters()
		if users == nil {
			users = []string{}
		}
		httpx.WriteJSON(w, http.StatusOK, users)
	})
	mux.HandleFunc("POST /api/meters/tracked/start", func(w http.ResponseWriter, r *http.Request) {
		n, err := fleet.StartTracked(r.Context())
		if err != nil {
			httpx.Error(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]int{"started": n})
	})
	mux.HandleFunc("POST /api/meters/stop-all", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]int{"stopped": fleet.StopAllMeters()})
	})
}
