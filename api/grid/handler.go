// Package grid exposes the stability engine under /api/grid-stability.
package grid

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/kilianp07/gridx/api/httpx"
	coregrid "github.com/kilianp07/gridx/core/grid"
	"github.com/kilianp07/gridx/core/model"
)

// Engine is the part of the stability engine served over HTTP.
type Engine interface {
	State(ctx context.Context) model.GridMetrics
	Tick(ctx context.Context) model.GridMetrics
	History(ctx context.Context, hours int) []model.GridMetrics
	Config() model.GridConfig
	Reconfigure(patch model.GridConfigPatch) (model.GridConfig, error)
	Snapshot() model.PriceSnapshot
}

// UptimeSource reports the mean uptime of active grid nodes.
type UptimeSource interface {
	NodeUptime(ctx context.Context) (float64, int, error)
}

// defaultUptime is reported when no node is registered.
const defaultUptime = 99.5

// Health is the node uptime health report.
type Health struct {
	Status      coregrid.HealthLevel `json:"status"`
	HealthScore float64              `json:"health_score"`
	ActiveNodes int                  `json:"active_nodes"`
	AvgUptime   float64              `json:"avg_uptime"`
	Timestamp   time.Time            `json:"timestamp"`
}

// Register mounts the grid routes on mux. uptime may be nil.
func Register(mux *http.ServeMux, e Engine, uptime UptimeSource) {
	mux.HandleFunc("GET /api/grid-stability/state", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, e.State(r.Context()))
	})
	mux.HandleFunc("POST /api/grid-stability/tick", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, e.Tick(r.Context()))
	})
	mux.HandleFunc("GET /api/grid-stability/history", func(w http.ResponseWriter, r *http.Request) {
		hours, ok := httpx.IntQuery(r, "hours", 24)
		if !ok {
			httpx.Error(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		httpx.WriteJSON(w, http.StatusOK, e.History(r.Context(), hours))
	})
	mux.HandleFunc("GET /api/grid-stability/config", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, e.Config())
	})
	mux.HandleFunc("PUT /api/grid-stability/config", func(w http.ResponseWriter, r *http.Request) {
		var patch model.GridConfigPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			httpx.Error(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		cfg, err := e.Reconfigure(patch)
		if errors.Is(err, model.ErrInvalidConfig) {
			httpx.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, err.Error())
			return
		}
		httpx.WriteJSON(w, http.StatusOK, cfg)
	})
	mux.HandleFunc("GET /api/grid-stability/price", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, e.Snapshot())
	})
	mux.HandleFunc("GET /api/grid-stability/health", func(w http.ResponseWriter, r *http.Request) {
		avg, n := defaultUptime, 0
		if uptime != nil {
			v, count, err := uptime.NodeUptime(r.Context())
			if err != nil {
				httpx.Error(w, http.StatusInternalServerError, "failed to fetch grid health")
				return
			}
			if count > 0 {
				avg, n = v, count
			}
		}
		score, level := coregrid.UptimeHealth(avg)
		httpx.WriteJSON(w, http.StatusOK, Health{
			Status:      level,
			HealthScore: score,
			ActiveNodes: n,
			AvgUptime:   coregrid.Round2(avg),
			Timestamp:   time.Now().UTC(),
		})
	})
}
