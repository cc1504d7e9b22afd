package grid

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coregrid "github.com/kilianp07/gridx/core/grid"
	"github.com/kilianp07/gridx/core/model"
	"github.com/kilianp07/gridx/core/store"
)

type fakeUptime struct {
	avg float64
	n   int
	err error
}

func (f fakeUptime) NodeUptime(context.Context) (float64, int, error) { return f.avg, f.n, f.err }

func newMux(t *testing.T, uptime UptimeSource) (*http.ServeMux, *store.Memory) {
	t.Helper()
	mem := store.NewMemory(45, 48)
	e, err := coregrid.NewEngine(model.DefaultGridConfig(), mem, mem, nil, nil, nil)
	require.NoError(t, err)
	mux := http.NewServeMux()
	Register(mux, e, uptime)
	return mux, mem
}

func do(mux http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestTickAndHistory(t *testing.T) {
	mux, mem := newMux(t, nil)

	rr := do(mux, http.MethodPost, "/api/grid-stability/tick", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var m model.GridMetrics
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &m))
	assert.Equal(t, model.StatusShortage, m.Status)
	assert.Equal(t, 6.14, m.Price)
	assert.Len(t, mem.GridRecords(), 1)

	rr = do(mux, http.MethodGet, "/api/grid-stability/history?hours=1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var hist []model.GridMetrics
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &hist))
	assert.Len(t, hist, 1)

	rr = do(mux, http.MethodGet, "/api/grid-stability/history?hours=-3", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStateHasNoSideEffects(t *testing.T) {
	mux, mem := newMux(t, nil)
	rr := do(mux, http.MethodGet, "/api/grid-stability/state", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, mem.GridRecords())

	rr = do(mux, http.MethodGet, "/api/grid-stability/price", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var snap model.PriceSnapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, 6.0, snap.CurrentPrice)
}

func TestConfigRoundTrip(t *testing.T) {
	mux, _ := newMux(t, nil)

	rr := do(mux, http.MethodPut, "/api/grid-stability/config", `{"base_price":7}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var cfg model.GridConfig
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cfg))
	assert.Equal(t, 7.0, cfg.BasePrice)

	rr = do(mux, http.MethodPut, "/api/grid-stability/config", `{"min_price":20}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(mux, http.MethodPut, "/api/grid-stability/config", `{`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(mux, http.MethodGet, "/api/grid-stability/config", "")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cfg))
	assert.Equal(t, 7.0, cfg.BasePrice)
	assert.Equal(t, 12.0, cfg.MaxPrice)
}

func TestHealth(t *testing.T) {
	cases := []struct {
		name   string
		uptime UptimeSource
		code   int
		level  coregrid.HealthLevel
	}{
		{"no source", nil, http.StatusOK, coregrid.LevelHealthy},
		{"no nodes", fakeUptime{}, http.StatusOK, coregrid.LevelHealthy},
		{"warning", fakeUptime{avg: 90, n: 3}, http.StatusOK, coregrid.LevelWarning},
		{"critical", fakeUptime{avg: 70, n: 3}, http.StatusOK, coregrid.LevelCritical},
		{"error", fakeUptime{err: errors.New("down")}, http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux, _ := newMux(t, tc.uptime)
			rr := do(mux, http.MethodGet, "/api/grid-stability/health", "")
			require.Equal(t, tc.code, rr.Code)
			if tc.code != http.StatusOK {
				return
			}
			var h Health
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &h))
			assert.Equal(t, tc.level, h.Status)
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	mux, _ := newMux(t, nil)
	rr := do(mux, http.MethodGet, "/api/grid-stability/tick", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
