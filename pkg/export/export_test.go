package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/gridx/core/model"
)

var ts = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestGridCSV(t *testing.T) {
	var buf bytes.Buffer
	rows := []model.GridMetrics{{ID: "g1", Supply: 45, Demand: 48, Imbalance: 3, Status: model.StatusShortage, Price: 6.14, HealthScore: 85, Timestamp: ts}}
	require.NoError(t, Grid(&buf, FormatCSV, rows))

	recs, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "grid_status", recs[0][5])
	assert.Equal(t, []string{"g1", "2025-03-01T12:00:00Z", "45", "48", "3", "Shortage", "6.14", "85"}, recs[1])
}

func TestMeterCSV(t *testing.T) {
	var buf bytes.Buffer
	rows := []model.MeterReading{{ID: "m1", UserID: "u1", Imported: 1.5, Exported: 2.25, NetEnergy: 0.75, Role: model.RoleSeller, Timestamp: ts}}
	require.NoError(t, Meter(&buf, FormatCSV, rows))

	recs, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, []string{"m1", "u1", "2025-03-01T12:00:00Z", "1.5", "2.25", "0.75", "Seller"}, recs[1])
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Meter(&buf, FormatJSON, []model.MeterReading{{UserID: "u1", Timestamp: ts}}))
	var out []model.MeterReading
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "u1", out[0].UserID)
}

func TestUnsupportedFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Grid(&buf, "xml", nil))
	assert.Error(t, Meter(&buf, "xml", nil))
}
