// Package export writes grid and meter history as JSON or CSV.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/kilianp07/gridx/core/model"
)

// Supported formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// WriteJSON writes v to w as a single JSON document.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteGridCSV writes grid samples with a header row.
func WriteGridCSV(w io.Writer, rows []model.GridMetrics) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "timestamp", "supply", "demand", "imbalance", "grid_status", "updated_price", "health_score"}); err != nil {
		return err
	}
	for _, m := range rows {
		rec := []string{
			m.ID,
			m.Timestamp.UTC().Format(time.RFC3339),
			num(m.Supply),
			num(m.Demand),
			num(m.Imbalance),
			string(m.Status),
			num(m.Price),
			num(m.HealthScore),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteMeterCSV writes meter readings with a header row.
func WriteMeterCSV(w io.Writer, rows []model.MeterReading) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "user_id", "timestamp", "imported", "exported", "net_energy", "role"}); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			r.ID,
			r.UserID,
			r.Timestamp.UTC().Format(time.RFC3339),
			num(r.Imported),
			num(r.Exported),
			num(r.NetEnergy),
			string(r.Role),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Grid writes rows in the given format.
func Grid(w io.Writer, format string, rows []model.GridMetrics) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, rows)
	case FormatCSV:
		return WriteGridCSV(w, rows)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// Meter writes rows in the given format.
func Meter(w io.Writer, format string, rows []model.MeterReading) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, rows)
	case FormatCSV:
		return WriteMeterCSV(w, rows)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

func num(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
