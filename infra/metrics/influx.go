package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/gridx/core/metrics"
	"github.com/kilianp07/gridx/core/model"
	"github.com/kilianp07/gridx/infra/logger"
)

// InfluxConfig locates the InfluxDB bucket.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes grid and meter samples to an InfluxDB instance using the
// official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a
// NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.Sink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordGridMetrics writes one grid_metrics point.
func (s *InfluxSink) RecordGridMetrics(m model.GridMetrics) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, gridPoint(m))
}

// RecordMeterReading writes one meter_reading point.
func (s *InfluxSink) RecordMeterReading(r model.MeterReading) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, meterPoint(r))
}

// Close releases the client resources.
func (s *InfluxSink) Close() { s.client.Close() }

func gridPoint(m model.GridMetrics) *write.Point {
	return write.NewPointWithMeasurement("grid_metrics").
		AddTag("grid_status", string(m.Status)).
		AddTag("component", "grid_engine").
		AddField("supply_kw", round3(m.Supply)).
		AddField("demand_kw", round3(m.Demand)).
		AddField("imbalance_kw", round3(m.Imbalance)).
		AddField("price", round3(m.Price)).
		AddField("health_score", round3(m.HealthScore)).
		SetTime(m.Timestamp)
}

func meterPoint(r model.MeterReading) *write.Point {
	return write.NewPointWithMeasurement("meter_reading").
		AddTag("user_id", r.UserID).
		AddTag("role", string(r.Role)).
		AddTag("component", "meter_simulation").
		AddField("imported_kwh", round3(r.Imported)).
		AddField("exported_kwh", round3(r.Exported)).
		AddField("net_kwh", round3(r.NetEnergy)).
		SetTime(r.Timestamp)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
