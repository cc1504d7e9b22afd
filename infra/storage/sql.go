// Package storage implements the persistence gateway on SQLite (modernc) or
// PostgreSQL (lib/pq) through database/sql.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/kilianp07/gridx/core/model"
	"github.com/kilianp07/gridx/core/store"
)

// NodeType distinguishes producers from consumers.
type NodeType string

const (
	Producer NodeType = "producer"
	Consumer NodeType = "consumer"
)

// Node is a grid participant contributing to aggregate supply or demand.
type Node struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Type          NodeType `json:"node_type"`
	CurrentOutput float64  `json:"current_output"`
	CurrentLoad   float64  `json:"current_load"`
	Active        bool     `json:"active"`
	Uptime        float64  `json:"uptime_percentage"`
}

// DemoNodes sums to 45 kW of supply and 48 kW of demand.
func DemoNodes() []Node {
	return []Node{
		{Name: "solar-farm-north", Type: Producer, CurrentOutput: 20, Active: true, Uptime: 99.2},
		{Name: "wind-park-east", Type: Producer, CurrentOutput: 15, Active: true, Uptime: 96.8},
		{Name: "battery-bank-1", Type: Producer, CurrentOutput: 10, Active: true, Uptime: 98.5},
		{Name: "residential-block-a", Type: Consumer, CurrentLoad: 25, Active: true, Uptime: 99.9},
		{Name: "commercial-park", Type: Consumer, CurrentLoad: 15, Active: true, Uptime: 97.1},
		{Name: "ev-charging-hub", Type: Consumer, CurrentLoad: 8, Active: true, Uptime: 94.3},
	}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS grid_nodes (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		node_type TEXT NOT NULL,
		current_output DOUBLE PRECISION NOT NULL DEFAULT 0,
		current_load DOUBLE PRECISION NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1,
		uptime_percentage DOUBLE PRECISION NOT NULL DEFAULT 100
	)`,
	`CREATE TABLE IF NOT EXISTS grid_metrics (
		id TEXT PRIMARY KEY,
		supply DOUBLE PRECISION NOT NULL,
		demand DOUBLE PRECISION NOT NULL,
		imbalance DOUBLE PRECISION NOT NULL,
		grid_status TEXT NOT NULL,
		updated_price DOUBLE PRECISION NOT NULL,
		health_score DOUBLE PRECISION NOT NULL,
		ts BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_grid_metrics_ts ON grid_metrics (ts)`,
	`CREATE TABLE IF NOT EXISTS energy_meters (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		energy_imported DOUBLE PRECISION NOT NULL,
		energy_exported DOUBLE PRECISION NOT NULL,
		net_energy DOUBLE PRECISION NOT NULL,
		role TEXT NOT NULL,
		ts BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_energy_meters_user_ts ON energy_meters (user_id, ts)`,
}

// SQLStore is the database/sql persistence gateway.
type SQLStore struct {
	db       *sql.DB
	postgres bool
}

// Open connects to the configured backend, pings it within the connect
// timeout and ensures the schema.
func Open(ctx context.Context, cfg Config) (*SQLStore, error) {
	var driver, dsn string
	switch cfg.Backend {
	case BackendSQLite:
		driver, dsn = "sqlite", cfg.Path
	case BackendPostgres:
		driver, dsn = "postgres", cfg.DSN
	default:
		return nil, fmt.Errorf("storage backend %q has no SQL driver", cfg.Backend)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", store.ErrStorageUnavailable, driver, err)
	}
	if driver == "sqlite" {
		// single writer avoids SQLITE_BUSY under concurrent ticks
		db.SetMaxOpenConns(1)
	}
	s := &SQLStore{db: db, postgres: cfg.Backend == BackendPostgres}

	timeout := time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", store.ErrStorageUnavailable, driver, err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(pctx, stmt); err != nil {
			if cerr := db.Close(); cerr != nil {
				return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
			}
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	if cfg.SeedNodes {
		if err := s.SeedNodes(pctx, DemoNodes()); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(q string) string {
	if !s.postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", store.ErrStorageUnavailable, op, err)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SeedNodes inserts nodes when the node table is empty.
func (s *SQLStore) SeedNodes(ctx context.Context, nodes []Node) error {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM grid_nodes`).Scan(&n); err != nil {
		return unavailable("count nodes", err)
	}
	if n > 0 {
		return nil
	}
	for _, node := range nodes {
		if err := s.UpsertNode(ctx, node); err != nil {
			return err
		}
	}
	return nil
}

// UpsertNode inserts or replaces a node. An empty id gets a fresh UUID.
func (s *SQLStore) UpsertNode(ctx context.Context, n Node) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO grid_nodes
		(id, name, node_type, current_output, current_load, active, uptime_percentage)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			node_type = excluded.node_type,
			current_output = excluded.current_output,
			current_load = excluded.current_load,
			active = excluded.active,
			uptime_percentage = excluded.uptime_percentage`),
		n.ID, n.Name, string(n.Type), n.CurrentOutput, n.CurrentLoad, boolInt(n.Active), n.Uptime)
	if err != nil {
		return unavailable("upsert node", err)
	}
	return nil
}

// ReadAggregate sums the output of active producers or the load of active
// consumers.
func (s *SQLStore) ReadAggregate(ctx context.Context, kind store.Aggregate) (float64, error) {
	var q string
	switch kind {
	case store.Supply:
		q = `SELECT COALESCE(SUM(current_output), 0) FROM grid_nodes WHERE node_type = ? AND active = 1`
	case store.Demand:
		q = `SELECT COALESCE(SUM(current_load), 0) FROM grid_nodes WHERE node_type = ? AND active = 1`
	default:
		return 0, fmt.Errorf("unknown aggregate %d", kind)
	}
	nodeType := Producer
	if kind == store.Demand {
		nodeType = Consumer
	}
	var v float64
	if err := s.db.QueryRowContext(ctx, s.rebind(q), string(nodeType)).Scan(&v); err != nil {
		return 0, unavailable("read "+kind.String(), err)
	}
	return v, nil
}

// NodeUptime returns the mean uptime percentage of active nodes and how many
// were counted.
func (s *SQLStore) NodeUptime(ctx context.Context) (float64, int, error) {
	var avg sql.NullFloat64
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT AVG(uptime_percentage), COUNT(*) FROM grid_nodes WHERE active = 1`).Scan(&avg, &n)
	if err != nil {
		return 0, 0, unavailable("node uptime", err)
	}
	return avg.Float64, n, nil
}

func (s *SQLStore) WriteGridMetrics(ctx context.Context, m model.GridMetrics) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO grid_metrics
		(id, supply, demand, imbalance, grid_status, updated_price, health_score, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		m.ID, m.Supply, m.Demand, m.Imbalance, string(m.Status), m.Price, m.HealthScore, m.Timestamp.UnixMilli())
	if err != nil {
		return unavailable("write grid metrics", err)
	}
	return nil
}

func (s *SQLStore) GridHistory(ctx context.Context, since time.Time, limit int) ([]model.GridMetrics, error) {
	q := `SELECT id, supply, demand, imbalance, grid_status, updated_price, health_score, ts
		FROM grid_metrics WHERE ts > ? ORDER BY ts DESC`
	args := []any{since.UnixMilli()}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, unavailable("grid history", err)
	}
	defer func() { _ = rows.Close() }()
	res := make([]model.GridMetrics, 0)
	for rows.Next() {
		var m model.GridMetrics
		var status string
		var ts int64
		if err := rows.Scan(&m.ID, &m.Supply, &m.Demand, &m.Imbalance, &status, &m.Price, &m.HealthScore, &ts); err != nil {
			return nil, unavailable("scan grid metrics", err)
		}
		m.Status = model.GridStatus(status)
		m.Timestamp = time.UnixMilli(ts).UTC()
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("grid history", err)
	}
	return res, nil
}

func (s *SQLStore) WriteMeterReading(ctx context.Context, r model.MeterReading) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO energy_meters
		(id, user_id, energy_imported, energy_exported, net_energy, role, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.UserID, r.Imported, r.Exported, r.NetEnergy, string(r.Role), r.Timestamp.UnixMilli())
	if err != nil {
		return unavailable("write meter reading", err)
	}
	return nil
}

func (s *SQLStore) MeterHistory(ctx context.Context, userID string, since time.Time, limit int) ([]model.MeterReading, error) {
	q := `SELECT id, user_id, energy_imported, energy_exported, net_energy, role, ts
		FROM energy_meters WHERE user_id = ? AND ts > ? ORDER BY ts DESC`
	args := []any{userID, since.UnixMilli()}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, unavailable("meter history", err)
	}
	defer func() { _ = rows.Close() }()
	res := make([]model.MeterReading, 0)
	for rows.Next() {
		var r model.MeterReading
		var role string
		var ts int64
		if err := rows.Scan(&r.ID, &r.UserID, &r.Imported, &r.Exported, &r.NetEnergy, &role, &ts); err != nil {
			return nil, unavailable("scan meter reading", err)
		}
		r.Role = model.Role(role)
		r.Timestamp = time.UnixMilli(ts).UTC()
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("meter history", err)
	}
	return res, nil
}

func (s *SQLStore) MeterUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM energy_meters ORDER BY user_id`)
	if err != nil {
		return nil, unavailable("meter users", err)
	}
	defer func() { _ = rows.Close() }()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable("scan meter user", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("meter users", err)
	}
	return ids, nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	if err := s.db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return err
	}
	return nil
}

var _ store.Store = (*SQLStore)(nil)
