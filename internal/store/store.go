// Package store persists scan results in SQLite through sqlx. The
// services table holds the current view of the network keyed by (ip,
// port); every save also appends to the history table so posture changes
// over time stay reconstructable.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Y0oshi/deepfocus/internal/errors"
	"github.com/Y0oshi/deepfocus/internal/logging"
	"github.com/Y0oshi/deepfocus/internal/metrics"
	"github.com/Y0oshi/deepfocus/internal/probe"
)

const schema = `
CREATE TABLE IF NOT EXISTS services (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ip         TEXT NOT NULL,
	port       INTEGER NOT NULL,
	protocol   TEXT NOT NULL DEFAULT '',
	service    TEXT NOT NULL DEFAULT '',
	banner     TEXT NOT NULL DEFAULT '',
	auth       TEXT NOT NULL DEFAULT 'Unknown',
	state      TEXT NOT NULL DEFAULT 'open',
	vendor     TEXT NOT NULL DEFAULT '',
	hostname   TEXT NOT NULL DEFAULT '',
	rtt_ms     REAL NOT NULL DEFAULT 0,
	first_seen TIMESTAMP NOT NULL,
	last_seen  TIMESTAMP NOT NULL,
	UNIQUE(ip, port)
);

CREATE TABLE IF NOT EXISTS history (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	ip      TEXT NOT NULL,
	port    INTEGER NOT NULL,
	service TEXT NOT NULL DEFAULT '',
	auth    TEXT NOT NULL DEFAULT 'Unknown',
	state   TEXT NOT NULL DEFAULT 'open',
	seen_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_services_state ON services(state);
CREATE INDEX IF NOT EXISTS idx_history_ip_port ON history(ip, port);
`

// ServiceRecord is one row of the current network view.
type ServiceRecord struct {
	ID        int64     `db:"id" json:"id"`
	IP        string    `db:"ip" json:"ip"`
	Port      int       `db:"port" json:"port"`
	Protocol  string    `db:"protocol" json:"protocol"`
	Service   string    `db:"service" json:"service"`
	Banner    string    `db:"banner" json:"banner"`
	Auth      string    `db:"auth" json:"auth"`
	State     string    `db:"state" json:"state"`
	Vendor    string    `db:"vendor" json:"vendor,omitempty"`
	Hostname  string    `db:"hostname" json:"hostname,omitempty"`
	RTTMillis float64   `db:"rtt_ms" json:"rtt_ms"`
	FirstSeen time.Time `db:"first_seen" json:"first_seen"`
	LastSeen  time.Time `db:"last_seen" json:"last_seen"`
}

// HistoryRecord is one observation appended per save.
type HistoryRecord struct {
	ID      int64     `db:"id" json:"id"`
	IP      string    `db:"ip" json:"ip"`
	Port    int       `db:"port" json:"port"`
	Service string    `db:"service" json:"service"`
	Auth    string    `db:"auth" json:"auth"`
	State   string    `db:"state" json:"state"`
	SeenAt  time.Time `db:"seen_at" json:"seen_at"`
}

// Store wraps the SQLite database.
type Store struct {
	db     *sqlx.DB
	logger *logging.Logger
}

// Open connects to the database at path, creating it and the schema when
// absent. WAL keeps concurrent worker upserts from serializing on fsync.
func Open(path string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NewDefault().WithComponent("store")
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, errors.WrapStoreError(errors.CodeDatabaseConnection, "failed to open database", "open", err)
	}

	// sqlite allows one writer; a single connection avoids SQLITE_BUSY
	// churn under concurrent upserts
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.WrapStoreError(errors.CodeDatabaseMigration, "failed to apply schema", "migrate", err)
	}

	logger.InfoStore("Result store ready", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// OpenDB wraps an existing database handle; tests use it with sqlmock.
func OpenDB(db *sqlx.DB, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewDefault().WithComponent("store")
	}
	return &Store{db: db, logger: logger}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveResult upserts the service row for (ip, port) and appends a history
// observation. Last write wins on conflicts.
func (s *Store) SaveResult(ctx context.Context, result *probe.Result) error {
	start := time.Now()

	rec := &ServiceRecord{
		IP:        result.IP,
		Port:      result.Port,
		Protocol:  string(result.Protocol),
		Service:   result.Service,
		Banner:    result.Banner,
		Auth:      result.Auth,
		State:     result.State,
		Vendor:    result.Vendor,
		Hostname:  result.Hostname,
		RTTMillis: float64(result.RTT.Microseconds()) / 1000.0,
		FirstSeen: result.SeenAt,
		LastSeen:  result.SeenAt,
	}
	if rec.LastSeen.IsZero() {
		now := time.Now().UTC()
		rec.FirstSeen = now
		rec.LastSeen = now
	}

	err := s.Upsert(ctx, rec)
	metrics.RecordStoreQuery("upsert", time.Since(start), err == nil)
	return err
}

// Upsert writes a service record and its history entry in one
// transaction.
func (s *Store) Upsert(ctx context.Context, rec *ServiceRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.WrapStoreError(errors.CodeDatabaseQuery, "failed to begin transaction", "upsert", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO services (ip, port, protocol, service, banner, auth, state,
			vendor, hostname, rtt_ms, first_seen, last_seen)
		VALUES (:ip, :port, :protocol, :service, :banner, :auth, :state,
			:vendor, :hostname, :rtt_ms, :first_seen, :last_seen)
		ON CONFLICT(ip, port) DO UPDATE SET
			protocol  = excluded.protocol,
			service   = excluded.service,
			banner    = excluded.banner,
			auth      = excluded.auth,
			state     = excluded.state,
			vendor    = excluded.vendor,
			hostname  = excluded.hostname,
			rtt_ms    = excluded.rtt_ms,
			last_seen = excluded.last_seen`, rec)
	if err != nil {
		return errors.WrapStoreError(errors.CodeDatabaseQuery, "failed to upsert service", "upsert", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO history (ip, port, service, auth, state, seen_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.IP, rec.Port, rec.Service, rec.Auth, rec.State, rec.LastSeen)
	if err != nil {
		return errors.WrapStoreError(errors.CodeDatabaseQuery, "failed to append history", "upsert", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.WrapStoreError(errors.CodeDatabaseQuery, "failed to commit", "upsert", err)
	}
	return nil
}

// Get returns the service record for (ip, port), or nil when absent.
func (s *Store) Get(ctx context.Context, ip string, port int) (*ServiceRecord, error) {
	var rec ServiceRecord
	err := s.db.GetContext(ctx, &rec,
		`SELECT * FROM services WHERE ip = ? AND port = ?`, ip, port)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapStoreError(errors.CodeDatabaseQuery, "failed to query service", "get", err)
	}
	return &rec, nil
}

// ListAll returns every service record ordered by address and port.
func (s *Store) ListAll(ctx context.Context) ([]ServiceRecord, error) {
	var recs []ServiceRecord
	err := s.db.SelectContext(ctx, &recs,
		`SELECT * FROM services ORDER BY ip, port`)
	if err != nil {
		return nil, errors.WrapStoreError(errors.CodeDatabaseQuery, "failed to list services", "list", err)
	}
	return recs, nil
}

// ListOpen returns records in the open state, the set the exporter
// publishes.
func (s *Store) ListOpen(ctx context.Context) ([]ServiceRecord, error) {
	var recs []ServiceRecord
	err := s.db.SelectContext(ctx, &recs,
		`SELECT * FROM services WHERE state = ? ORDER BY ip, port`, probe.StateOpen)
	if err != nil {
		return nil, errors.WrapStoreError(errors.CodeDatabaseQuery, "failed to list open services", "list", err)
	}
	return recs, nil
}

// Count returns the number of service records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM services`); err != nil {
		return 0, errors.WrapStoreError(errors.CodeDatabaseQuery, "failed to count services", "count", err)
	}
	return n, nil
}

// History returns the observation log for (ip, port), newest first.
func (s *Store) History(ctx context.Context, ip string, port int) ([]HistoryRecord, error) {
	var recs []HistoryRecord
	err := s.db.SelectContext(ctx, &recs,
		`SELECT * FROM history WHERE ip = ? AND port = ? ORDER BY seen_at DESC, id DESC`, ip, port)
	if err != nil {
		return nil, errors.WrapStoreError(errors.CodeDatabaseQuery, "failed to query history", "history", err)
	}
	return recs, nil
}

// Prune deletes unreachable services not seen since the cutoff and trims
// their history. Returns the number of services removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM services WHERE state = ? AND last_seen < ?`,
		probe.StateUnreachable, cutoff)
	if err != nil {
		return 0, errors.WrapStoreError(errors.CodeDatabaseQuery, "failed to prune services", "prune", err)
	}
	removed, _ := res.RowsAffected()

	_, err = s.db.ExecContext(ctx, `DELETE FROM history WHERE seen_at < ?`, cutoff)
	if err != nil {
		return removed, errors.WrapStoreError(errors.CodeDatabaseQuery, "failed to prune history", "prune", err)
	}

	if removed > 0 {
		s.logger.InfoStore("Pruned stale records", "removed", removed)
	}
	return removed, nil
}
