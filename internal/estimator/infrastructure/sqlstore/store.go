package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	alarmapp "greenhouse-brain/internal/alarms/application"
	alarms "greenhouse-brain/internal/alarms/domain"
	estimatorapp "greenhouse-brain/internal/estimator/application"
	estimator "greenhouse-brain/internal/estimator/domain"
	health "greenhouse-brain/internal/health/domain"
)

// Supported database/sql driver names.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS estimator_states (
	plant_id     TEXT NOT NULL,
	ts_ms        BIGINT NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL,
	escalate     BOOLEAN NOT NULL,
	payload      TEXT NOT NULL,
	PRIMARY KEY (plant_id, ts_ms)
);

CREATE TABLE IF NOT EXISTS estimator_anomalies (
	id           TEXT PRIMARY KEY,
	plant_id     TEXT NOT NULL,
	ts_ms        BIGINT NOT NULL,
	type         TEXT NOT NULL,
	measurement  TEXT NOT NULL,
	severity     INTEGER NOT NULL,
	payload      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_estimator_anomalies_plant_ts ON estimator_anomalies (plant_id, ts_ms);

CREATE TABLE IF NOT EXISTS estimator_sensor_health (
	plant_id     TEXT NOT NULL,
	ts_ms        BIGINT NOT NULL,
	overall      TEXT NOT NULL,
	payload      TEXT NOT NULL,
	PRIMARY KEY (plant_id, ts_ms)
);
`

var placeholder = regexp.MustCompile(`\$(\d+)`)

// Store persists estimation results. Records are kept as their JSON encoding
// next to the indexed columns used for range queries.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to dsn with driver. SQLite databases are opened in WAL mode.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverPostgres:
	case DriverSQLite:
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	default:
		return nil, fmt.Errorf("estimator store: unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	return &Store{db: db, driver: driver}, nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, driver string) (*Store, error) {
	if db == nil {
		return nil, errors.New("estimator store: nil db")
	}
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("estimator store: unsupported driver %q", driver)
	}
	return &Store{db: db, driver: driver}, nil
}

// DB exposes the connection pool for health checks and metrics.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate creates the tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("estimator store: nil db")
	}
	if s.driver == DriverSQLite {
		if _, err := s.db.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
		return nil
	}
	// pgx runs one statement per Exec call.
	for _, stmt := range splitStatements(schema) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// SaveResult stores the state, its anomalies and sensor health atomically.
// Saving the same cycle twice overwrites the earlier rows.
func (s *Store) SaveResult(ctx context.Context, result estimatorapp.Result) error {
	if s == nil || s.db == nil {
		return errors.New("estimator store: nil db")
	}
	state := result.State
	if state.PlantID == "" {
		return errors.New("estimator store: state without plant_id")
	}
	statePayload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	healthPayload, err := json.Marshal(result.Health)
	if err != nil {
		return fmt.Errorf("encode sensor health: %w", err)
	}
	tsMs := state.Timestamp.UTC().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.rebind(`
INSERT INTO estimator_states (plant_id, ts_ms, confidence, escalate, payload)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (plant_id, ts_ms)
DO UPDATE SET
	confidence = EXCLUDED.confidence,
	escalate = EXCLUDED.escalate,
	payload = EXCLUDED.payload`),
		state.PlantID, tsMs, state.Confidence, state.EscalateSampling, string(statePayload),
	); err != nil {
		return fmt.Errorf("insert state: %w", err)
	}

	for _, anomaly := range result.Anomalies {
		payload, err := json.Marshal(anomaly)
		if err != nil {
			return fmt.Errorf("encode anomaly: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`
INSERT INTO estimator_anomalies (id, plant_id, ts_ms, type, measurement, severity, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id)
DO UPDATE SET
	severity = EXCLUDED.severity,
	payload = EXCLUDED.payload`),
			anomaly.ID, state.PlantID, anomaly.Timestamp.UTC().UnixMilli(), anomaly.Type, anomaly.Measurement, int(anomaly.Severity), string(payload),
		); err != nil {
			return fmt.Errorf("insert anomaly: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`
INSERT INTO estimator_sensor_health (plant_id, ts_ms, overall, payload)
VALUES ($1, $2, $3, $4)
ON CONFLICT (plant_id, ts_ms)
DO UPDATE SET
	overall = EXCLUDED.overall,
	payload = EXCLUDED.payload`),
		state.PlantID, tsMs, string(result.Health.Overall), string(healthPayload),
	); err != nil {
		return fmt.Errorf("insert sensor health: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListStates returns states of plantID with from <= timestamp < to, oldest first.
func (s *Store) ListStates(ctx context.Context, plantID string, from, to time.Time) ([]estimator.State, error) {
	var out []estimator.State
	err := s.queryPayloads(ctx, `
SELECT payload FROM estimator_states
WHERE plant_id = $1 AND ts_ms >= $2 AND ts_ms < $3
ORDER BY ts_ms`, func(payload []byte) error {
		var state estimator.State
		if err := json.Unmarshal(payload, &state); err != nil {
			return fmt.Errorf("decode state: %w", err)
		}
		out = append(out, state)
		return nil
	}, plantID, from.UTC().UnixMilli(), to.UTC().UnixMilli())
	return out, err
}

// ListAnomalies implements alarmapp.AnomalyReader.
func (s *Store) ListAnomalies(ctx context.Context, query alarmapp.AnomalyQuery) ([]alarms.Anomaly, error) {
	var out []alarms.Anomaly
	err := s.queryPayloads(ctx, `
SELECT payload FROM estimator_anomalies
WHERE plant_id = $1 AND ts_ms >= $2 AND ts_ms < $3 AND severity >= $4
ORDER BY ts_ms, type, measurement`, func(payload []byte) error {
		var anomaly alarms.Anomaly
		if err := json.Unmarshal(payload, &anomaly); err != nil {
			return fmt.Errorf("decode anomaly: %w", err)
		}
		out = append(out, anomaly)
		return nil
	}, query.PlantID, query.From.UTC().UnixMilli(), query.To.UTC().UnixMilli(), int(query.MinSeverity))
	return out, err
}

// ListSensorHealth returns health records of plantID with from <= timestamp < to, oldest first.
func (s *Store) ListSensorHealth(ctx context.Context, plantID string, from, to time.Time) ([]health.SensorHealth, error) {
	var out []health.SensorHealth
	err := s.queryPayloads(ctx, `
SELECT payload FROM estimator_sensor_health
WHERE plant_id = $1 AND ts_ms >= $2 AND ts_ms < $3
ORDER BY ts_ms`, func(payload []byte) error {
		var record health.SensorHealth
		if err := json.Unmarshal(payload, &record); err != nil {
			return fmt.Errorf("decode sensor health: %w", err)
		}
		out = append(out, record)
		return nil
	}, plantID, from.UTC().UnixMilli(), to.UTC().UnixMilli())
	return out, err
}

func (s *Store) queryPayloads(ctx context.Context, query string, scan func([]byte) error, args ...any) error {
	if s == nil || s.db == nil {
		return errors.New("estimator store: nil db")
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return err
		}
		if err := scan([]byte(payload)); err != nil {
			return err
		}
	}
	return rows.Err()
}

// rebind rewrites $N placeholders into SQLite's ?N form.
func (s *Store) rebind(query string) string {
	if s.driver != DriverSQLite {
		return query
	}
	return placeholder.ReplaceAllString(query, "?$1")
}

func splitStatements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
