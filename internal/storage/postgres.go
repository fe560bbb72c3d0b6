package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jackc/pgx/v5/pgconn"

	"smartstop.transitwatch.org/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS telemetry_readings (
	stop_id     TEXT NOT NULL,
	ts          TIMESTAMPTZ NOT NULL,
	temperature DOUBLE PRECISION NOT NULL,
	humidity    DOUBLE PRECISION NOT NULL,
	occupancy   INTEGER NOT NULL,
	raw_payload BYTEA,
	received_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (stop_id, ts)
);

CREATE TABLE IF NOT EXISTS alerts (
	id           TEXT PRIMARY KEY,
	stop_id      TEXT NOT NULL,
	type         TEXT NOT NULL,
	message      TEXT NOT NULL,
	status       TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	last_seen_at TIMESTAMPTZ NOT NULL,
	resolved_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS alerts_stop_status_idx ON alerts (stop_id, status);

CREATE TABLE IF NOT EXISTS route_deviation_stats (
	route_id      TEXT NOT NULL,
	hour_of_day   INTEGER NOT NULL,
	mean_dev_secs DOUBLE PRECISION NOT NULL,
	sample_count  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (route_id, hour_of_day)
);

CREATE TABLE IF NOT EXISTS accuracy_samples (
	id         BIGSERIAL PRIMARY KEY,
	stop_id    TEXT NOT NULL,
	route_id   TEXT NOT NULL,
	vehicle_id TEXT,
	predicted  TIMESTAMPTZ NOT NULL,
	actual     TIMESTAMPTZ NOT NULL
);
`

// PostgresStore is the production Store, backed by Postgres through the pgx
// stdlib driver.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects to Postgres, verifies the connection, and ensures
// the schema exists.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("verify postgres connection: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) InsertReading(ctx context.Context, r models.TelemetryReading) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO telemetry_readings (stop_id, ts, temperature, humidity, occupancy, raw_payload, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.StopID, r.Timestamp, r.Temperature, r.Humidity, r.Occupancy, r.RawPayload, r.ReceivedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateReading
		}
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentReadings(ctx context.Context, stopID string, since time.Time) ([]models.TelemetryReading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stop_id, ts, temperature, humidity, occupancy, received_at
		 FROM telemetry_readings
		 WHERE stop_id = $1 AND ts >= $2
		 ORDER BY ts`,
		stopID, since)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	var out []models.TelemetryReading
	for rows.Next() {
		var r models.TelemetryReading
		if err := rows.Scan(&r.StopID, &r.Timestamp, &r.Temperature, &r.Humidity, &r.Occupancy, &r.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveAlert(ctx context.Context, a models.Alert) error {
	var resolvedAt sql.NullTime
	if !a.ResolvedAt.IsZero() {
		resolvedAt = sql.NullTime{Time: a.ResolvedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, stop_id, type, message, status, created_at, last_seen_at, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
			message = EXCLUDED.message,
			status = EXCLUDED.status,
			last_seen_at = EXCLUDED.last_seen_at,
			resolved_at = EXCLUDED.resolved_at`,
		a.ID, a.StopID, string(a.Type), a.Message, string(a.Status), a.CreatedAt, a.LastSeenAt, resolvedAt)
	if err != nil {
		return fmt.Errorf("save alert: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAlert(ctx context.Context, id string) (models.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, stop_id, type, message, status, created_at, last_seen_at, resolved_at
		 FROM alerts WHERE id = $1`, id)
	return scanAlert(row)
}

func (s *PostgresStore) OpenAlert(ctx context.Context, stopID string, alertType models.AlertType) (models.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, stop_id, type, message, status, created_at, last_seen_at, resolved_at
		 FROM alerts
		 WHERE stop_id = $1 AND type = $2 AND status <> 'resolved'
		 ORDER BY created_at DESC
		 LIMIT 1`,
		stopID, string(alertType))
	return scanAlert(row)
}

func (s *PostgresStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]models.Alert, error) {
	query := `SELECT id, stop_id, type, message, status, created_at, last_seen_at, resolved_at
		 FROM alerts WHERE 1=1`
	args := []any{}
	if filter.StopID != "" {
		args = append(args, filter.StopID)
		query += fmt.Sprintf(" AND stop_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, alert)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AverageDeviation(ctx context.Context, routeID string, hour int) (time.Duration, error) {
	var secs float64
	err := s.db.QueryRowContext(ctx,
		`SELECT mean_dev_secs FROM route_deviation_stats WHERE route_id = $1 AND hour_of_day = $2`,
		routeID, hour).Scan(&secs)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query deviation stats: %w", err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func (s *PostgresStore) RecordAccuracySample(ctx context.Context, sample AccuracySample) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accuracy_samples (stop_id, route_id, vehicle_id, predicted, actual)
		 VALUES ($1, $2, $3, $4, $5)`,
		sample.StopID, sample.RouteID, sample.VehicleID, sample.Predicted, sample.Actual)
	if err != nil {
		return fmt.Errorf("record accuracy sample: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (models.Alert, error) {
	var a models.Alert
	var alertType, status string
	var resolvedAt sql.NullTime

	err := row.Scan(&a.ID, &a.StopID, &alertType, &a.Message, &status, &a.CreatedAt, &a.LastSeenAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Alert{}, ErrNotFound
	}
	if err != nil {
		return models.Alert{}, fmt.Errorf("scan alert: %w", err)
	}

	a.Type = models.AlertType(alertType)
	a.Status = models.AlertStatus(status)
	if resolvedAt.Valid {
		a.ResolvedAt = resolvedAt.Time
	}
	return a, nil
}
