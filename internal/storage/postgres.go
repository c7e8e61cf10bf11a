// internal/storage/postgres.go
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"wardendns.io/internal/flap"
	"wardendns.io/internal/models"
	"wardendns.io/internal/pgsqlpool"
)

// Store interface defines the contract for controller state persistence
type Store interface {
	// Health state operations
	UpsertState(ctx context.Context, key models.Endpoint, observed models.Status) (flap.Transition, error)
	HostStates(ctx context.Context, zoneID, name string) ([]*models.HostState, error)

	// Record inventory operations
	RecordsForHost(ctx context.Context, name string, types []string) ([]*models.LocalRecord, error)
	UpsertRecord(ctx context.Context, record *models.LocalRecord) error
	UpdateRecordStatus(ctx context.Context, id string, status models.Status) error
	DeleteRecordByID(ctx context.Context, id string) error

	// System operations
	Health(ctx context.Context) error
	Close() error
}

// PostgresStore implements Store using the pgsqlpool connection manager
type PostgresStore struct {
	pool           *pgsqlpool.Pool
	connectionName string
	engine         *flap.Engine
}

// Config holds configuration for PostgreSQL storage
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
	}
}

// NewPostgresStore creates a new PostgreSQL store instance. The flap engine
// runs inside UpsertState's transaction so counter updates stay atomic.
func NewPostgresStore(ctx context.Context, pool *pgsqlpool.Pool, connectionName string, config *Config, engine *flap.Engine) (*PostgresStore, error) {
	// Create connection config
	connConfig := &pgsqlpool.ConnectionConfig{
		Host:            config.Host,
		Port:            config.Port,
		User:            config.User,
		Password:        config.Password,
		DBName:          config.DBName,
		SSLMode:         config.SSLMode,
		MaxOpenConns:    config.MaxOpenConns,
		MaxIdleConns:    config.MaxIdleConns,
		ConnMaxLifetime: config.ConnMaxLifetime,
		ConnMaxIdleTime: config.ConnMaxIdleTime,
	}

	// Add the connection to the provided pool
	if err := pool.AddConnection(ctx, connectionName, connConfig); err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	return &PostgresStore{
		pool:           pool,
		connectionName: connectionName,
		engine:         engine,
	}, nil
}

// UpsertState folds one probe observation into the persisted health state
// for an endpoint and returns the resulting stable-status transition.
// The read-modify-write runs in one transaction with the row locked, so
// concurrent samples for the same endpoint serialize instead of clobbering
// each other's counters.
func (s *PostgresStore) UpsertState(ctx context.Context, key models.Endpoint, observed models.Status) (flap.Transition, error) {
	var transition flap.Transition

	err := s.pool.Transaction(ctx, s.connectionName, func(tx *sql.Tx) error {
		selectQuery := `
			SELECT last_status, consecutive_up, consecutive_down, stable_status,
			       stable_changed_at, last_changed_at, last_checked_at
			FROM host_states
			WHERE zone_id = $1 AND LOWER(name) = LOWER($2) AND record_type = $3 AND content = $4
			FOR UPDATE
		`

		row := tx.QueryRowContext(ctx, selectQuery, key.ZoneID, key.Name, key.Type, key.Address)

		var prev *models.HostState
		var state models.HostState
		var lastStatus, stableStatus string
		var stableChangedAt, lastChangedAt, lastCheckedAt sql.NullTime

		err := row.Scan(
			&lastStatus,
			&state.ConsecutiveUp,
			&state.ConsecutiveDown,
			&stableStatus,
			&stableChangedAt,
			&lastChangedAt,
			&lastCheckedAt,
		)

		switch err {
		case nil:
			state.Key = key
			state.LastStatus = models.Status(lastStatus)
			state.StableStatus = models.Status(stableStatus)
			if stableChangedAt.Valid {
				t := stableChangedAt.Time
				state.StableChangedAt = &t
			}
			if lastChangedAt.Valid {
				t := lastChangedAt.Time
				state.LastChangedAt = &t
			}
			if lastCheckedAt.Valid {
				t := lastCheckedAt.Time
				state.LastCheckedAt = &t
			}
			prev = &state
		case sql.ErrNoRows:
			prev = nil // first observation for this endpoint
		default:
			return fmt.Errorf("failed to scan host state for %s: %w", key, err)
		}

		next, tr := s.engine.Advance(key, prev, observed, time.Now())
		transition = tr

		upsertQuery := `
			INSERT INTO host_states (
				zone_id, name, record_type, content,
				last_status, consecutive_up, consecutive_down, stable_status,
				stable_changed_at, last_changed_at, last_checked_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (zone_id, name, record_type, content) DO UPDATE SET
				last_status = EXCLUDED.last_status,
				consecutive_up = EXCLUDED.consecutive_up,
				consecutive_down = EXCLUDED.consecutive_down,
				stable_status = EXCLUDED.stable_status,
				stable_changed_at = EXCLUDED.stable_changed_at,
				last_changed_at = EXCLUDED.last_changed_at,
				last_checked_at = EXCLUDED.last_checked_at,
				updated_at = NOW()
		`

		_, err = tx.ExecContext(ctx, upsertQuery,
			key.ZoneID,
			key.Name,
			key.Type,
			key.Address,
			next.LastStatus.String(),
			next.ConsecutiveUp,
			next.ConsecutiveDown,
			next.StableStatus.String(),
			nullableTime(next.StableChangedAt),
			nullableTime(next.LastChangedAt),
			nullableTime(next.LastCheckedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert host state for %s: %w", key, err)
		}

		return nil
	})

	return transition, err
}

// HostStates returns the persisted health states for one hostname in a zone
func (s *PostgresStore) HostStates(ctx context.Context, zoneID, name string) ([]*models.HostState, error) {
	sqlQuery := `
		SELECT zone_id, name, record_type, content,
		       last_status, consecutive_up, consecutive_down, stable_status,
		       stable_changed_at, last_changed_at, last_checked_at
		FROM host_states
		WHERE zone_id = $1 AND LOWER(name) = LOWER($2)
		ORDER BY record_type, content
	`

	rows, err := s.pool.Query(ctx, s.connectionName, sqlQuery, zoneID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query host states for %s: %w", name, err)
	}
	defer rows.Close()

	var states []*models.HostState
	for rows.Next() {
		var state models.HostState
		var lastStatus, stableStatus string
		var stableChangedAt, lastChangedAt, lastCheckedAt sql.NullTime

		err := rows.Scan(
			&state.Key.ZoneID,
			&state.Key.Name,
			&state.Key.Type,
			&state.Key.Address,
			&lastStatus,
			&state.ConsecutiveUp,
			&state.ConsecutiveDown,
			&stableStatus,
			&stableChangedAt,
			&lastChangedAt,
			&lastCheckedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan host state: %w", err)
		}

		state.LastStatus = models.Status(lastStatus)
		state.StableStatus = models.Status(stableStatus)
		if stableChangedAt.Valid {
			t := stableChangedAt.Time
			state.StableChangedAt = &t
		}
		if lastChangedAt.Valid {
			t := lastChangedAt.Time
			state.LastChangedAt = &t
		}
		if lastCheckedAt.Valid {
			t := lastCheckedAt.Time
			state.LastCheckedAt = &t
		}

		states = append(states, &state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating host states: %w", err)
	}

	return states, nil
}

// RecordsForHost returns the local record mirror for a hostname, limited to
// the given record types (all types if empty)
func (s *PostgresStore) RecordsForHost(ctx context.Context, name string, types []string) ([]*models.LocalRecord, error) {
	sqlQuery := `
		SELECT id, zone_id, name, record_type, content, ttl, proxied, status,
		       last_checked_at, created_at, updated_at
		FROM dns_records
		WHERE LOWER(name) = LOWER($1)
		ORDER BY record_type, content
	`

	rows, err := s.pool.Query(ctx, s.connectionName, sqlQuery, models.NormalizeDomainName(name))
	if err != nil {
		return nil, fmt.Errorf("failed to query records for %s: %w", name, err)
	}
	defer rows.Close()

	wanted := make(map[string]bool, len(types))
	for _, t := range types {
		wanted[strings.ToUpper(t)] = true
	}

	var records []*models.LocalRecord
	for rows.Next() {
		var record models.LocalRecord
		var status string
		var lastCheckedAt sql.NullTime

		err := rows.Scan(
			&record.ID,
			&record.ZoneID,
			&record.Name,
			&record.Type,
			&record.Content,
			&record.TTL,
			&record.Proxied,
			&status,
			&lastCheckedAt,
			&record.CreatedAt,
			&record.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		if len(wanted) > 0 && !wanted[record.Type] {
			continue
		}

		record.Status = models.Status(status)
		if lastCheckedAt.Valid {
			t := lastCheckedAt.Time
			record.LastCheckedAt = &t
		}

		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

// UpsertRecord inserts or refreshes the local mirror of one provider record.
// On refresh the observed status and last check time are left alone: the
// provider knows nothing about health, only the probe loop writes those.
func (s *PostgresStore) UpsertRecord(ctx context.Context, record *models.LocalRecord) error {
	// Validate and normalize the record
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}
	record.Normalize()

	sqlQuery := `
		INSERT INTO dns_records (id, zone_id, name, record_type, content, ttl, proxied, status, last_checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			zone_id = EXCLUDED.zone_id,
			name = EXCLUDED.name,
			record_type = EXCLUDED.record_type,
			content = EXCLUDED.content,
			ttl = EXCLUDED.ttl,
			proxied = EXCLUDED.proxied,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`

	row := s.pool.QueryRow(ctx, s.connectionName, sqlQuery,
		record.ID,
		record.ZoneID,
		record.Name,
		record.Type,
		record.Content,
		record.TTL,
		record.Proxied,
		record.Status.String(),
		nullableTime(record.LastCheckedAt),
	)

	err := row.Scan(&record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert record %s %s: %w", record.Name, record.Type, err)
	}

	return nil
}

// UpdateRecordStatus marks a record's last observed health status
func (s *PostgresStore) UpdateRecordStatus(ctx context.Context, id string, status models.Status) error {
	sqlQuery := `
		UPDATE dns_records
		SET status = $2, last_checked_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`

	result, err := s.pool.Exec(ctx, s.connectionName, sqlQuery, id, status.String())
	if err != nil {
		return fmt.Errorf("failed to update status for record %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("record with ID %s not found", id)
	}

	return nil
}

// DeleteRecordByID removes a record from the local mirror
func (s *PostgresStore) DeleteRecordByID(ctx context.Context, id string) error {
	sqlQuery := `DELETE FROM dns_records WHERE id = $1`

	// The provider is the source of truth, so deleting a record we never
	// mirrored is not an error.
	if _, err := s.pool.Exec(ctx, s.connectionName, sqlQuery, id); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", id, err)
	}

	return nil
}

// Health checks if the database connection is healthy
func (s *PostgresStore) Health(ctx context.Context) error {
	return s.pool.HealthCheck(ctx, s.connectionName)
}

// Close closes the database connection pool
func (s *PostgresStore) Close() error {
	return s.pool.Close()
}

// InitializeSchema creates the controller tables if they do not exist
func (s *PostgresStore) InitializeSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, s.connectionName, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// nullableTime converts an optional timestamp for SQL parameters
func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
