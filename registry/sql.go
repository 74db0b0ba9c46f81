package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/r3e-network/dronectl/drone"
)

// SQLRegistry is a Postgres-backed Registry. Every Upsert is a single
// statement (INSERT ... ON CONFLICT) so it serializes per drone_uuid at the
// database row level without an application-side lock.
type SQLRegistry struct {
	db *sqlx.DB
}

// NewSQLRegistry wraps an already-open database handle.
func NewSQLRegistry(db *sqlx.DB) *SQLRegistry {
	return &SQLRegistry{db: db}
}

// OpenSQLRegistry opens a Postgres connection and ensures the schema exists.
func OpenSQLRegistry(ctx context.Context, dsn string) (*SQLRegistry, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect registry database: %w", err)
	}
	reg := NewSQLRegistry(db)
	if err := reg.Migrate(ctx); err != nil {
		return nil, err
	}
	return reg, nil
}

// Migrate creates the drone_records table if it does not already exist.
func (r *SQLRegistry) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS drone_records (
			drone_uuid  TEXT PRIMARY KEY,
			state       TEXT NOT NULL,
			site        TEXT NOT NULL DEFAULT '',
			attributes  JSONB NOT NULL DEFAULT '{}',
			last_seen   TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("migrate drone_records: %w", err)
	}
	return nil
}

type attributesRow struct {
	ResourceID     string                 `json:"resource_id"`
	DNSName        string                 `json:"dns_name"`
	ResourceStatus string                 `json:"resource_status"`
	Extra          map[string]interface{} `json:"extra,omitempty"`
}

func (r *SQLRegistry) Upsert(ctx context.Context, rec Record) error {
	attrsJSON, err := json.Marshal(attributesRow{
		ResourceID:     rec.Attributes.ResourceID,
		DNSName:        rec.Attributes.DNSName,
		ResourceStatus: string(rec.Attributes.ResourceStatus),
		Extra:          rec.Attributes.Extra,
	})
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO drone_records (drone_uuid, state, site, attributes, last_seen)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (drone_uuid) DO UPDATE SET
			state      = EXCLUDED.state,
			site       = EXCLUDED.site,
			attributes = EXCLUDED.attributes,
			last_seen  = EXCLUDED.last_seen
	`, rec.DroneUUID, rec.State, rec.Site, attrsJSON, rec.LastSeen)
	if err != nil {
		return fmt.Errorf("upsert drone record %s: %w", rec.DroneUUID, err)
	}
	return nil
}

func (r *SQLRegistry) GetResourceState(ctx context.Context, droneUUID string) (string, bool, error) {
	var state string
	err := r.db.GetContext(ctx, &state, `SELECT state FROM drone_records WHERE drone_uuid = $1`, droneUUID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get resource state %s: %w", droneUUID, err)
	}
	return state, true, nil
}

func (r *SQLRegistry) GetResources(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT drone_uuid, state, site, attributes, last_seen FROM drone_records`)
	if err != nil {
		return nil, fmt.Errorf("list drone records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			droneUUID, state, site string
			attrsJSON              []byte
			lastSeen               time.Time
		)
		if err := rows.Scan(&droneUUID, &state, &site, &attrsJSON, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan drone record: %w", err)
		}
		var ar attributesRow
		if err := json.Unmarshal(attrsJSON, &ar); err != nil {
			return nil, fmt.Errorf("unmarshal attributes for %s: %w", droneUUID, err)
		}
		out = append(out, Record{
			DroneUUID: droneUUID,
			State:     state,
			Site:      site,
			Attributes: drone.Attributes{
				ResourceID:     ar.ResourceID,
				DNSName:        ar.DNSName,
				ResourceStatus: drone.ResourceStatus(ar.ResourceStatus),
				Extra:          ar.Extra,
			},
			LastSeen: lastSeen,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drone records: %w", err)
	}
	return out, nil
}

func (r *SQLRegistry) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM drone_records WHERE state = 'DownState' AND last_seen < $1
	`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune drone records: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return int(affected), nil
}

var _ Registry = (*SQLRegistry)(nil)
