package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/richowen/battery-controller/internal/override"
)

// ManualOverrideRepo implements internal/override.ManualRepo against
// manual_overrides, following the atomic deactivate-then-insert
// transaction pattern (spec §4.3).
type ManualOverrideRepo struct {
	db *DB
}

func (db *DB) ManualOverrideRepo() *ManualOverrideRepo {
	return &ManualOverrideRepo{db: db}
}

func (r *ManualOverrideRepo) Set(ctx context.Context, deviceID override.DeviceID, desiredState bool, source string, createdAt, expiresAt time.Time) (override.ManualOverride, error) {
	var row override.ManualOverride

	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE manual_overrides
			SET is_active = false, cleared_at = $1, cleared_by = 'system_replaced'
			WHERE device_id = $2 AND is_active = true
		`, createdAt, string(deviceID)); err != nil {
			return fmt.Errorf("deactivate prior active rows: %w", err)
		}

		err := tx.QueryRowContext(ctx, `
			INSERT INTO manual_overrides (device_id, is_active, desired_state, source, created_at, expires_at)
			VALUES ($1, true, $2, $3, $4, $5)
			RETURNING id
		`, string(deviceID), desiredState, source, createdAt, expiresAt).Scan(&row.ID)
		if err != nil {
			return fmt.Errorf("insert new active row: %w", err)
		}

		row.DeviceID = deviceID
		row.IsActive = true
		row.DesiredState = desiredState
		row.Source = source
		row.CreatedAt = createdAt
		row.ExpiresAt = expiresAt
		return nil
	})
	if err != nil {
		return override.ManualOverride{}, err
	}
	return row, nil
}

func (r *ManualOverrideRepo) Clear(ctx context.Context, deviceID override.DeviceID, clearedBy string, now time.Time) (int, error) {
	res, err := r.db.conn.ExecContext(ctx, `
		UPDATE manual_overrides
		SET is_active = false, cleared_at = $1, cleared_by = $2
		WHERE device_id = $3 AND is_active = true
	`, now, clearedBy, string(deviceID))
	if err != nil {
		return 0, fmt.Errorf("manual override repo: clear: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *ManualOverrideRepo) ClearAll(ctx context.Context, clearedBy string, now time.Time) (int, error) {
	res, err := r.db.conn.ExecContext(ctx, `
		UPDATE manual_overrides
		SET is_active = false, cleared_at = $1, cleared_by = $2
		WHERE is_active = true
	`, now, clearedBy)
	if err != nil {
		return 0, fmt.Errorf("manual override repo: clear all: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *ManualOverrideRepo) ActiveRow(ctx context.Context, deviceID override.DeviceID, now time.Time) (*override.ManualOverride, error) {
	var row override.ManualOverride
	err := r.db.conn.QueryRowContext(ctx, `
		SELECT id, device_id, is_active, desired_state, source, created_at, expires_at
		FROM manual_overrides
		WHERE device_id = $1 AND is_active = true AND expires_at > $2
		ORDER BY created_at DESC
		LIMIT 1
	`, string(deviceID), now).Scan(&row.ID, &row.DeviceID, &row.IsActive, &row.DesiredState, &row.Source, &row.CreatedAt, &row.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("manual override repo: active row: %w", err)
	}
	return &row, nil
}

func (r *ManualOverrideRepo) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE manual_overrides
			SET is_active = false, cleared_at = $1, cleared_by = 'system_expiry'
			WHERE is_active = true AND expires_at <= $1
		`, now)
		if err != nil {
			return fmt.Errorf("expire due rows: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		n = int(affected)
		return nil
	})
	return n, err
}

// ScheduleOverrideRepo implements internal/override.ScheduleRepo
// against the single-row-per-device schedule_overrides table plus an
// append-only schedule_transitions log for history queries.
type ScheduleOverrideRepo struct {
	db *DB
}

func (db *DB) ScheduleOverrideRepo() *ScheduleOverrideRepo {
	return &ScheduleOverrideRepo{db: db}
}

func (r *ScheduleOverrideRepo) Report(ctx context.Context, deviceID override.DeviceID, isActive bool, reason string, at time.Time) error {
	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		var deactivatedAt interface{}
		if !isActive {
			deactivatedAt = at
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO schedule_overrides (device_id, is_active, reason, updated_at, deactivated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (device_id) DO UPDATE SET
				is_active = EXCLUDED.is_active,
				reason = EXCLUDED.reason,
				updated_at = EXCLUDED.updated_at,
				deactivated_at = EXCLUDED.deactivated_at
		`, string(deviceID), isActive, reason, at, deactivatedAt); err != nil {
			return fmt.Errorf("upsert schedule row: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO schedule_transitions (device_id, is_active, reason, at)
			VALUES ($1, $2, $3, $4)
		`, string(deviceID), isActive, reason, at); err != nil {
			return fmt.Errorf("insert transition: %w", err)
		}
		return nil
	})
}

func (r *ScheduleOverrideRepo) Get(ctx context.Context, deviceID override.DeviceID) (*override.ScheduleOverride, error) {
	var row override.ScheduleOverride
	var deactivatedAt sql.NullTime
	err := r.db.conn.QueryRowContext(ctx, `
		SELECT device_id, is_active, reason, updated_at, deactivated_at
		FROM schedule_overrides
		WHERE device_id = $1
	`, string(deviceID)).Scan(&row.DeviceID, &row.IsActive, &row.Reason, &row.UpdatedAt, &deactivatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("schedule override repo: get: %w", err)
	}
	if deactivatedAt.Valid {
		row.DeactivatedAt = &deactivatedAt.Time
	}
	return &row, nil
}

func (r *ScheduleOverrideRepo) History(ctx context.Context, deviceID override.DeviceID, start, end time.Time, limit int) ([]override.ScheduleOverride, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT device_id, is_active, reason, at
		FROM schedule_transitions
		WHERE device_id = $1 AND at >= $2 AND at <= $3
		ORDER BY at DESC
		LIMIT $4
	`, string(deviceID), start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("schedule override repo: history: %w", err)
	}
	defer rows.Close()

	var out []override.ScheduleOverride
	for rows.Next() {
		var row override.ScheduleOverride
		if err := rows.Scan(&row.DeviceID, &row.IsActive, &row.Reason, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("schedule override repo: scan: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
