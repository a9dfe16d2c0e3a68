package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// RecommendationRecord is the audit row persisted for every computed
// recommendation (spec §3 "Recommendation (the output record,
// persisted for audit)").
type RecommendationRecord struct {
	Timestamp             time.Time
	BatteryMode           string
	DischargeCurrentAmps  int
	OptimizationStatus    string
	SolverElapsedMS       float64
	ExpectedSOCPercent    float64
	Devices               []RecommendationDevice
}

// RecommendationDevice is one device's resolved per-device fields.
type RecommendationDevice struct {
	DeviceID string `json:"device_id"`
	Desired  bool   `json:"desired"`
	Source   string `json:"source"`
	Reason   string `json:"reason"`
}

// RecommendationRepo persists and queries the recommendation audit
// log.
type RecommendationRepo struct {
	db *DB
}

func (db *DB) RecommendationRepo() *RecommendationRepo {
	return &RecommendationRepo{db: db}
}

func (r *RecommendationRepo) Save(ctx context.Context, rec RecommendationRecord) error {
	devicesJSON, err := json.Marshal(rec.Devices)
	if err != nil {
		return fmt.Errorf("recommendation repo: marshal devices: %w", err)
	}

	_, err = r.db.conn.ExecContext(ctx, `
		INSERT INTO recommendations (
			timestamp, battery_mode, discharge_current_amps,
			optimization_status, solver_elapsed_ms, expected_soc_percent, devices_json
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (timestamp) DO UPDATE SET
			battery_mode = EXCLUDED.battery_mode,
			discharge_current_amps = EXCLUDED.discharge_current_amps,
			optimization_status = EXCLUDED.optimization_status,
			solver_elapsed_ms = EXCLUDED.solver_elapsed_ms,
			expected_soc_percent = EXCLUDED.expected_soc_percent,
			devices_json = EXCLUDED.devices_json
	`, rec.Timestamp, rec.BatteryMode, rec.DischargeCurrentAmps,
		rec.OptimizationStatus, rec.SolverElapsedMS, rec.ExpectedSOCPercent, string(devicesJSON))
	if err != nil {
		return fmt.Errorf("recommendation repo: save: %w", err)
	}
	return nil
}

// Latest returns the most recently persisted recommendation, or nil
// if none has ever been saved.
func (r *RecommendationRepo) Latest(ctx context.Context) (*RecommendationRecord, error) {
	var rec RecommendationRecord
	var devicesJSON string

	err := r.db.conn.QueryRowContext(ctx, `
		SELECT timestamp, battery_mode, discharge_current_amps,
			optimization_status, solver_elapsed_ms, expected_soc_percent, devices_json
		FROM recommendations
		ORDER BY timestamp DESC
		LIMIT 1
	`).Scan(&rec.Timestamp, &rec.BatteryMode, &rec.DischargeCurrentAmps,
		&rec.OptimizationStatus, &rec.SolverElapsedMS, &rec.ExpectedSOCPercent, &devicesJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("recommendation repo: latest: %w", err)
	}

	if err := json.Unmarshal([]byte(devicesJSON), &rec.Devices); err != nil {
		return nil, fmt.Errorf("recommendation repo: unmarshal devices: %w", err)
	}
	return &rec, nil
}
