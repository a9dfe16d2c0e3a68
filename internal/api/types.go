// Package api exposes the controller over HTTP (spec §6 "HTTP API")
// plus a supplemental WebSocket feed for live recommendation pushes,
// following the teacher's mux-plus-broadcaster shape.
package api

import (
	"context"
	"time"

	"github.com/richowen/battery-controller/internal/adapter"
	"github.com/richowen/battery-controller/internal/override"
	"github.com/richowen/battery-controller/internal/tariff"
)

// DeviceDecision is one device's resolved fields in a Recommendation.
type DeviceDecision struct {
	DeviceID string `json:"device_id"`
	Desired  bool   `json:"desired"`
	Source   string `json:"source"`
	Reason   string `json:"reason"`
}

// Recommendation is the full response for GET /recommendation/now
// (spec §3 Recommendation).
type Recommendation struct {
	Timestamp              time.Time        `json:"timestamp"`
	Mode                   string           `json:"mode"`
	DischargeCurrentAmps   int              `json:"discharge_current"`
	Devices                []DeviceDecision `json:"devices"`
	OptimizationStatus     string           `json:"optimization_status"`
	ExpectedSOCPercent     float64          `json:"expected_soc"`
	OptimizationTimeMS     float64          `json:"optimization_time_ms"`
	ManualOverrideActive   bool             `json:"manual_override_active"`
	ScheduleOverrideActive bool             `json:"schedule_override_active"`
}

// TariffService backs /prices/refresh and /prices/current.
type TariffService interface {
	RefreshPrices(ctx context.Context) (tariff.IngestReport, tariff.PriceWindowStats, error)
	Window(ctx context.Context, start, end time.Time) ([]tariff.PricePoint, error)
}

// RecommendationService backs /recommendation/now.
type RecommendationService interface {
	Now(ctx context.Context) (Recommendation, error)
}

// StateService backs /state/current.
type StateService interface {
	Current(ctx context.Context) (adapter.SystemState, error)
}

// ScheduleUpdate is the body of POST /schedule/update.
type ScheduleUpdate struct {
	DeviceID  string    `json:"device_id"`
	IsActive  bool      `json:"is_active"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// ScheduleService backs the /schedule/* endpoints.
type ScheduleService interface {
	Update(ctx context.Context, update ScheduleUpdate) error
	Status(ctx context.Context) (map[override.DeviceID]override.ScheduleStatus, error)
	History(ctx context.Context, deviceID override.DeviceID, start, end time.Time, limit int) ([]override.ScheduleOverride, error)
}

// ManualOverrideSet is the body of POST /manual-override/set.
type ManualOverrideSet struct {
	DeviceID      string  `json:"device_id"`
	DesiredState  bool    `json:"desired_state"`
	Source        string  `json:"source,omitempty"`
	DurationHours float64 `json:"duration_hours,omitempty"`
}

// ManualOverrideService backs the /manual-override/* endpoints.
type ManualOverrideService interface {
	Set(ctx context.Context, set ManualOverrideSet) (override.ManualOverride, error)
	Status(ctx context.Context) (map[override.DeviceID]override.ManualStatus, error)
	Clear(ctx context.Context, deviceID override.DeviceID, clearedBy string) (int, error)
	ClearAll(ctx context.Context, clearedBy string) (int, error)
}

// HealthService backs GET /health.
type HealthService interface {
	Healthy(ctx context.Context) bool
}

// Dependencies wires the concrete implementations (internal/controller
// supplies these) into the HTTP surface.
type Dependencies struct {
	Tariff          TariffService
	Recommendation  RecommendationService
	State           StateService
	Schedule        ScheduleService
	ManualOverride  ManualOverrideService
	Health          HealthService
	RequestTimeout  time.Duration
}
