// Package override stores and resolves manual and schedule overrides
// for the two heating devices (spec §3, §4.3). Both override kinds
// share the "heartbeat or atomic deactivate-then-insert" discipline
// that lets the priority resolver (internal/resolver) trust the store
// without re-deriving staleness itself.
package override

import (
	"errors"
	"time"
)

// DeviceID enumerates the closed set of controllable devices. Unlike
// the teacher's open miner registry, this system controls exactly two
// named immersion heaters, so the set is closed rather than discovered.
type DeviceID string

const (
	DeviceMain DeviceID = "main"
	DeviceLucy DeviceID = "lucy"
)

// Devices lists every DeviceID the store and resolver iterate over.
var Devices = []DeviceID{DeviceMain, DeviceLucy}

// ErrUnknownDevice is returned by call sites that need to reject a
// device_id outside the closed enumeration (spec §6/§7) before it ever
// reaches the override store.
var ErrUnknownDevice = errors.New("override: unknown device_id")

// IsValidDevice reports whether id is one of the closed set of
// controllable devices.
func IsValidDevice(id DeviceID) bool {
	for _, d := range Devices {
		if d == id {
			return true
		}
	}
	return false
}

// ManualOverride mirrors spec §3's ManualOverride row.
type ManualOverride struct {
	ID           int64
	DeviceID     DeviceID
	IsActive     bool
	DesiredState bool
	Source       string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	ClearedAt    *time.Time
	ClearedBy    *string
}

// ManualStatus is the resolved, point-in-time view returned to API
// callers and consumed by the priority resolver.
type ManualStatus struct {
	DeviceID             DeviceID
	IsActive             bool
	DesiredState         bool
	Source               string
	ExpiresAt            time.Time
	TimeRemainingMinutes float64
}

// ScheduleOverride mirrors spec §3's ScheduleOverride row: a single
// heartbeat-bearing row per device.
type ScheduleOverride struct {
	DeviceID      DeviceID
	IsActive      bool
	Reason        string
	UpdatedAt     time.Time
	DeactivatedAt *time.Time
}

// ScheduleStatus is the resolved heartbeat-aware view: a row can be
// IsActive=true in storage yet report inactive here if its heartbeat
// has gone stale (spec §4.3 "Schedule overrides — query").
type ScheduleStatus struct {
	DeviceID         DeviceID
	IsActive         bool
	Reason           string
	ActivatedAt      time.Time
	DurationMinutes  float64
}
