// Package config holds the tunables for the battery-and-immersion
// controller and the JSON file format they are loaded from.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Config is the full set of tunables for the controller. All fields have
// sane defaults via DefaultConfig; callers only need to override what
// their installation requires.
type Config struct {
	// Battery parameters (spec §6 "battery.*")
	BatteryCapacityKWh    float64 `json:"battery_capacity_kwh"`
	BatteryMaxChargeKW    float64 `json:"battery_max_charge_kw"`
	BatteryMaxDischargeKW float64 `json:"battery_max_discharge_kw"`
	BatteryEfficiency     float64 `json:"battery_efficiency"`
	BatteryMinSOCPercent  float64 `json:"battery_min_soc_pct"`
	BatteryMaxSOCPercent  float64 `json:"battery_max_soc_pct"`

	// MinTerminalSOCPercent defaults to BatteryMinSOCPercent when zero.
	MinTerminalSOCPercent float64 `json:"min_terminal_soc_pct"`
	// DesiredEndOfHorizonSOCPercent, when > 0, tightens the terminal
	// constraint beyond MinTerminalSOCPercent.
	DesiredEndOfHorizonSOCPercent float64 `json:"desired_end_of_horizon_soc_pct"`

	// Solar
	SolarCapacityKW float64 `json:"solar_capacity_kw"`

	// Tariff store
	TariffRetentionDays int `json:"tariff_retention_days"`

	// Horizon / load
	HorizonSteps          int     `json:"horizon_steps"`
	LoadProfileKWhPerStep float64 `json:"load_profile_kwh_per_step"`

	// Optimiser
	SolverTimeout             time.Duration `json:"optimizer_solver_timeout"`
	SOCGridSteps              int           `json:"optimizer_soc_grid_steps"`
	ChargeLevels              int           `json:"optimizer_charge_levels"`
	DischargeLevels           int           `json:"optimizer_discharge_levels"`
	DefaultDischargeCurrentA  int           `json:"default_discharge_current_amps"`
	MaxDischargeCurrentA      int           `json:"max_discharge_current_amps"`
	DischargeCurrentScaleAKW  float64       `json:"discharge_current_scale_amps_per_kw"`
	ExportPricePerKWh         float64       `json:"export_price_per_kwh"`
	ImmersionHighSolarKW      float64       `json:"immersion_high_solar_kw"`
	ImmersionNegativePriceSOC float64       `json:"immersion_negative_price_soc_pct"`
	ImmersionCheapSOC         float64       `json:"immersion_cheap_soc_pct"`
	ImmersionHighSolarSOC     float64       `json:"immersion_high_solar_soc_pct"`

	// Override store
	ManualDefaultDuration   time.Duration `json:"override_manual_default_duration"`
	ManualMaxDuration       time.Duration `json:"override_manual_max_duration"`
	ScheduleStaleThreshold  time.Duration `json:"override_schedule_stale_threshold"`

	// Expiry worker
	ExpiryWorkerPeriod time.Duration `json:"expiry_worker_period"`

	// Adapter
	AdapterReadTimeout     time.Duration `json:"adapter_read_timeout"`
	AdapterStaleSnapshot   time.Duration `json:"adapter_stale_snapshot_threshold"`

	// API
	APIRequestTimeout time.Duration `json:"api_request_timeout"`
	HTTPPort          int           `json:"http_port"`

	// Tariff client (external HTTP fetch)
	TariffAPIBaseURL       string        `json:"tariff_api_base_url"`
	TariffAPITimeout       time.Duration `json:"tariff_api_timeout"`
	TariffFetchMaxRetries  int           `json:"tariff_fetch_max_retries"`

	// Persistence
	PostgresConnString string `json:"postgres_conn_string"`

	// Smart-home bridge (Modbus)
	PlantModbusAddress string        `json:"plant_modbus_address"`
	ModbusTimeout      time.Duration `json:"modbus_timeout"`

	// Solar forecast / weather
	Latitude              float64       `json:"latitude"`
	Longitude             float64       `json:"longitude"`
	UserAgent             string        `json:"user_agent"`
	WeatherUpdateInterval time.Duration `json:"weather_update_interval"`

	// Periodic task cadence
	PriceRefreshInterval         time.Duration `json:"price_refresh_interval"`
	RecomputeInterval            time.Duration `json:"recompute_interval"`
	SolarForecastRefreshInterval time.Duration `json:"solar_forecast_refresh_interval"`

	// Logging
	LogLevel string `json:"log_level"`
}

// DefaultConfig returns a configuration carrying the defaults from
// spec §6, plus defaults for the ambient/domain additions.
func DefaultConfig() *Config {
	return &Config{
		BatteryCapacityKWh:    10.0,
		BatteryMaxChargeKW:    5.0,
		BatteryMaxDischargeKW: 5.0,
		BatteryEfficiency:     0.95,
		BatteryMinSOCPercent:  10,
		BatteryMaxSOCPercent:  100,
		MinTerminalSOCPercent: 10,

		SolarCapacityKW: 8.0,

		TariffRetentionDays: 7,

		HorizonSteps:          48,
		LoadProfileKWhPerStep: 0.25,

		SolverTimeout:            1000 * time.Millisecond,
		SOCGridSteps:             400,
		ChargeLevels:             5,
		DischargeLevels:          5,
		DefaultDischargeCurrentA: 50,
		MaxDischargeCurrentA:     100,
		DischargeCurrentScaleAKW: 10.0,
		ExportPricePerKWh:        0.0,
		ImmersionHighSolarKW:     5.0,
		ImmersionNegativePriceSOC: 90,
		ImmersionCheapSOC:         95,
		ImmersionHighSolarSOC:     95,

		ManualDefaultDuration:  2 * time.Hour,
		ManualMaxDuration:      24 * time.Hour,
		ScheduleStaleThreshold: 300 * time.Second,

		ExpiryWorkerPeriod: 300 * time.Second,

		AdapterReadTimeout:   3 * time.Second,
		AdapterStaleSnapshot: 5 * time.Minute,

		APIRequestTimeout: 5 * time.Second,
		HTTPPort:          8080,

		TariffAPIBaseURL:      "",
		TariffAPITimeout:      15 * time.Second,
		TariffFetchMaxRetries: 3,

		PostgresConnString: "",

		PlantModbusAddress: "",
		ModbusTimeout:      3 * time.Second,

		Latitude:              51.5072, // London
		Longitude:             -0.1276,
		UserAgent:             "battery-controller/1.0 (ops@example.com)",
		WeatherUpdateInterval: 1 * time.Hour,

		PriceRefreshInterval:         30 * time.Minute,
		RecomputeInterval:            5 * time.Minute,
		SolarForecastRefreshInterval: 1 * time.Hour,

		LogLevel: "info",
	}
}

// LoadConfig loads configuration from a JSON file, starting from
// DefaultConfig and overriding whatever the file specifies.
func LoadConfig(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return LoadConfigFromReader(file)
}

// LoadConfigFromReader loads configuration from an io.Reader.
func LoadConfigFromReader(reader io.Reader) (*Config, error) {
	config := DefaultConfig()

	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config JSON: %w", err)
	}

	if config.MinTerminalSOCPercent == 0 {
		config.MinTerminalSOCPercent = config.BatteryMinSOCPercent
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// SaveConfig saves the configuration to a JSON file.
func (c *Config) SaveConfig(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	return c.SaveConfigToWriter(file)
}

// SaveConfigToWriter saves the configuration to an io.Writer.
func (c *Config) SaveConfigToWriter(writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config JSON: %w", err)
	}

	return nil
}

// Validate checks the configuration for internally consistent values.
func (c *Config) Validate() error {
	if c.BatteryCapacityKWh <= 0 {
		return fmt.Errorf("battery_capacity_kwh must be positive, got: %f", c.BatteryCapacityKWh)
	}
	if c.BatteryMaxChargeKW < 0 {
		return fmt.Errorf("battery_max_charge_kw must be non-negative, got: %f", c.BatteryMaxChargeKW)
	}
	if c.BatteryMaxDischargeKW < 0 {
		return fmt.Errorf("battery_max_discharge_kw must be non-negative, got: %f", c.BatteryMaxDischargeKW)
	}
	if c.BatteryEfficiency <= 0 || c.BatteryEfficiency > 1 {
		return fmt.Errorf("battery_efficiency must be in (0, 1], got: %f", c.BatteryEfficiency)
	}
	if c.BatteryMinSOCPercent < 0 || c.BatteryMinSOCPercent > 100 {
		return fmt.Errorf("battery_min_soc_pct must be between 0 and 100, got: %f", c.BatteryMinSOCPercent)
	}
	if c.BatteryMaxSOCPercent < 0 || c.BatteryMaxSOCPercent > 100 {
		return fmt.Errorf("battery_max_soc_pct must be between 0 and 100, got: %f", c.BatteryMaxSOCPercent)
	}
	if c.BatteryMinSOCPercent > c.BatteryMaxSOCPercent {
		return fmt.Errorf("battery_min_soc_pct (%f) cannot be greater than battery_max_soc_pct (%f)", c.BatteryMinSOCPercent, c.BatteryMaxSOCPercent)
	}
	if c.MinTerminalSOCPercent < c.BatteryMinSOCPercent || c.MinTerminalSOCPercent > c.BatteryMaxSOCPercent {
		return fmt.Errorf("min_terminal_soc_pct (%f) must be within [battery_min_soc_pct, battery_max_soc_pct]", c.MinTerminalSOCPercent)
	}
	if c.SolarCapacityKW < 0 {
		return fmt.Errorf("solar_capacity_kw must be non-negative, got: %f", c.SolarCapacityKW)
	}
	if c.TariffRetentionDays <= 0 {
		return fmt.Errorf("tariff_retention_days must be positive, got: %d", c.TariffRetentionDays)
	}
	if c.HorizonSteps <= 0 {
		return fmt.Errorf("horizon_steps must be positive, got: %d", c.HorizonSteps)
	}
	if c.LoadProfileKWhPerStep < 0 {
		return fmt.Errorf("load_profile_kwh_per_step must be non-negative, got: %f", c.LoadProfileKWhPerStep)
	}
	if c.SolverTimeout <= 0 {
		return fmt.Errorf("optimizer_solver_timeout must be greater than 0, got: %s", c.SolverTimeout)
	}
	if c.SOCGridSteps < 10 {
		return fmt.Errorf("optimizer_soc_grid_steps must be at least 10, got: %d", c.SOCGridSteps)
	}
	if c.ChargeLevels < 1 || c.DischargeLevels < 1 {
		return fmt.Errorf("optimizer_charge_levels and optimizer_discharge_levels must be at least 1")
	}
	if c.DefaultDischargeCurrentA < 0 || c.MaxDischargeCurrentA < 0 {
		return fmt.Errorf("discharge current settings must be non-negative")
	}
	if c.ManualDefaultDuration <= 0 {
		return fmt.Errorf("override_manual_default_duration must be greater than 0, got: %s", c.ManualDefaultDuration)
	}
	if c.ManualMaxDuration < c.ManualDefaultDuration {
		return fmt.Errorf("override_manual_max_duration must be >= override_manual_default_duration")
	}
	if c.ScheduleStaleThreshold <= 0 {
		return fmt.Errorf("override_schedule_stale_threshold must be greater than 0, got: %s", c.ScheduleStaleThreshold)
	}
	if c.ExpiryWorkerPeriod <= 0 {
		return fmt.Errorf("expiry_worker_period must be greater than 0, got: %s", c.ExpiryWorkerPeriod)
	}
	if c.AdapterReadTimeout <= 0 {
		return fmt.Errorf("adapter_read_timeout must be greater than 0, got: %s", c.AdapterReadTimeout)
	}
	if c.AdapterStaleSnapshot <= 0 {
		return fmt.Errorf("adapter_stale_snapshot_threshold must be greater than 0, got: %s", c.AdapterStaleSnapshot)
	}
	if c.APIRequestTimeout <= 0 {
		return fmt.Errorf("api_request_timeout must be greater than 0, got: %s", c.APIRequestTimeout)
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be between 0 and 65535, got: %d", c.HTTPPort)
	}
	if c.TariffAPITimeout <= 0 {
		return fmt.Errorf("tariff_api_timeout must be greater than 0, got: %s", c.TariffAPITimeout)
	}
	if c.TariffFetchMaxRetries < 0 {
		return fmt.Errorf("tariff_fetch_max_retries must be non-negative, got: %d", c.TariffFetchMaxRetries)
	}
	if c.ModbusTimeout <= 0 {
		return fmt.Errorf("modbus_timeout must be greater than 0, got: %s", c.ModbusTimeout)
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude must be between -90 and 90, got: %f", c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude must be between -180 and 180, got: %f", c.Longitude)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user_agent cannot be empty")
	}
	if c.WeatherUpdateInterval <= 0 {
		return fmt.Errorf("weather_update_interval must be greater than 0, got: %s", c.WeatherUpdateInterval)
	}
	if c.PriceRefreshInterval <= 0 {
		return fmt.Errorf("price_refresh_interval must be greater than 0, got: %s", c.PriceRefreshInterval)
	}
	if c.RecomputeInterval <= 0 {
		return fmt.Errorf("recompute_interval must be greater than 0, got: %s", c.RecomputeInterval)
	}
	if c.SolarForecastRefreshInterval <= 0 {
		return fmt.Errorf("solar_forecast_refresh_interval must be greater than 0, got: %s", c.SolarForecastRefreshInterval)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level: %s, must be one of: debug, info, warn, error", c.LogLevel)
	}

	return nil
}

// durationAlias lists every time.Duration field that needs
// string<->duration translation across JSON boundaries.
type durationAlias struct {
	SolverTimeout                string `json:"optimizer_solver_timeout"`
	ManualDefaultDuration        string `json:"override_manual_default_duration"`
	ManualMaxDuration            string `json:"override_manual_max_duration"`
	ScheduleStaleThreshold       string `json:"override_schedule_stale_threshold"`
	ExpiryWorkerPeriod           string `json:"expiry_worker_period"`
	AdapterReadTimeout           string `json:"adapter_read_timeout"`
	AdapterStaleSnapshot         string `json:"adapter_stale_snapshot_threshold"`
	APIRequestTimeout            string `json:"api_request_timeout"`
	TariffAPITimeout             string `json:"tariff_api_timeout"`
	ModbusTimeout                string `json:"modbus_timeout"`
	WeatherUpdateInterval        string `json:"weather_update_interval"`
	PriceRefreshInterval         string `json:"price_refresh_interval"`
	RecomputeInterval            string `json:"recompute_interval"`
	SolarForecastRefreshInterval string `json:"solar_forecast_refresh_interval"`
}

// MarshalJSON implements custom JSON marshaling so durations serialize
// as human-readable strings (e.g. "5m0s") rather than nanosecond ints.
func (c *Config) MarshalJSON() ([]byte, error) {
	type Alias Config
	type aliasWrap struct{ *Alias }
	return json.Marshal(&struct {
		aliasWrap
		durationAlias
	}{
		aliasWrap: aliasWrap{(*Alias)(c)},
		durationAlias: durationAlias{
			SolverTimeout:                c.SolverTimeout.String(),
			ManualDefaultDuration:        c.ManualDefaultDuration.String(),
			ManualMaxDuration:            c.ManualMaxDuration.String(),
			ScheduleStaleThreshold:       c.ScheduleStaleThreshold.String(),
			ExpiryWorkerPeriod:           c.ExpiryWorkerPeriod.String(),
			AdapterReadTimeout:           c.AdapterReadTimeout.String(),
			AdapterStaleSnapshot:         c.AdapterStaleSnapshot.String(),
			APIRequestTimeout:            c.APIRequestTimeout.String(),
			TariffAPITimeout:             c.TariffAPITimeout.String(),
			ModbusTimeout:                c.ModbusTimeout.String(),
			WeatherUpdateInterval:        c.WeatherUpdateInterval.String(),
			PriceRefreshInterval:         c.PriceRefreshInterval.String(),
			RecomputeInterval:            c.RecomputeInterval.String(),
			SolarForecastRefreshInterval: c.SolarForecastRefreshInterval.String(),
		},
	})
}

// UnmarshalJSON implements custom JSON unmarshaling, parsing duration
// strings back into time.Duration values.
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config
	type aliasWrap struct{ *Alias }
	aux := &struct {
		aliasWrap
		durationAlias
	}{
		aliasWrap: aliasWrap{(*Alias)(c)},
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	parse := func(name, s string, dst *time.Duration) error {
		if s == "" {
			return nil
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		*dst = d
		return nil
	}

	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"optimizer_solver_timeout", aux.SolverTimeout, &c.SolverTimeout},
		{"override_manual_default_duration", aux.ManualDefaultDuration, &c.ManualDefaultDuration},
		{"override_manual_max_duration", aux.ManualMaxDuration, &c.ManualMaxDuration},
		{"override_schedule_stale_threshold", aux.ScheduleStaleThreshold, &c.ScheduleStaleThreshold},
		{"expiry_worker_period", aux.ExpiryWorkerPeriod, &c.ExpiryWorkerPeriod},
		{"adapter_read_timeout", aux.AdapterReadTimeout, &c.AdapterReadTimeout},
		{"adapter_stale_snapshot_threshold", aux.AdapterStaleSnapshot, &c.AdapterStaleSnapshot},
		{"api_request_timeout", aux.APIRequestTimeout, &c.APIRequestTimeout},
		{"tariff_api_timeout", aux.TariffAPITimeout, &c.TariffAPITimeout},
		{"modbus_timeout", aux.ModbusTimeout, &c.ModbusTimeout},
		{"weather_update_interval", aux.WeatherUpdateInterval, &c.WeatherUpdateInterval},
		{"price_refresh_interval", aux.PriceRefreshInterval, &c.PriceRefreshInterval},
		{"recompute_interval", aux.RecomputeInterval, &c.RecomputeInterval},
		{"solar_forecast_refresh_interval", aux.SolarForecastRefreshInterval, &c.SolarForecastRefreshInterval},
	}
	for _, f := range fields {
		if err := parse(f.name, f.raw, f.dst); err != nil {
			return err
		}
	}

	return nil
}

// String returns a pretty-printed JSON representation of the config.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
