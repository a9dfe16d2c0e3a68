// Package bridge implements internal/adapter's HomeBridge against real
// hardware (ModbusBridge, reading the inverter/battery over Modbus TCP
// or RTU) and a fixture (StaticBridge, for tests and offline runs).
package bridge

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/goburrow/modbus"
)

// HomeBridge is the single seam internal/adapter talks to. Solar
// remaining-today / next-hour figures are not readable Modbus
// registers on this hardware; bridges that cannot measure them
// directly delegate to an injected forecast source.
type HomeBridge interface {
	BatterySoC(ctx context.Context) (float64, error)
	SolarPowerKW(ctx context.Context) (float64, error)
	SolarRemainingTodayKWh(ctx context.Context) (float64, error)
	SolarNextHourKWh(ctx context.Context) (float64, error)
	Close() error
}

// ForecastSource supplies the two solar figures a plant's input
// registers cannot answer directly. internal/solarforecast.Horizon
// satisfies this by summing its own remaining steps.
type ForecastSource interface {
	RemainingTodayKWh(now time.Time) (float64, error)
	NextHourKWh(now time.Time) (float64, error)
}

// ModbusBridge reads plant running registers (slave address 247, input
// registers 30000 onward) from a Sigenergy-style hybrid inverter over
// Modbus TCP or Modbus RTU. Only the read path is used: this controller never writes
// control registers.
type ModbusBridge struct {
	client     modbus.Client
	tcpHandler *modbus.TCPClientHandler
	rtuHandler *modbus.RTUClientHandler
	forecast   ForecastSource
	now        func() time.Time
}

const plantSlaveID = 247

// NewModbusTCPBridge dials a plant's Modbus TCP endpoint. forecast may
// be nil; in that case SolarRemainingTodayKWh/SolarNextHourKWh report 0.
func NewModbusTCPBridge(address string, timeout time.Duration, forecast ForecastSource) (*ModbusBridge, error) {
	handler := modbus.NewTCPClientHandler(address)
	handler.SlaveId = plantSlaveID
	handler.Timeout = timeout

	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("bridge: connect to plant at %s: %w", address, err)
	}

	return &ModbusBridge{
		client:     modbus.NewClient(handler),
		tcpHandler: handler,
		forecast:   forecast,
		now:        time.Now,
	}, nil
}

// NewModbusRTUBridge dials a plant reachable over an RS-485 serial
// link (a direct-wired inverter with no Ethernet gateway).
func NewModbusRTUBridge(device string, baudRate int, timeout time.Duration, forecast ForecastSource) (*ModbusBridge, error) {
	handler := modbus.NewRTUClientHandler(device)
	handler.BaudRate = baudRate
	handler.DataBits = 8
	handler.Parity = "N"
	handler.StopBits = 1
	handler.SlaveId = plantSlaveID
	handler.Timeout = timeout

	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("bridge: connect to plant at %s: %w", device, err)
	}

	return &ModbusBridge{
		client:     modbus.NewClient(handler),
		rtuHandler: handler,
		forecast:   forecast,
		now:        time.Now,
	}, nil
}

func (b *ModbusBridge) Close() error {
	if b.tcpHandler != nil {
		return b.tcpHandler.Close()
	}
	if b.rtuHandler != nil {
		return b.rtuHandler.Close()
	}
	return nil
}

// BatterySoC reads the plant's ESS state of charge (register 30014,
// tenths of a percent).
func (b *ModbusBridge) BatterySoC(ctx context.Context) (float64, error) {
	data, err := b.client.ReadInputRegisters(30014, 1)
	if err != nil {
		return 0, fmt.Errorf("bridge: read battery soc: %w", err)
	}
	return float64(bytesToU16(data)) / 10.0, nil
}

// SolarPowerKW reads the plant's instantaneous photovoltaic power
// (register 30035, signed, in watts, scaled to kW).
func (b *ModbusBridge) SolarPowerKW(ctx context.Context) (float64, error) {
	data, err := b.client.ReadInputRegisters(30035, 2)
	if err != nil {
		return 0, fmt.Errorf("bridge: read solar power: %w", err)
	}
	return float64(bytesToS32(data)) / 1000.0, nil
}

func (b *ModbusBridge) SolarRemainingTodayKWh(ctx context.Context) (float64, error) {
	if b.forecast == nil {
		return 0, nil
	}
	v, err := b.forecast.RemainingTodayKWh(b.now())
	if err != nil {
		return 0, fmt.Errorf("bridge: solar remaining today: %w", err)
	}
	return v, nil
}

func (b *ModbusBridge) SolarNextHourKWh(ctx context.Context) (float64, error) {
	if b.forecast == nil {
		return 0, nil
	}
	v, err := b.forecast.NextHourKWh(b.now())
	if err != nil {
		return 0, fmt.Errorf("bridge: solar next hour: %w", err)
	}
	return v, nil
}

func bytesToU16(data []byte) uint16 {
	return binary.BigEndian.Uint16(data)
}

func bytesToS32(data []byte) int32 {
	return int32(binary.BigEndian.Uint32(data))
}
