package bridge

import "context"

// StaticBridge is a fixed-value HomeBridge used in tests and in
// offline/dry-run mode when no plant is reachable.
type StaticBridge struct {
	SoC               float64
	SolarKW           float64
	RemainingTodayKWh float64
	NextHourKWh       float64
	Err               error
}

func (b *StaticBridge) BatterySoC(ctx context.Context) (float64, error) {
	if b.Err != nil {
		return 0, b.Err
	}
	return b.SoC, nil
}

func (b *StaticBridge) SolarPowerKW(ctx context.Context) (float64, error) {
	if b.Err != nil {
		return 0, b.Err
	}
	return b.SolarKW, nil
}

func (b *StaticBridge) SolarRemainingTodayKWh(ctx context.Context) (float64, error) {
	if b.Err != nil {
		return 0, b.Err
	}
	return b.RemainingTodayKWh, nil
}

func (b *StaticBridge) SolarNextHourKWh(ctx context.Context) (float64, error) {
	if b.Err != nil {
		return 0, b.Err
	}
	return b.NextHourKWh, nil
}

func (b *StaticBridge) Close() error { return nil }
