// Package main provides the battery-and-immersion controller's entry
// point and CLI interface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/richowen/battery-controller/internal/adapter"
	"github.com/richowen/battery-controller/internal/api"
	"github.com/richowen/battery-controller/internal/bridge"
	"github.com/richowen/battery-controller/internal/config"
	"github.com/richowen/battery-controller/internal/controller"
	"github.com/richowen/battery-controller/internal/meteo"
	"github.com/richowen/battery-controller/internal/override"
	"github.com/richowen/battery-controller/internal/solarforecast"
	"github.com/richowen/battery-controller/internal/storage"
	"github.com/richowen/battery-controller/internal/tariff"
	"github.com/richowen/battery-controller/internal/tariffclient"
)

func main() {
	var (
		configFile = flag.String("config", "config.json", "Configuration file path")
		info       = flag.Bool("info", false, "Show the effective configuration and exit")
		help       = flag.Bool("help", false, "Show help message")
		serverOnly = flag.Bool("serverOnly", false, "Run only the HTTP/WebSocket API without periodic tasks")
		once       = flag.Bool("once", false, "Compute a single recommendation, print it, and exit")
	)
	flag.Parse()

	if *help {
		showHelp()
		return
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Println("Error loading configuration:", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Println("Invalid configuration:", err)
		os.Exit(1)
	}

	if *info {
		fmt.Println(cfg.String())
		return
	}

	logger := log.New(os.Stdout, "[CONTROLLER] ", log.LstdFlags)

	db, err := storage.Open(cfg.PostgresConnString)
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer db.Close()

	homeBridge, err := newBridge(cfg)
	if err != nil {
		logger.Fatalf("bridge: %v", err)
	}
	defer homeBridge.Close()

	var priceSource tariffclient.Source
	if cfg.TariffAPIBaseURL != "" {
		priceSource = tariffclient.NewHTTPClient(cfg.TariffAPIBaseURL, cfg.UserAgent, cfg.TariffAPITimeout, cfg.TariffFetchMaxRetries)
	}

	weatherClient := meteo.NewClient(cfg.UserAgent)
	weatherLocation := meteo.Location{Latitude: cfg.Latitude, Longitude: cfg.Longitude}

	ctl := controller.New(cfg, controller.Deps{
		Tariff:          tariff.New(db.TariffRepo(), cfg.TariffRetentionDays, logger),
		Override:        override.New(db.ManualOverrideRepo(), db.ScheduleOverrideRepo(), cfg.ManualDefaultDuration, cfg.ManualMaxDuration, cfg.ScheduleStaleThreshold, logger),
		Adapter:         adapter.New(homeBridge, cfg.AdapterReadTimeout, cfg.AdapterStaleSnapshot, logger),
		Recommendations: db.RecommendationRepo(),
		PriceSource:     priceSource,
		SolarBuilder: &solarforecast.Builder{
			Latitude:   cfg.Latitude,
			Longitude:  cfg.Longitude,
			CapacityKW: cfg.SolarCapacityKW,
			WeatherFunc: func(ctx context.Context) (*meteo.METJSONForecast, error) {
				return weatherClient.GetCompact(meteo.QueryParams{Location: weatherLocation})
			},
		},
		Health: db,
		Logger: logger,
	})

	if *once {
		runOnce(ctl, logger)
		return
	}

	server := api.New(ctl.Dependencies(), cfg.HTTPPort, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	server.Start()
	logger.Printf("api listening on :%d", cfg.HTTPPort)

	if !*serverOnly {
		go ctl.Run(ctx)
	}

	logger.Printf("controller started. Press Ctrl+C to stop...")
	<-sigChan
	logger.Printf("shutdown signal received, stopping...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Printf("api shutdown error: %v", err)
	}

	logger.Printf("controller stopped")
}

func runOnce(ctl *controller.Controller, logger *log.Logger) {
	rec, err := ctl.Now(context.Background())
	if err != nil {
		logger.Printf("error computing recommendation: %v", err)
		return
	}

	fmt.Printf("mode=%s discharge_current=%dA status=%s expected_soc=%.1f%%\n",
		rec.Mode, rec.DischargeCurrentAmps, rec.OptimizationStatus, rec.ExpectedSOCPercent)
	for _, d := range rec.Devices {
		fmt.Printf("  %-6s desired=%v source=%-18s reason=%s\n", d.DeviceID, d.Desired, d.Source, d.Reason)
	}
}

func newBridge(cfg *config.Config) (bridge.HomeBridge, error) {
	if cfg.PlantModbusAddress == "" {
		return &bridge.StaticBridge{SoC: 50, SolarKW: 0}, nil
	}
	return bridge.NewModbusTCPBridge(cfg.PlantModbusAddress, cfg.ModbusTimeout, nil)
}

func showHelp() {
	fmt.Println("Battery-and-immersion controller")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  controller [flags]")
	fmt.Println()
	flag.PrintDefaults()
}
