package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"go.uber.org/zap"

	"github.com/i474232898/pvoutput-relay/internal/config"
	"github.com/i474232898/pvoutput-relay/internal/logging"
	"github.com/i474232898/pvoutput-relay/internal/solar"
	"github.com/i474232898/pvoutput-relay/internal/solar/providers"
	"github.com/i474232898/pvoutput-relay/internal/store"
)

var version = "dev"

// Replaced in tests.
var newHTTPClients = providers.NewHTTPClients

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("pvoutput-relay", flag.ContinueOnError)
	debug := fs.Bool("debug", false, "enable debug logging")
	powerData := fs.Bool("power-data", false, "use plant power data instead of inverter data")
	configPath := fs.String("config", "", "path to a TOML config file (default $CONFIG_FILE)")
	showVersion := fs.Bool("version", false, "print the version and exit")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *showVersion {
		fmt.Fprintln(stdout, version)
		return 0
	}

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return 1
	}
	if *powerData {
		cfg.DataMode = solar.ModePower.String()
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("failed to load config: %v", err)
		return 1
	}

	logger, err := logging.NewLogger(cfg.LogLevel, *debug)
	if err != nil {
		log.Printf("failed to build logger: %v", err)
		return 1
	}
	defer logger.Sync() //nolint:errcheck

	// Outbound clients; the insecure one is nil unless TLS fallback is enabled.
	client, insecure := newHTTPClients(cfg.HTTPTimeout, cfg.TLSFallback)

	telemetry := providers.NewSolarmanProvider(client, insecure, providers.SolarmanConfig{
		BaseURL:      cfg.Solarman.BaseURL,
		ClientID:     cfg.Solarman.ClientID,
		ClientSecret: cfg.Solarman.ClientSecret,
		PlantID:      cfg.Solarman.PlantID,
		DeviceID:     cfg.Solarman.DeviceID,
		TimezoneID:   cfg.Location.String(),
		TokenTimeout: cfg.TokenTimeout,
		DataTimeout:  cfg.HTTPTimeout,
		MaxRetries:   cfg.FetchMaxRetries,
	}, logger)

	uploader := providers.NewPVOutputProvider(client, providers.PVOutputConfig{
		BaseURL:    cfg.PVOutput.BaseURL,
		APIKey:     cfg.PVOutput.APIKey,
		SystemID:   cfg.PVOutput.SystemID,
		Timeout:    cfg.HTTPTimeout,
		MaxRetries: cfg.UploadMaxRetries,
	}, logger)

	var temperature solar.TemperatureSource
	if cfg.Weewx.Driver != "" {
		weewx, err := store.OpenWeewx(store.WeewxConfig{
			Driver:   cfg.Weewx.Driver,
			User:     cfg.Weewx.User,
			Password: cfg.Weewx.Password,
			Host:     cfg.Weewx.Host,
			Database: cfg.Weewx.Database,
			Path:     cfg.Weewx.Path,
			MaxAge:   cfg.Weewx.MaxAge,
		})
		if err != nil {
			logger.Warn("weewx unavailable, continuing without temperature", zap.Error(err))
		} else {
			defer weewx.Close()
			temperature = weewx
		}
	}

	service := solar.NewService(telemetry, temperature, uploader, cfg.Mode, cfg.Location, logger)

	if cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()
	}

	res, err := service.Run(ctx)
	if err != nil {
		logger.Error("relay run failed",
			zap.String("run_id", res.RunID),
			zap.Stringer("status", res.Status),
			zap.Error(err),
		)
	} else {
		logger.Info("relay run finished",
			zap.String("run_id", res.RunID),
			zap.Stringer("status", res.Status),
		)
	}
	return res.ExitCode()
}
