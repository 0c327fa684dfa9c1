package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/i474232898/pvoutput-relay/internal/solar"
)

var validate = validator.New()

type AppConfig struct {
	Solarman SolarmanConfig `toml:"solarman"`
	PVOutput PVOutputConfig `toml:"pvoutput"`
	Weewx    WeewxConfig    `toml:"weewx"`

	// DataMode is "inverter" (default) or "power".
	DataMode string `toml:"data_mode" validate:"oneof=power inverter"`
	// Timezone is the deployment's IANA zone; used for "today", the Solarman
	// timezone_id parameter and the local date/time sent to PVOutput.
	Timezone string `toml:"timezone" validate:"required"`

	HTTPTimeout      time.Duration `toml:"http_timeout"`
	TokenTimeout     time.Duration `toml:"token_timeout"`
	FetchMaxRetries  int           `toml:"fetch_max_retries" validate:"gte=0"`
	UploadMaxRetries int           `toml:"upload_max_retries" validate:"gte=0"`
	TLSFallback      bool          `toml:"tls_fallback"`
	RunTimeout       time.Duration `toml:"run_timeout"`

	LogLevel string `toml:"log_level"`

	// Derived after validation.
	Mode     solar.Mode     `toml:"-"`
	Location *time.Location `toml:"-"`
}

type SolarmanConfig struct {
	BaseURL      string `toml:"base_url" validate:"required,url"`
	ClientID     string `toml:"client_id" validate:"required"`
	ClientSecret string `toml:"client_secret" validate:"required"`
	PlantID      string `toml:"plant_id" validate:"required"`
	DeviceID     string `toml:"device_id" validate:"omitempty,numeric"`
}

type PVOutputConfig struct {
	BaseURL  string `toml:"base_url" validate:"required,url"`
	APIKey   string `toml:"api_key" validate:"required"`
	SystemID string `toml:"system_id" validate:"required,numeric"`
}

type WeewxConfig struct {
	// Driver is empty (no weather station), "mysql" or "sqlite".
	Driver   string        `toml:"driver" validate:"omitempty,oneof=mysql sqlite"`
	User     string        `toml:"user"`
	Password string        `toml:"password"`
	Host     string        `toml:"host"`
	Database string        `toml:"database"`
	Path     string        `toml:"path"`
	MaxAge   time.Duration `toml:"max_age"`
}

// Defaults returns the configuration used before any file or environment is applied.
func Defaults() *AppConfig {
	return &AppConfig{
		Solarman: SolarmanConfig{BaseURL: "https://openapi.solarmanpv.com/v1"},
		PVOutput: PVOutputConfig{BaseURL: "https://pvoutput.org/service/r2"},
		Weewx:    WeewxConfig{MaxAge: 15 * time.Minute},

		DataMode:         "inverter",
		Timezone:         "Australia/Canberra",
		HTTPTimeout:      40 * time.Second,
		TokenTimeout:     15 * time.Second,
		FetchMaxRetries:  0,
		UploadMaxRetries: 2,
		TLSFallback:      true,
		RunTimeout:       2 * time.Minute,
		LogLevel:         "info",
	}
}

// Load reads configuration from an optional .env file, an optional TOML file
// and the environment, in that order of increasing precedence. path falls
// back to CONFIG_FILE when empty.
func Load(path string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := Defaults()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *AppConfig) error {
	cfg.Solarman.BaseURL = getenvDefault("SOLARMAN_BASE_URL", cfg.Solarman.BaseURL)
	cfg.Solarman.ClientID = getenvDefault("SOLARMAN_CLIENT_ID", cfg.Solarman.ClientID)
	cfg.Solarman.ClientSecret = getenvDefault("SOLARMAN_CLIENT_SECRET", cfg.Solarman.ClientSecret)
	cfg.Solarman.PlantID = getenvDefault("SOLARMAN_PLANT_ID", cfg.Solarman.PlantID)
	cfg.Solarman.DeviceID = getenvDefault("SOLARMAN_DEVICE_ID", cfg.Solarman.DeviceID)

	cfg.PVOutput.BaseURL = getenvDefault("PVOUTPUT_BASE_URL", cfg.PVOutput.BaseURL)
	cfg.PVOutput.APIKey = getenvDefault("PVOUTPUT_API_KEY", cfg.PVOutput.APIKey)
	cfg.PVOutput.SystemID = getenvDefault("PVOUTPUT_SYSTEM_ID", cfg.PVOutput.SystemID)

	cfg.Weewx.Driver = strings.ToLower(getenvDefault("WEEWX_DRIVER", cfg.Weewx.Driver))
	cfg.Weewx.User = getenvDefault("WEEWX_USER", cfg.Weewx.User)
	cfg.Weewx.Password = getenvDefault("WEEWX_PASSWORD", cfg.Weewx.Password)
	cfg.Weewx.Host = getenvDefault("WEEWX_HOST", cfg.Weewx.Host)
	cfg.Weewx.Database = getenvDefault("WEEWX_DATABASE", cfg.Weewx.Database)
	cfg.Weewx.Path = getenvDefault("WEEWX_PATH", cfg.Weewx.Path)

	cfg.DataMode = strings.ToLower(getenvDefault("DATA_MODE", cfg.DataMode))
	cfg.Timezone = getenvDefault("TIMEZONE", cfg.Timezone)
	cfg.LogLevel = getenvDefault("LOG_LEVEL", cfg.LogLevel)

	var err error
	if cfg.FetchMaxRetries, err = getenvInt("FETCH_MAX_RETRIES", cfg.FetchMaxRetries); err != nil {
		return err
	}
	if cfg.UploadMaxRetries, err = getenvInt("UPLOAD_MAX_RETRIES", cfg.UploadMaxRetries); err != nil {
		return err
	}
	if cfg.TLSFallback, err = getenvBool("TLS_FALLBACK", cfg.TLSFallback); err != nil {
		return err
	}
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"HTTP_TIMEOUT", &cfg.HTTPTimeout},
		{"TOKEN_TIMEOUT", &cfg.TokenTimeout},
		{"RUN_TIMEOUT", &cfg.RunTimeout},
		{"WEEWX_MAX_AGE", &cfg.Weewx.MaxAge},
	}
	for _, d := range durations {
		if *d.dst, err = getenvDuration(d.key, *d.dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the configuration and fills in Mode and Location.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	mode, err := solar.ParseMode(c.DataMode)
	if err != nil {
		return err
	}
	if mode == solar.ModeInverter && c.Solarman.DeviceID == "" {
		return errors.New("invalid config: SOLARMAN_DEVICE_ID is required in inverter mode")
	}

	switch c.Weewx.Driver {
	case "mysql":
		if c.Weewx.Host == "" || c.Weewx.Database == "" || c.Weewx.User == "" {
			return errors.New("invalid config: WEEWX_HOST, WEEWX_DATABASE and WEEWX_USER are required for mysql")
		}
	case "sqlite":
		if c.Weewx.Path == "" {
			return errors.New("invalid config: WEEWX_PATH is required for sqlite")
		}
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	c.Mode = mode
	c.Location = loc
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getenvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
