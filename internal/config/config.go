// Package config handles loading, defaulting, and validation of the blackbox
// TOML configuration file. Every section maps to a typed struct so the rest
// of the codebase gets strong typing without manual key lookups.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/large-farva/blackbox/internal/isbd"
)

// Config is the top-level configuration, mirroring the TOML sections.
type Config struct {
	Device           DeviceConfig           `toml:"device"            json:"device"`
	FlightController FlightControllerConfig `toml:"flight_controller" json:"flight_controller"`
	Modem            ModemConfig            `toml:"modem"             json:"modem"`
	Logging          LoggingConfig          `toml:"logging"           json:"logging"`
	Server           ServerConfig           `toml:"server"            json:"server"`
	Demo             DemoConfig             `toml:"demo"              json:"demo"`
}

type DeviceConfig struct {
	StartDelaySeconds            int     `toml:"start_delay_seconds"             json:"start_delay_seconds"`
	GPSLockTimeoutSeconds        int     `toml:"gps_lock_timeout_seconds"        json:"gps_lock_timeout_seconds"`
	ConfigTimeoutSeconds         int     `toml:"config_timeout_seconds"          json:"config_timeout_seconds"`
	ConfigTimeoutDwellSeconds    int     `toml:"config_timeout_dwell_seconds"    json:"config_timeout_dwell_seconds"`
	UploadEnabled                bool    `toml:"upload_enabled"                  json:"upload_enabled"`
	UploadIntervalSeconds        int     `toml:"upload_interval_seconds"         json:"upload_interval_seconds"`
	MinUploadIntervalSeconds     int     `toml:"min_upload_interval_seconds"     json:"min_upload_interval_seconds"`
	DefaultUploadIntervalSeconds int     `toml:"default_upload_interval_seconds" json:"default_upload_interval_seconds"`
	FeedbackDwellSeconds         int     `toml:"feedback_dwell_seconds"          json:"feedback_dwell_seconds"`
	LoopIntervalMS               int     `toml:"loop_interval_ms"                json:"loop_interval_ms"`
	DistanceTriggerKm            float64 `toml:"distance_trigger_km"             json:"distance_trigger_km"`
}

type FlightControllerConfig struct {
	Port                   string  `toml:"port"                     json:"port"`
	Baud                   int     `toml:"baud"                     json:"baud"`
	SystemID               int     `toml:"system_id"                json:"system_id"`
	ComponentID            int     `toml:"component_id"             json:"component_id"`
	TargetSystem           int     `toml:"target_system"            json:"target_system"`
	RequestIntervalSeconds int     `toml:"request_interval_seconds" json:"request_interval_seconds"`
	IngestIntervalMS       int     `toml:"ingest_interval_ms"       json:"ingest_interval_ms"`
	StreamRateHz           float64 `toml:"stream_rate_hz"           json:"stream_rate_hz"`
}

type ModemConfig struct {
	Port               string `toml:"port"                 json:"port"`
	Baud               int    `toml:"baud"                 json:"baud"`
	MaxFrameBytes      int    `toml:"max_frame_bytes"      json:"max_frame_bytes"`
	SendAttempts       int    `toml:"send_attempts"        json:"send_attempts"`
	SendTimeoutSeconds int    `toml:"send_timeout_seconds" json:"send_timeout_seconds"`
	RingPollMS         int    `toml:"ring_poll_ms"         json:"ring_poll_ms"`
}

type LoggingConfig struct {
	Level string `toml:"level" json:"level"`
}

type ServerConfig struct {
	Bind string `toml:"bind" json:"bind"`
}

type DemoConfig struct {
	Enabled          bool    `toml:"enabled"            json:"enabled"`
	HomeLatitude     float64 `toml:"home_latitude"      json:"home_latitude"`
	HomeLongitude    float64 `toml:"home_longitude"     json:"home_longitude"`
	AltitudeMeters   float64 `toml:"altitude_meters"    json:"altitude_meters"`
	GroundSpeedKmh   float64 `toml:"ground_speed_kmh"   json:"ground_speed_kmh"`
	FixAfterSeconds  int     `toml:"fix_after_seconds"  json:"fix_after_seconds"`
	ConfigReply      string  `toml:"config_reply"       json:"config_reply"`
	RingAfterSeconds int     `toml:"ring_after_seconds" json:"ring_after_seconds"`
	FailureRate      float64 `toml:"failure_rate"       json:"failure_rate"`
	LatencyMS        int     `toml:"latency_ms"         json:"latency_ms"`
	TLEFile          string  `toml:"tle_file"           json:"tle_file"`
	MinElevation     float64 `toml:"min_elevation"      json:"min_elevation"`
}

// Default returns a Config populated with the values flown on the aircraft.
// Values here are used whenever the TOML file omits a field.
func Default() Config {
	return Config{
		Device: DeviceConfig{
			StartDelaySeconds:            15,
			GPSLockTimeoutSeconds:        300,
			ConfigTimeoutSeconds:         120,
			ConfigTimeoutDwellSeconds:    5,
			UploadEnabled:                true,
			UploadIntervalSeconds:        120,
			MinUploadIntervalSeconds:     15,
			DefaultUploadIntervalSeconds: 60,
			FeedbackDwellSeconds:         5,
			LoopIntervalMS:               10,
			DistanceTriggerKm:            0,
		},
		FlightController: FlightControllerConfig{
			Port:                   "/dev/ttyAMA0",
			Baud:                   57600,
			SystemID:               1,
			ComponentID:            191,
			TargetSystem:           1,
			RequestIntervalSeconds: 10,
			IngestIntervalMS:       1000,
			StreamRateHz:           2,
		},
		Modem: ModemConfig{
			Port:               "/dev/ttyUSB0",
			Baud:               19200,
			MaxFrameBytes:      100,
			SendAttempts:       10,
			SendTimeoutSeconds: 300,
			RingPollMS:         50,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Bind: "0.0.0.0:8080",
		},
		Demo: DemoConfig{
			Enabled:          false,
			HomeLatitude:     49.2606,
			HomeLongitude:    -123.2460,
			AltitudeMeters:   120,
			GroundSpeedKmh:   90,
			FixAfterSeconds:  3,
			ConfigReply:      "1,30,",
			RingAfterSeconds: 20,
			FailureRate:      0.1,
			LatencyMS:        1500,
			MinElevation:     10,
		},
	}
}

// Load reads the TOML file at path, layers it on top of the defaults, and
// validates the result. An error is returned if the file can't be read,
// parsed, or if any constraint is violated.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks cfg against every constraint Load enforces.
func Validate(cfg Config) error { return validate(cfg) }

func validate(cfg Config) error {
	d := cfg.Device
	if d.StartDelaySeconds < 0 || d.GPSLockTimeoutSeconds < 0 || d.ConfigTimeoutSeconds < 0 || d.ConfigTimeoutDwellSeconds < 0 {
		return errors.New("device delays and timeouts must be >= 0")
	}
	if d.MinUploadIntervalSeconds < 1 {
		return errors.New("device.min_upload_interval_seconds must be >= 1")
	}
	if d.DefaultUploadIntervalSeconds <= d.MinUploadIntervalSeconds {
		return errors.New("device.default_upload_interval_seconds must exceed min_upload_interval_seconds")
	}
	if d.UploadIntervalSeconds <= d.MinUploadIntervalSeconds {
		return errors.New("device.upload_interval_seconds must exceed min_upload_interval_seconds")
	}
	if d.FeedbackDwellSeconds < 0 {
		return errors.New("device.feedback_dwell_seconds must be >= 0")
	}
	if d.LoopIntervalMS < 1 || d.LoopIntervalMS > 50 {
		return errors.New("device.loop_interval_ms must be between 1 and 50")
	}
	if d.DistanceTriggerKm < 0 {
		return errors.New("device.distance_trigger_km must be >= 0")
	}

	fc := cfg.FlightController
	if fc.Baud <= 0 {
		return errors.New("flight_controller.baud must be > 0")
	}
	for name, id := range map[string]int{"system_id": fc.SystemID, "component_id": fc.ComponentID, "target_system": fc.TargetSystem} {
		if id < 0 || id > 255 {
			return fmt.Errorf("flight_controller.%s must be between 0 and 255", name)
		}
	}
	if fc.RequestIntervalSeconds < 1 {
		return errors.New("flight_controller.request_interval_seconds must be >= 1")
	}
	if fc.IngestIntervalMS < 1 {
		return errors.New("flight_controller.ingest_interval_ms must be >= 1")
	}
	if fc.StreamRateHz <= 0 {
		return errors.New("flight_controller.stream_rate_hz must be > 0")
	}

	m := cfg.Modem
	if m.Baud <= 0 {
		return errors.New("modem.baud must be > 0")
	}
	if m.MaxFrameBytes <= 0 || m.MaxFrameBytes >= isbd.MaxMO {
		return fmt.Errorf("modem.max_frame_bytes must be between 1 and %d", isbd.MaxMO-1)
	}
	if m.SendAttempts < 1 {
		return errors.New("modem.send_attempts must be >= 1")
	}
	if m.SendTimeoutSeconds < 1 {
		return errors.New("modem.send_timeout_seconds must be >= 1")
	}
	if m.RingPollMS < 0 {
		return errors.New("modem.ring_poll_ms must be >= 0")
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn or error", cfg.Logging.Level)
	}

	demo := cfg.Demo
	if demo.FailureRate < 0 || demo.FailureRate > 1 {
		return errors.New("demo.failure_rate must be between 0 and 1")
	}
	if demo.MinElevation < 0 || demo.MinElevation > 90 {
		return errors.New("demo.min_elevation must be between 0 and 90")
	}
	if demo.FixAfterSeconds < 0 || demo.RingAfterSeconds < 0 || demo.LatencyMS < 0 {
		return errors.New("demo delays must be >= 0")
	}
	return nil
}

// Seconds converts a whole-second config value to a duration.
func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Millis converts a millisecond config value to a duration.
func Millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }
