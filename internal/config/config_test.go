package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blackbox.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("defaults fail validation: %v", err)
	}
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := writeConfig(t, `
[device]
upload_interval_seconds = 300
distance_trigger_km = 2.5

[modem]
port = "/dev/ttyS3"

[demo]
enabled = true
config_reply = "0,90,"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Device.UploadIntervalSeconds != 300 || cfg.Device.DistanceTriggerKm != 2.5 {
		t.Fatalf("device %+v", cfg.Device)
	}
	if cfg.Modem.Port != "/dev/ttyS3" || cfg.Modem.MaxFrameBytes != 100 {
		t.Fatalf("modem %+v", cfg.Modem)
	}
	if !cfg.Demo.Enabled || cfg.Demo.ConfigReply != "0,90," {
		t.Fatalf("demo %+v", cfg.Demo)
	}
	if cfg.Device.StartDelaySeconds != 15 {
		t.Fatal("omitted field lost its default")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"modem.max_frame_bytes":           func(c *Config) { c.Modem.MaxFrameBytes = 340 },
		"default_upload_interval_seconds": func(c *Config) { c.Device.DefaultUploadIntervalSeconds = 15 },
		"loop_interval_ms":                func(c *Config) { c.Device.LoopIntervalMS = 200 },
		"target_system":                   func(c *Config) { c.FlightController.TargetSystem = 300 },
		"logging.level":                   func(c *Config) { c.Logging.Level = "loud" },
		"demo.failure_rate":               func(c *Config) { c.Demo.FailureRate = 1.5 },
	}
	for want, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		err := Validate(cfg)
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("%s: got %v", want, err)
		}
	}
}

func TestLoadBadTOML(t *testing.T) {
	if _, err := Load(writeConfig(t, "[device\n")); err == nil {
		t.Fatal("expected parse error")
	}
}
