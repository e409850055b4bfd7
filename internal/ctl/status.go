package ctl

import (
	"fmt"
	"strings"
	"time"
)

// MissionStatus mirrors the controller section of GET /api/status.
type MissionStatus struct {
	Phase string `json:"phase"`
	State string `json:"state"`
	Light struct {
		Pattern string `json:"pattern"`
		Color   string `json:"color"`
	} `json:"light"`
	GPSFix           bool   `json:"gps_fix"`
	Configured       bool   `json:"configured"`
	UploadEnabled    bool   `json:"upload_enabled"`
	UploadIntervalMS int64  `json:"upload_interval_ms"`
	PendingAttitude  bool   `json:"pending_attitude"`
	PendingPosition  bool   `json:"pending_position"`
	CaptureTimestamp uint32 `json:"capture_timestamp"`
	SignalBars       int    `json:"signal_bars"`
	Dispatch         struct {
		Sent      int   `json:"sent"`
		Failed    int   `json:"failed"`
		Oversize  int   `json:"oversize"`
		BytesSent int64 `json:"bytes_sent"`
		Inbound   int   `json:"inbound"`
	} `json:"dispatch"`
	ConfigExchanges   int     `json:"config_exchanges"`
	MalformedReplies  int     `json:"malformed_replies"`
	LastDispatch      string  `json:"last_dispatch"`
	LastDispatchError string  `json:"last_dispatch_error"`
	DistanceKm        float64 `json:"distance_km"`
}

// StatusResponse mirrors the JSON returned by GET /api/status.
type StatusResponse struct {
	Name          string         `json:"name"`
	Daemon        string         `json:"daemon"`
	Mode          string         `json:"mode"`
	Session       string         `json:"session"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Clients       int            `json:"ws_clients"`
	Mission       *MissionStatus `json:"mission"`
}

// Status fetches the daemon status and prints a formatted summary.
func Status(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var s StatusResponse
	if err := getJSON(baseURL, "/api/status", &s); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(s)
	}

	uptime := formatDuration(time.Duration(s.UptimeSeconds) * time.Second)

	fmt.Println()
	fmt.Println(header("  BLACKBOX STATUS"))
	fmt.Println(rule(38))
	fmt.Printf("  %-12s %s (%s)\n", colorize(dim, "Daemon:"), colorize(stateColor(s.Daemon), s.Daemon), s.Mode)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Uptime:"), uptime)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Session:"), s.Session)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Host:"), baseURL)

	m := s.Mission
	if m == nil {
		fmt.Println()
		return nil
	}

	interval := time.Duration(m.UploadIntervalMS) * time.Millisecond
	upload := colorize(red, "disabled")
	if m.UploadEnabled {
		upload = "every " + formatDuration(interval)
	}
	if !m.Configured {
		upload += colorize(dim, " (not configured)")
	}

	fmt.Println()
	fmt.Printf("  %-12s %s\n", colorize(dim, "State:"), colorize(stateColor(m.State), m.State))
	fmt.Printf("  %-12s %s\n", colorize(dim, "Phase:"), m.Phase)
	fmt.Printf("  %-12s %s %s\n", colorize(dim, "Light:"), m.Light.Color, colorize(dim, m.Light.Pattern))
	fmt.Printf("  %-12s %s\n", colorize(dim, "GPS fix:"), yesNo(m.GPSFix))
	fmt.Printf("  %-12s %s\n", colorize(dim, "Upload:"), upload)
	fmt.Printf("  %-12s attitude %s, position %s\n", colorize(dim, "Pending:"), yesNo(m.PendingAttitude), yesNo(m.PendingPosition))
	fmt.Printf("  %-12s %s\n", colorize(dim, "Signal:"), signalBars(m.SignalBars))
	if m.LastDispatch != "" {
		fmt.Printf("  %-12s %s\n", colorize(dim, "Last sent:"), m.LastDispatch)
	}
	if m.LastDispatchError != "" {
		fmt.Printf("  %-12s %s\n", colorize(dim, "Last error:"), colorize(red, m.LastDispatchError))
	}
	fmt.Println()

	return nil
}
