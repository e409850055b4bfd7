package ctl

import (
	"fmt"
	"strings"
	"time"
)

// Stats shows upload and configuration counters from the daemon.
func Stats(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var s StatusResponse
	if err := getJSON(baseURL, "/api/status", &s); err != nil {
		return err
	}
	if s.Mission == nil {
		return fmt.Errorf("daemon at %s has no controller attached", baseURL)
	}
	m := s.Mission

	if jsonOutput {
		return printJSON(map[string]any{
			"uptime_seconds":    s.UptimeSeconds,
			"dispatch":          m.Dispatch,
			"config_exchanges":  m.ConfigExchanges,
			"malformed_replies": m.MalformedReplies,
			"signal_bars":       m.SignalBars,
			"distance_km":       m.DistanceKm,
		})
	}

	fmt.Println()
	fmt.Println(header("  UPLINK STATISTICS"))
	fmt.Println(rule(42))
	fmt.Printf("  Uptime:            %s\n", formatDuration(time.Duration(s.UptimeSeconds)*time.Second))
	fmt.Printf("  Frames sent:       %d\n", m.Dispatch.Sent)
	fmt.Printf("  Frames failed:     %d\n", m.Dispatch.Failed)
	fmt.Printf("  Frames oversize:   %d\n", m.Dispatch.Oversize)
	fmt.Printf("  Data sent:         %s\n", formatBytes(m.Dispatch.BytesSent))
	fmt.Printf("  Replies kept:      %d\n", m.Dispatch.Inbound)
	fmt.Printf("  Config exchanges:  %d (%d malformed)\n", m.ConfigExchanges, m.MalformedReplies)
	fmt.Printf("  Signal:            %s\n", signalBars(m.SignalBars))
	if m.DistanceKm > 0 {
		fmt.Printf("  Distance:          %.2f km\n", m.DistanceKm)
	}
	if m.LastDispatch != "" {
		fmt.Printf("  Last sent:         %s\n", m.LastDispatch)
	} else {
		fmt.Printf("  Last sent:         none\n")
	}
	fmt.Println()
	return nil
}
