// Package ctl implements the client-side commands for blackboxctl.
// It talks to a running blackboxd over HTTP and WebSocket and renders the results to the terminal.
package ctl

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// ANSI escape codes for terminal formatting.
const (
	reset   = "\033[0m"
	bold    = "\033[1m"
	dim     = "\033[2m"
	red     = "\033[31m"
	green   = "\033[32m"
	yellow  = "\033[33m"
	blue    = "\033[34m"
	magenta = "\033[35m"
	cyan    = "\033[36m"
	white   = "\033[37m"
)

// colorEnabled reports whether stdout is a terminal. When output is piped
// or redirected, ANSI escape codes are suppressed.
func colorEnabled() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// stateColor returns the ANSI color code for an operating or daemon state,
// roughly matching the colour the status light shows for it.
func stateColor(state string) string {
	if !colorEnabled() {
		return ""
	}
	switch state {
	case "IN_FLIGHT", "IN_FLIGHT_SBD_SUCCESS", "RUNNING":
		return green
	case "IN_FLIGHT_DEFAULT":
		return magenta
	case "IN_FLIGHT_NO_UPLOAD", "IN_FLIGHT_SBD_FAILED", "CONFIG_TIMEOUT", "STOPPING":
		return red
	case "WAITING_FOR_GPS_LOCK", "NO_GPS_FIX":
		return yellow
	case "SENDING_BOOTUP_MESSAGE", "SEND_RECEIVE_CONFIG", "SENDING_TELEMETRY":
		return blue
	case "READY_FOR_TAKEOFF":
		return cyan
	case "START_DELAY", "BOOTING":
		return dim
	default:
		return white
	}
}

// colorize wraps text with an ANSI color sequence.
// Returns the text unchanged when color output is disabled.
func colorize(color, text string) string {
	if !colorEnabled() || color == "" {
		return text
	}
	return color + text + reset
}

// header returns a bold section header, or plain text when color is off.
func header(title string) string {
	if colorEnabled() {
		return bold + title + reset
	}
	return title
}

func rule(width int) string {
	return colorize(dim, "  "+strings.Repeat("─", width))
}

// padRight pads s with spaces to reach the given width.
func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// formatDuration renders a time.Duration as a compact human string like
// "2h 14m 8s" or "45s".
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// formatBytes renders a byte count as a human-readable string.
func formatBytes(b int64) string {
	if b < 0 {
		b = 0
	}
	return humanize.Bytes(uint64(b))
}

// signalBars renders a 0-5 signal strength as filled and empty blocks.
func signalBars(n int) string {
	n = max(0, min(n, 5))
	return colorize(green, strings.Repeat("█", n)) + colorize(dim, strings.Repeat("░", 5-n))
}

func yesNo(b bool) string {
	if b {
		return colorize(green, "yes")
	}
	return colorize(dim, "no")
}
