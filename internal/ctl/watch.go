package ctl

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// WatchOptions controls the watch command behavior.
type WatchOptions struct {
	Filter []string // event types to show (empty = all but colour changes)
	Level  string   // only log events at this level
	JSON   bool     // output raw JSON per event
}

// Watch connects to the daemon's WebSocket endpoint and streams events to
// the terminal in a human-readable format until interrupted.
func Watch(baseURL string, opts WatchOptions) error {
	baseURL = strings.TrimRight(baseURL, "/")

	u, err := wsURL(baseURL)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if !opts.JSON {
		fmt.Println()
		fmt.Printf("  %s %s\n", colorize(green, "connected"), colorize(dim, u))
		if len(opts.Filter) > 0 {
			fmt.Printf("  %s %s\n", colorize(dim, "filter:"), colorize(dim, strings.Join(opts.Filter, ", ")))
		}
		fmt.Println(rule(50))
		fmt.Println()
	}

	keep := eventFilter(opts)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if !keep(msg) {
				continue
			}
			if opts.JSON {
				fmt.Println(string(msg))
			} else {
				renderEvent(os.Stdout, msg)
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sig:
		if !opts.JSON {
			fmt.Println()
			fmt.Println(colorize(dim, "  disconnecting..."))
		}
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(1*time.Second),
		)
		return nil
	case <-done:
		return nil
	}
}

func wsURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	u.Path = "/ws"
	u.RawQuery = ""
	return u.String(), nil
}

// eventFilter returns a predicate for raw events. Colour changes arrive at
// the light's blink rate, so they are only shown when asked for by name.
func eventFilter(opts WatchOptions) func([]byte) bool {
	filterSet := make(map[string]bool, len(opts.Filter))
	for _, f := range opts.Filter {
		filterSet[f] = true
	}
	return func(msg []byte) bool {
		var ev struct {
			Type  string `json:"type"`
			Level string `json:"level"`
		}
		if err := json.Unmarshal(msg, &ev); err != nil {
			return len(filterSet) == 0
		}
		if len(filterSet) > 0 && !filterSet[ev.Type] {
			return false
		}
		if len(filterSet) == 0 && ev.Type == "color" {
			return false
		}
		if opts.Level != "" && ev.Type == "log" && ev.Level != opts.Level {
			return false
		}
		return true
	}
}

// renderEvent parses a JSON event and prints it in a human-friendly format.
// Falls back to raw JSON for unrecognized event types.
func renderEvent(w io.Writer, raw []byte) {
	var ev map[string]any
	if err := json.Unmarshal(raw, &ev); err != nil {
		fmt.Fprintf(w, "  %s\n", string(raw))
		return
	}

	evType, _ := ev["type"].(string)
	ts := formatEventTime(ev)

	switch evType {
	case "heartbeat":
		// Heartbeats are noisy, so they stay dimmed on one line.
		state, _ := ev["state"].(string)
		uptime, _ := ev["uptime_seconds"].(float64)
		uptimeStr := formatDuration(time.Duration(uptime) * time.Second)
		fmt.Fprintf(w, "  %s %s  %s  up %s\n",
			colorize(dim, ts),
			colorize(dim, "heartbeat"),
			colorize(stateColor(state), state),
			colorize(dim, uptimeStr),
		)

	case "state", "daemon":
		from, _ := ev["from"].(string)
		to, _ := ev["to"].(string)
		label := "STATE"
		if evType == "daemon" {
			label = "DAEMON"
		}
		fmt.Fprintf(w, "  %s %s  %s %s %s\n",
			colorize(dim, ts),
			colorize(bold, label),
			colorize(stateColor(from), from),
			colorize(dim, "->"),
			colorize(stateColor(to), to),
		)

	case "log":
		level, _ := ev["level"].(string)
		message, _ := ev["message"].(string)
		component, _ := ev["component"].(string)
		src := ""
		if component != "" {
			src = colorize(dim, "["+component+"] ")
		}
		fmt.Fprintf(w, "  %s %s  %s%s\n", colorize(dim, ts), formatLogLevel(level), src, message)

	case "dispatch":
		ok, _ := ev["ok"].(bool)
		n, _ := ev["bytes"].(float64)
		reason, _ := ev["reason"].(string)
		if ok {
			fmt.Fprintf(w, "  %s %s  %s frame\n", colorize(dim, ts), colorize(green, "SENT "), formatBytes(int64(n)))
		} else {
			fmt.Fprintf(w, "  %s %s  %s\n", colorize(dim, ts), colorize(red, "NOT SENT"), reason)
		}

	case "config":
		enabled, _ := ev["upload_enabled"].(bool)
		accepted, _ := ev["accepted"].(bool)
		ms, _ := ev["upload_interval_ms"].(float64)
		result := colorize(green, "accepted")
		if !accepted {
			result = colorize(red, "rejected")
		}
		fmt.Fprintf(w, "  %s %s  %s upload_enabled=%t interval=%s\n",
			colorize(dim, ts),
			colorize(cyan, "CONFIG"),
			result,
			enabled,
			formatDuration(time.Duration(ms)*time.Millisecond),
		)

	case "sample":
		kind, _ := ev["kind"].(string)
		summary, _ := ev["summary"].(string)
		fmt.Fprintf(w, "  %s %s  %s\n", colorize(dim, ts), colorize(dim, padRight(kind, 8)), summary)

	case "distance":
		km, _ := ev["threshold_km"].(float64)
		fmt.Fprintf(w, "  %s %s  another %.2f km flown\n", colorize(dim, ts), colorize(yellow, "DISTANCE"), km)

	case "color":
		color, _ := ev["color"].(string)
		hex, _ := ev["hex"].(string)
		fmt.Fprintf(w, "  %s %s  %s %s\n", colorize(dim, ts), colorize(dim, "light"), color, colorize(dim, hex))

	default:
		// Unknown event types are dumped as indented JSON so nothing is lost.
		pretty, err := json.MarshalIndent(ev, "  ", "  ")
		if err != nil {
			fmt.Fprintf(w, "  %s\n", string(raw))
			return
		}
		fmt.Fprintf(w, "  %s\n", string(pretty))
	}
}

// formatEventTime extracts and shortens the timestamp from an event.
func formatEventTime(ev map[string]any) string {
	tsRaw, ok := ev["ts"].(string)
	if !ok {
		return "          "
	}
	t, err := time.Parse(time.RFC3339Nano, tsRaw)
	if err != nil {
		return tsRaw[:min(len(tsRaw), 10)]
	}
	return t.Local().Format("15:04:05")
}

// formatLogLevel returns a colored, fixed-width log level label.
func formatLogLevel(level string) string {
	switch level {
	case "debug":
		return colorize(dim, "DEBUG")
	case "info":
		return colorize(green, "INFO ")
	case "warn":
		return colorize(yellow, "WARN ")
	case "error":
		return colorize(red, "ERROR")
	default:
		return padRight(level, 5)
	}
}
