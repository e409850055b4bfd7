// Blackboxctl is the command-line client for monitoring and controlling a
// running blackboxd instance. It connects over HTTP and WebSocket to query
// status, force uploads, and stream live events from the daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/large-farva/blackbox/internal/ctl"
)

func main() {
	var (
		host    = pflag.StringP("host", "H", "http://127.0.0.1:8080", "Blackbox daemon URL (e.g. http://192.168.8.1:8080)")
		jsonOut = pflag.Bool("json", false, "Output raw JSON instead of formatted text")
		filter  = pflag.StringSlice("filter", nil, "Event types to show in watch (e.g. --filter state,dispatch)")
	)

	// Stop parsing global flags at the first non-flag argument (the command
	// name), so subcommand-specific flags like --level are not rejected.
	pflag.CommandLine.SetInterspersed(false)
	pflag.Parse()

	if pflag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cmd := pflag.Arg(0)
	subArgs := pflag.Args()[1:]

	var err error
	switch cmd {
	// ── Query commands ────────────────────────────────────────────
	case "status":
		err = ctl.Status(*host, *jsonOut)

	case "health":
		err = ctl.Health(*host, *jsonOut)

	case "version":
		err = ctl.VersionInfo(*host, *jsonOut)

	case "config":
		err = ctl.Config(*host, *jsonOut)

	case "stats":
		err = ctl.Stats(*host, *jsonOut)

	// ── Control commands ──────────────────────────────────────────
	case "upload":
		err = ctl.Upload(*host, *jsonOut)

	case "poll-config":
		err = ctl.PollConfig(*host, *jsonOut)

	// ── Live streaming ────────────────────────────────────────────
	case "watch":
		err = ctl.Watch(*host, ctl.WatchOptions{
			Filter: *filter,
			JSON:   *jsonOut,
		})

	case "logs":
		opts := ctl.LogsOptions{JSON: *jsonOut}
		logFlags := pflag.NewFlagSet("logs", pflag.ContinueOnError)
		logFlags.StringVar(&opts.Level, "level", "", "Only show one log level (debug, info, warn, error)")
		_ = logFlags.Parse(subArgs)
		err = ctl.Logs(*host, opts)

	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Print(`
  blackboxctl - flight data logger control CLI

  USAGE
    blackboxctl [flags] <command> [command-flags]

  COMMANDS (query)
    status          Show operating state, light, GPS fix, and upload settings
    health          Check daemon and controller loop health
    version         Show CLI and daemon version information
    config          Show the daemon's running configuration
    stats           Show upload and configuration counters

  COMMANDS (control)
    upload          Send the pending telemetry frame now
    poll-config     Ask the ground server for new upload settings now

  COMMANDS (live)
    watch           Stream live events from the daemon (Ctrl-C to stop)
    logs            Stream daemon log events

  GLOBAL FLAGS
    -H, --host URL      Daemon base URL (default: http://127.0.0.1:8080)
        --json          Output raw JSON instead of formatted text
        --filter TYPE   Event types to show in watch (comma-separated;
                        color changes are hidden unless named)

  COMMAND FLAGS
    logs:
        --level LEVEL       Only show one log level

`)
}
