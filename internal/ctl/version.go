package ctl

import (
	"fmt"
	"runtime"
	"strings"
)

// Build-time variables set via -ldflags.
var (
	Version = "dev"
	BuiltAt = "unknown"
)

type versionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	BuiltAt   string `json:"built_at"`
}

// VersionInfo fetches the daemon version via GET /api/version and shows it
// next to the CLI's own, flagging a mismatch between the two.
func VersionInfo(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	cli := versionInfo{Version: Version, GoVersion: runtime.Version(), BuiltAt: BuiltAt}
	var daemon versionInfo
	daemonErr := getJSON(baseURL, "/api/version", &daemon)

	if jsonOutput {
		resp := map[string]any{"cli": cli}
		if daemonErr == nil {
			resp["daemon"] = daemon
		} else {
			resp["daemon_error"] = daemonErr.Error()
		}
		return printJSON(resp)
	}

	fmt.Println()
	fmt.Println(header("  BLACKBOX VERSION"))
	fmt.Println(rule(38))
	fmt.Printf("  %-12s %s (%s)\n", colorize(dim, "CLI:"), cli.Version, cli.GoVersion)
	if daemonErr != nil {
		fmt.Printf("  %-12s %s\n", colorize(dim, "Daemon:"), colorize(red, "unreachable: "+daemonErr.Error()))
		fmt.Println()
		return nil
	}

	fmt.Printf("  %-12s %s (%s)\n", colorize(dim, "Daemon:"), daemon.Version, daemon.GoVersion)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Built:"), daemon.BuiltAt)
	if daemon.Version != cli.Version {
		fmt.Printf("  %s\n", colorize(yellow, "CLI and daemon versions differ"))
	}
	fmt.Println()

	return nil
}
