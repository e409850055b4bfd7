package ctl

import (
	"encoding/json"
	"fmt"
	"strings"
)

// configSections is the display order of the TOML sections.
var configSections = []string{"device", "flight_controller", "modem", "logging", "server", "demo"}

// Config fetches and displays the daemon's running configuration.
func Config(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var raw json.RawMessage
	if err := getJSON(baseURL, "/api/config", &raw); err != nil {
		return err
	}

	var cfg map[string]map[string]any
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cfg)
	}

	fmt.Println()
	fmt.Println(header("  DAEMON CONFIGURATION"))
	fmt.Println(rule(50))

	for _, name := range configSections {
		section, ok := cfg[name]
		if !ok {
			continue
		}
		fmt.Printf("\n  %s\n", colorize(bold, "["+name+"]"))
		for _, key := range sortedKeys(section) {
			fmt.Printf("    %-34s %v\n", colorize(dim, key+":"), section[key])
		}
	}
	fmt.Println()

	return nil
}
