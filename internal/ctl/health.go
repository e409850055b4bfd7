package ctl

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Health checks daemon liveness and the controller loop via GET /healthz.
func Health(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	status, body, err := getDetailed(baseURL, "/healthz")
	if err != nil {
		if jsonOutput {
			return printJSON(map[string]any{"healthy": false, "url": baseURL, "error": err.Error()})
		}
		return err
	}

	var detail struct {
		Healthy bool                      `json:"healthy"`
		Mode    string                    `json:"mode"`
		Checks  map[string]map[string]any `json:"checks"`
	}
	_ = json.Unmarshal(body, &detail)
	healthy := status == 200

	if jsonOutput {
		return printJSON(map[string]any{"healthy": healthy, "url": baseURL, "mode": detail.Mode, "checks": detail.Checks})
	}

	fmt.Println()
	if healthy {
		fmt.Printf("  %s  blackboxd is reachable at %s\n", colorize(green, "HEALTHY"), colorize(dim, baseURL))
	} else {
		fmt.Printf("  %s  blackboxd returned HTTP %d at %s\n", colorize(red, "UNHEALTHY"), status, colorize(dim, baseURL))
	}

	names := make([]string, 0, len(detail.Checks))
	for name := range detail.Checks {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		check := detail.Checks[name]
		label := colorize(green, "ok  ")
		if ok, _ := check["ok"].(bool); !ok {
			label = colorize(red, "FAIL")
		}
		var extra []string
		for _, k := range sortedKeys(check) {
			if k == "ok" {
				continue
			}
			extra = append(extra, fmt.Sprintf("%s=%v", k, check[k]))
		}
		fmt.Printf("    %s %-14s %s\n", label, name, colorize(dim, strings.Join(extra, " ")))
	}
	fmt.Println()

	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
