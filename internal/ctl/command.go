package ctl

import (
	"fmt"
	"strings"
)

// Upload asks the controller to send the pending telemetry frame now.
func Upload(baseURL string, jsonOutput bool) error {
	return command(baseURL, "upload", "SENT", jsonOutput)
}

// PollConfig asks the controller to run a configuration exchange now.
func PollConfig(baseURL string, jsonOutput bool) error {
	return command(baseURL, "config", "CONFIGURED", jsonOutput)
}

func command(baseURL, cmdType, label string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var result struct {
		OK      bool   `json:"ok"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := postJSON(baseURL, "/api/command", map[string]string{"type": cmdType}, &result); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(result)
	}

	if result.OK {
		fmt.Printf("\n  %s  %s\n\n", colorize(green, label), result.Message)
	} else {
		fmt.Printf("\n  %s  %s\n\n", colorize(red, "FAILED"), result.Error)
	}
	return nil
}
