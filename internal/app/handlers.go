package app

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/large-farva/blackbox/internal/mission"
)

// staleAfter is how old the controller's last published status may be before
// the detailed health check reports the loop as stuck.
const staleAfter = 10 * time.Second

// ---------------------------------------------------------------------------
// Core handlers
// ---------------------------------------------------------------------------

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		a.handleHealthDetailed(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (a *App) handleHealthDetailed(w http.ResponseWriter, _ *http.Request) {
	checks := map[string]any{}
	allOK := true

	// Controller loop.
	if a.controller == nil {
		checks["controller"] = map[string]any{"ok": false, "error": "not attached"}
		allOK = false
	} else {
		st := a.controller.Status()
		age := time.Since(st.UpdatedAt)
		fresh := age < staleAfter
		if !fresh {
			allOK = false
		}
		checks["controller"] = map[string]any{
			"ok":    fresh,
			"phase": st.Phase,
			"state": st.State,
			"age_s": int(age.Seconds()),
		}
	}

	// Event stream.
	checks["event_stream"] = map[string]any{
		"ok":      true,
		"clients": a.wsHub.Clients(),
		"dropped": a.wsHub.Dropped(),
	}

	status := http.StatusOK
	if !allOK {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"healthy": allOK,
		"mode":    a.mode(),
		"checks":  checks,
	})
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"name":           "blackbox",
		"daemon":         a.state.Load().(string),
		"mode":           a.mode(),
		"session":        a.session,
		"uptime_seconds": int64(time.Since(a.startedAt).Seconds()),
		"ws_clients":     a.wsHub.Clients(),
	}
	if a.controller != nil {
		resp["mission"] = a.controller.Status()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (a *App) handleVersion(w http.ResponseWriter, _ *http.Request) {
	goVersion := GoVersion
	if goVersion == "unknown" {
		goVersion = runtime.Version()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"version":    Version,
		"go_version": goVersion,
		"built_at":   BuiltAt,
	})
}

func (a *App) handleConfig(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(a.cfg)
}

// ---------------------------------------------------------------------------
// Controller commands
// ---------------------------------------------------------------------------

func (a *App) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Type string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	switch req.Type {
	case "upload", "config":
	default:
		jsonError(w, "unknown command: "+req.Type, http.StatusBadRequest)
		return
	}

	if a.controller == nil {
		jsonError(w, "controller not running", http.StatusConflict)
		return
	}
	// Commands are only drained once startup has finished.
	if phase := a.controller.Status().Phase; phase != "steady" {
		jsonError(w, "controller is still in "+phase, http.StatusConflict)
		return
	}

	result := a.sendCommand(r.Context(), req.Type, nil)
	writeCommandResult(w, result)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// sendCommand queues a command for the controller and waits for the reply.
func (a *App) sendCommand(ctx context.Context, cmdType string, payload json.RawMessage) mission.CommandResult {
	ctx, cancel := context.WithTimeout(ctx, a.commandTimeout)
	defer cancel()

	reply := make(chan mission.CommandResult, 1)
	select {
	case a.controller.Commands <- mission.Command{Type: cmdType, Payload: payload, Reply: reply}:
	case <-ctx.Done():
		return mission.CommandResult{OK: false, Error: "controller busy"}
	}

	select {
	case res := <-reply:
		return res
	case <-ctx.Done():
		return mission.CommandResult{OK: false, Error: "timed out waiting for the controller"}
	}
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":    false,
		"error": msg,
	})
}

// writeCommandResult writes a mission.CommandResult as JSON.
func writeCommandResult(w http.ResponseWriter, result mission.CommandResult) {
	w.Header().Set("Content-Type", "application/json")
	if !result.OK {
		w.WriteHeader(http.StatusInternalServerError)
	}
	_ = json.NewEncoder(w).Encode(result)
}
