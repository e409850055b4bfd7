package mission

import (
	"context"
	"encoding/json"
	"fmt"
)

// Command is an external request sent to the controller via its Commands
// channel. Reply must be buffered; it receives exactly one result.
type Command struct {
	Type    string
	Payload json.RawMessage
	Reply   chan<- CommandResult
}

// CommandResult is the response sent back through a Command's Reply channel.
type CommandResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (c *Controller) drainCommands(ctx context.Context) {
	for {
		select {
		case cmd := <-c.Commands:
			c.handleCommand(ctx, cmd)
		default:
			return
		}
	}
}

func (c *Controller) handleCommand(ctx context.Context, cmd Command) {
	switch cmd.Type {
	case "upload":
		c.handleUploadCommand(ctx, cmd)
	case "config":
		c.handleConfigCommand(ctx, cmd)
	default:
		cmd.Reply <- CommandResult{OK: false, Error: "unknown command: " + cmd.Type}
	}
}

// handleUploadCommand sends the pending frame now, whether or not uploads
// are enabled, and restarts the upload interval.
func (c *Controller) handleUploadCommand(ctx context.Context, cmd Command) {
	c.logf("info", "mission: upload requested by user")
	err := c.uploadFrame(ctx)
	c.upload.Reset(c.clock.Now())
	if err != nil {
		cmd.Reply <- CommandResult{OK: false, Error: err.Error()}
		return
	}
	cmd.Reply <- CommandResult{OK: true, Message: "frame sent"}
}

// handleConfigCommand runs a configuration exchange without waiting for a
// ring.
func (c *Controller) handleConfigCommand(ctx context.Context, cmd Command) {
	c.logf("info", "mission: configuration poll requested by user")
	if err := c.exchange(ctx); err != nil {
		cmd.Reply <- CommandResult{OK: false, Error: err.Error()}
		return
	}
	s := c.config.Settings()
	cmd.Reply <- CommandResult{
		OK:      true,
		Message: fmt.Sprintf("upload_enabled=%t interval=%s", s.UploadEnabled, s.UploadInterval),
	}
}
