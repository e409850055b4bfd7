// Blackboxd is the flight data logger daemon.
//
// It loads configuration, opens the flight controller and satellite modem
// (or their simulated stand-ins in demo mode), starts the HTTP/WebSocket
// server, and runs the mission controller. Shutdown is handled gracefully on
// SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/large-farva/blackbox/internal/app"
	"github.com/large-farva/blackbox/internal/config"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "/etc/blackbox/blackbox.toml", "Path to config TOML")
		bind       = pflag.String("bind", "", "HTTP bind address (overrides server.bind)")
		demoMode   = pflag.Bool("demo", false, "Run against the simulated flight controller and modem")
	)
	pflag.Parse()

	logger := log.New(os.Stdout, "blackboxd ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	switch {
	case errors.Is(err, os.ErrNotExist) && !pflag.CommandLine.Changed("config"):
		logger.Printf("no config at %s, using defaults", *configPath)
		cfg = config.Default()
	case err != nil:
		logger.Fatalf("config load failed: %v", err)
	}
	if *demoMode {
		cfg.Demo.Enabled = true
	}

	a, err := app.New(app.Options{
		Logger:     logger,
		Cfg:        cfg,
		ConfigPath: *configPath,
		Bind:       *bind,
	})
	if err != nil {
		logger.Fatalf("startup failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("blackboxd failed: %v", err)
	}

	// Brief pause so in-flight log writes can flush before exit.
	time.Sleep(50 * time.Millisecond)
}
