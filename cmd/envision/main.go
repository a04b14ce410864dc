// envision describes the camera view aloud every few seconds.
//
// It captures a frame, asks Gemini for a short description, speaks the
// answer and pulses the vibrator. A dashboard with a manual trigger and
// Prometheus metrics is served when -web is set.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-envision/internal/config"
	"github.com/teslashibe/go-envision/internal/log"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}

	logger := log.Init(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("initialization failed", "error", err)
		os.Exit(1)
	}
	defer app.shutdown()

	if err := app.run(ctx); err != nil {
		logger.Error("runtime error", "error", err)
		os.Exit(1)
	}
}

// loadConfig layers flags over the config file and environment.
func loadConfig() (*config.Config, error) {
	path := flag.String("config", os.Getenv("ENVISION_CONFIG"), "YAML config file")
	level := flag.String("log-level", "", "Log level: debug, info, warn, error")
	interval := flag.Duration("interval", 0, "Time between captures (default 5s)")
	source := flag.String("source", "", "Camera source: file, http, webcam, webrtc")
	web := flag.String("web", "", "Dashboard listen address, e.g. :8080")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		return nil, err
	}
	if *level != "" {
		cfg.Log.Level = *level
	}
	if *interval > 0 {
		cfg.Interval = *interval
	}
	if *source != "" {
		cfg.Camera.Source = *source
	}
	if *web != "" {
		cfg.Web.Addr = *web
	}
	return cfg, cfg.Validate()
}

// shutdownTimeout bounds how long a cycle in flight may delay exit.
const shutdownTimeout = 10 * time.Second
