// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hue2lan/hue2lan/internal/config"
	"github.com/hue2lan/hue2lan/internal/control"
	hlog "github.com/hue2lan/hue2lan/internal/log"
	"github.com/hue2lan/hue2lan/internal/profile"
	"github.com/hue2lan/hue2lan/internal/session"
	"github.com/hue2lan/hue2lan/internal/state"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	prof := profile.Detect(cfg.Profile)

	hlog.Configure(hlog.Config{
		Level:   firstNonEmpty(cfg.LogLevel, prof.LogLevel),
		Service: "hue2lan",
	})
	logger := hlog.WithComponent("daemon")

	logger.Info().
		Str("version", version).
		Str("profile", string(prof.Class)).
		Int("workers", prof.MaxWorkers).
		Int("target_fps", prof.TargetFPS).
		Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("data directory unavailable")
	}

	registry := state.NewRegistry()
	supervisor := session.New(registry, cfg, prof)
	api := control.New(supervisor)

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Listen).Msg("control surface listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("control surface failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
