// Package main provides the entry point for the Volvo bridge server. The
// server owns the OAuth login flow against Volvo ID, polls the Connected
// Vehicle APIs on a fixed interval and pushes telemetry snapshots to the
// display front end over a websocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/mirrormods/volvobridge/internal/api"
	"github.com/mirrormods/volvobridge/internal/auth"
	"github.com/mirrormods/volvobridge/internal/auth/volvo"
	"github.com/mirrormods/volvobridge/internal/browser"
	"github.com/mirrormods/volvobridge/internal/buildinfo"
	"github.com/mirrormods/volvobridge/internal/config"
	"github.com/mirrormods/volvobridge/internal/logging"
	"github.com/mirrormods/volvobridge/internal/notify"
	"github.com/mirrormods/volvobridge/internal/poller"
	"github.com/mirrormods/volvobridge/internal/vehicle"
	"github.com/mirrormods/volvobridge/internal/watcher"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	fmt.Printf("VolvoBridge Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Configuration file path")
	flag.Parse()

	// .env is optional; it only feeds the VOLVOBRIDGE_* overrides.
	if err := godotenv.Load(); err == nil {
		log.Debug("loaded environment overrides from .env")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	logging.ConfigureFileOutput(cfg.LoggingToFile, cfg.LogDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := notify.NewHub()
	authSvc := volvo.NewVolvoAuth(cfg)
	tokens := auth.NewManager(authSvc, cfg.TokenFile)
	if err = tokens.LoadPersisted(); err != nil {
		// A corrupt token file is a startup-time persistence failure; better
		// to stop than to loop on refresh errors forever.
		log.Fatalf("failed to load persisted tokens: %v", err)
	}

	client := vehicle.NewClient(cfg, tokens)
	poll := poller.New(client, tokens, hub)

	var intervalMu sync.Mutex
	pollInterval := time.Duration(cfg.PollSeconds) * time.Second

	// startPolling runs the post-auth startup sequence: VIN discovery, then
	// the repeating schedule with an immediate first cycle. The poller
	// re-resolves a missing VIN on every tick, so a discovery failure here
	// only delays data until the next cycle.
	startPolling := func() {
		if _, errResolve := poll.EnsureVehicle(ctx); errResolve != nil {
			log.Errorf("VIN fetch failed: %v", errResolve)
			hub.Status("VIN fetch failed")
		}
		intervalMu.Lock()
		interval := pollInterval
		intervalMu.Unlock()
		poll.Start(ctx, true, interval)
	}

	server := api.NewServer(cfg, tokens, authSvc, poll, hub, startPolling)
	engine := api.NewEngine()
	server.Register(engine)

	httpServer := &http.Server{Addr: cfg.Listen, Handler: engine}
	go func() {
		log.Infof("listening on %s", cfg.Listen)
		if errServe := httpServer.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			log.Fatalf("http server failed: %v", errServe)
		}
	}()

	// Hot reload: only the poll interval and log output react to config
	// edits; credential changes require a restart and a fresh login.
	configWatcher := watcher.New(configPath, func(newCfg *config.Config) {
		logging.ConfigureFileOutput(newCfg.LoggingToFile, newCfg.LogDir)

		newInterval := time.Duration(newCfg.PollSeconds) * time.Second
		intervalMu.Lock()
		changed := newInterval != pollInterval
		pollInterval = newInterval
		intervalMu.Unlock()

		if changed && tokens.HasValidTokens() {
			log.Infof("poll interval changed to %s, restarting schedule", newInterval)
			poll.Start(ctx, false, newInterval)
		}
	})
	if err = configWatcher.Start(ctx); err != nil {
		log.Warnf("config watcher unavailable: %v", err)
	}

	if tokens.HasValidTokens() {
		hub.Status("Authenticated")
		go startPolling()
	} else {
		hub.Status("Open browser to login…")
		loginURL := server.LoginURL()
		if errOpen := browser.OpenURL(loginURL); errOpen != nil {
			log.Warnf("could not open browser, please visit %s manually: %v", loginURL, errOpen)
		}
	}

	<-ctx.Done()
	log.Info("shutting down")

	poll.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("http server shutdown: %v", err)
	}
}
