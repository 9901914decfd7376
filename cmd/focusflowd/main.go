package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nightlyone/lockfile"

	"github.com/haukened/focusflow/internal/focus/common/clock"
	"github.com/haukened/focusflow/internal/focus/common/log"
	"github.com/haukened/focusflow/internal/focus/config"
	"github.com/haukened/focusflow/internal/focus/domain"
	"github.com/haukened/focusflow/internal/focus/gateways/blockpage"
	"github.com/haukened/focusflow/internal/focus/gateways/control"
	"github.com/haukened/focusflow/internal/focus/gateways/httpserver"
	"github.com/haukened/focusflow/internal/focus/gateways/sinkhole"
	"github.com/haukened/focusflow/internal/focus/repos/ruletable"
	"github.com/haukened/focusflow/internal/focus/repos/ruletable/bloom"
	"github.com/haukened/focusflow/internal/focus/repos/ruletable/lru"
	"github.com/haukened/focusflow/internal/focus/repos/state/bolt"
	"github.com/haukened/focusflow/internal/focus/services/scheduler"
)

const (
	version = "0.1.0-dev"
	appName = "focusflowd"

	defaultShutdownTimeout = 10 * time.Second
	stateOpenTimeout       = time.Second
)

// Application holds every long-running component of the daemon.
type Application struct {
	config    *config.AppConfig
	lock      lockfile.Lockfile
	store     *bolt.Store
	rules     *ruletable.Table
	scheduler *scheduler.Scheduler
	sinkhole  *sinkhole.Server
	blockPage *httpserver.Server
	control   *httpserver.Server
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env file: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	err = log.Configure(log.Options{
		Env:        cfg.Env,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Info(map[string]any{
		"version":   version,
		"env":       cfg.Env,
		"log_level": cfg.Log.Level,
		"state":     cfg.State.Path,
		"sinkhole":  cfg.Sinkhole.Enabled,
		"control":   cfg.Control.Listen,
	}, "Starting focusflow daemon")

	app, err := buildApplication(cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err.Error()}, "Failed to build application")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info(map[string]any{"signal": sig.String()}, "Shutdown signal received")
		cancel()
	}()

	if err := app.Run(ctx); err != nil {
		log.Fatal(map[string]any{"error": err.Error()}, "Daemon failed")
	}
	log.Info(nil, "focusflow daemon stopped gracefully")
}

// buildApplication acquires the single-instance lock, opens the state
// store and wires every component. On error nothing is left open.
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	logger := log.GetLogger()
	clk := &clock.RealClock{}

	lock, err := acquireLock(cfg.State.LockFile)
	if err != nil {
		return nil, err
	}
	app := &Application{config: cfg, lock: lock}
	built := false
	defer func() {
		if !built {
			app.release()
		}
	}()

	app.store, err = openStore(cfg)
	if err != nil {
		return nil, err
	}

	app.rules, err = buildRuleTable(cfg, clk, logger)
	if err != nil {
		return nil, err
	}

	app.scheduler, err = scheduler.New(scheduler.Options{
		Store:             app.store,
		Rules:             app.rules,
		Ledger:            scheduler.NewLedger(app.store, domain.MaxUsageHistory, logger),
		Clock:             clk,
		Logger:            logger,
		RecomputeInterval: cfg.Scheduler.RecomputeInterval,
		OnOpenPopup: func() {
			logger.Info(map[string]any{"control": cfg.Control.Listen}, "popup requested; open focusctl or the control API")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build scheduler: %w", err)
	}

	if cfg.Sinkhole.Enabled {
		app.sinkhole, err = buildSinkhole(cfg, app.rules, clk, logger)
		if err != nil {
			return nil, err
		}
	}

	page := blockpage.NewHandler(blockpage.Options{Gate: app.scheduler, Logger: logger})
	app.blockPage = httpserver.New("blockpage", cfg.BlockPage.Listen, page, logger)

	api, err := control.New(app.scheduler, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build control API: %w", err)
	}
	app.control = httpserver.New("control", cfg.Control.Listen, api, logger)

	built = true
	return app, nil
}

func acquireLock(path string) (lockfile.Lockfile, error) {
	lock, err := lockfile.New(path)
	if err != nil {
		return "", fmt.Errorf("failed to create lock: %w", err)
	}
	if err := lock.TryLock(); err != nil {
		return "", fmt.Errorf("failed to acquire lock %s (is another %s running?): %w", path, appName, err)
	}
	return lock, nil
}

func openStore(cfg *config.AppConfig) (*bolt.Store, error) {
	store, err := bolt.New(bolt.Options{
		Path:            cfg.State.Path,
		DefaultTimezone: cfg.Scheduler.Timezone,
		Timeout:         stateOpenTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open state store %s: %w", cfg.State.Path, err)
	}
	if cfg.Scheduler.Timezone != "" {
		seeded, err := store.SeedTimezone(context.Background(), cfg.Scheduler.Timezone)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to seed timezone: %w", err)
		}
		if seeded {
			log.Info(map[string]any{"timezone": cfg.Scheduler.Timezone}, "Timezone seeded from config")
		}
	}
	return store, nil
}

func buildRuleTable(cfg *config.AppConfig, clk clock.Clock, logger log.Logger) (*ruletable.Table, error) {
	cache, err := lru.New(cfg.Rules.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create decision cache: %w", err)
	}
	log.Info(map[string]any{
		"cache_size": cfg.Rules.CacheSize,
		"fp_rate":    cfg.Rules.FPRate,
	}, "Rule table configured")
	return ruletable.New(ruletable.Options{
		Cache:        cache,
		BloomFactory: bloom.NewFactory(),
		FPRate:       cfg.Rules.FPRate,
		Logger:       logger,
		Clock:        clk,
	}), nil
}

func buildSinkhole(cfg *config.AppConfig, rules sinkhole.Decider, clk clock.Clock, logger log.Logger) (*sinkhole.Server, error) {
	forwarder, err := sinkhole.NewForwarder(sinkhole.ForwarderOptions{
		Servers:  cfg.Sinkhole.Upstream,
		Timeout:  cfg.Sinkhole.Timeout,
		Parallel: cfg.Sinkhole.Parallel,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream forwarder: %w", err)
	}
	var upstream sinkhole.Upstream = forwarder
	if cfg.Sinkhole.CacheSize > 0 {
		upstream, err = sinkhole.NewCachingUpstream(forwarder, cfg.Sinkhole.CacheSize, clk)
		if err != nil {
			return nil, fmt.Errorf("failed to create answer cache: %w", err)
		}
	}
	ipv4, err := parseOptionalAddr(cfg.Sinkhole.BlockIPv4)
	if err != nil {
		return nil, fmt.Errorf("invalid sinkhole.block_ipv4: %w", err)
	}
	ipv6, err := parseOptionalAddr(cfg.Sinkhole.BlockIPv6)
	if err != nil {
		return nil, fmt.Errorf("invalid sinkhole.block_ipv6: %w", err)
	}
	log.Info(map[string]any{
		"servers":  cfg.Sinkhole.Upstream,
		"parallel": cfg.Sinkhole.Parallel,
		"timeout":  cfg.Sinkhole.Timeout.String(),
		"cache":    cfg.Sinkhole.CacheSize,
	}, "Upstream DNS forwarder configured")

	return sinkhole.NewServer(sinkhole.Options{
		Addr:      cfg.Sinkhole.Listen,
		Rules:     rules,
		Upstream:  upstream,
		BlockIPv4: ipv4,
		BlockIPv6: ipv6,
		TTL:       cfg.Sinkhole.TTL,
		Logger:    logger,
	}), nil
}

func parseOptionalAddr(s string) (netip.Addr, error) {
	if s == "" {
		return netip.Addr{}, nil
	}
	return netip.ParseAddr(s)
}

// Run starts every component and blocks until ctx is cancelled, then shuts
// them down in reverse order.
func (app *Application) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	schedDone := make(chan error, 1)
	go func() { schedDone <- app.scheduler.Run(runCtx) }()

	if err := app.start(runCtx); err != nil {
		cancel()
		_ = app.shutdown(schedDone)
		return err
	}

	<-runCtx.Done()
	log.Info(nil, "Shutdown initiated")
	return app.shutdown(schedDone)
}

func (app *Application) start(ctx context.Context) error {
	if app.sinkhole != nil {
		if err := app.sinkhole.Start(ctx); err != nil {
			return fmt.Errorf("failed to start DNS sinkhole: %w", err)
		}
	}
	if err := app.blockPage.Start(ctx); err != nil {
		return fmt.Errorf("failed to start block page: %w", err)
	}
	if err := app.control.Start(ctx); err != nil {
		return fmt.Errorf("failed to start control API: %w", err)
	}
	fields := map[string]any{
		"blockpage": app.blockPage.Address(),
		"control":   app.control.Address(),
	}
	if app.sinkhole != nil {
		fields["sinkhole"] = app.sinkhole.Address()
	}
	log.Info(fields, "focusflow daemon started")
	return nil
}

// shutdown stops the listeners, waits for the scheduler loop and releases
// the store and lock, all bounded by defaultShutdownTimeout.
func (app *Application) shutdown(schedDone <-chan error) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := app.control.Stop(shutdownCtx); err != nil {
		log.Warn(map[string]any{"error": err.Error()}, "Error during control API shutdown")
	}
	if err := app.blockPage.Stop(shutdownCtx); err != nil {
		log.Warn(map[string]any{"error": err.Error()}, "Error during block page shutdown")
	}
	if app.sinkhole != nil {
		if err := app.sinkhole.Stop(); err != nil {
			log.Warn(map[string]any{"error": err.Error()}, "Error during sinkhole shutdown")
		}
	}

	select {
	case err := <-schedDone:
		if err != nil {
			log.Warn(map[string]any{"error": err.Error()}, "Scheduler exited with error")
		}
	case <-shutdownCtx.Done():
		log.Warn(map[string]any{"timeout": defaultShutdownTimeout.String()}, "Shutdown timeout exceeded")
		return fmt.Errorf("shutdown timeout")
	}

	st := app.rules.Stats()
	log.Info(map[string]any{
		"rules":     st.Rules,
		"version":   st.Version,
		"hits":      st.Hits,
		"misses":    st.Misses,
		"evictions": st.Evictions,
	}, "Rule table final stats")

	app.release()
	log.Info(nil, "Graceful shutdown completed")
	return nil
}

// release closes the store and drops the lock.
func (app *Application) release() {
	if app.store != nil {
		if err := app.store.Close(); err != nil {
			log.Warn(map[string]any{"error": err.Error()}, "Error closing state store")
		}
		app.store = nil
	}
	if app.lock != "" {
		if err := app.lock.Unlock(); err != nil {
			log.Warn(map[string]any{"error": err.Error()}, "Error releasing lock")
		}
		app.lock = ""
	}
}
