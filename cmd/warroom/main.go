// Package main is the entry point for the war room engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nmscd/warroom/internal/api"
	"github.com/nmscd/warroom/internal/auth"
	"github.com/nmscd/warroom/internal/conflict"
	"github.com/nmscd/warroom/internal/config"
	"github.com/nmscd/warroom/internal/feed"
	"github.com/nmscd/warroom/internal/stats"
	"github.com/nmscd/warroom/internal/store"
	"github.com/nmscd/warroom/internal/territory"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to configuration JSON file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("warroom %s (commit=%s, built=%s)\n", version, commit, date)
		os.Exit(0)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// Resolve config path: --config flag > WARROOM_CONFIG env > auto-discover.
	// An empty path is fine when the environment carries the full config.
	path := *configPath
	if path == "" {
		path = os.Getenv("WARROOM_CONFIG")
	}
	if path == "" {
		path = discoverConfig()
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}

	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		log.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Wire territory and conflict services over the shared database.
	owner := territory.NewCalculator(db)
	publisher := feed.NewPublisher(db, log, cfg.ActivityFeedRetention)
	claims := territory.NewClaimService(db, owner, publisher)
	homeRegions := territory.NewHomeRegionService(db)
	sm := conflict.NewStateMachine(db, owner, publisher)
	negotiator := conflict.NewEngine(db, sm, owner, publisher, conflict.NegotiationConfig{
		CounterOfferCap:   cfg.CounterOfferCap,
		AllowAcknowledged: cfg.AllowAcknowledgedNegotiation(),
	})
	statsSvc := stats.NewService(db, owner)

	resolver := auth.NewResolver(cfg.AuthHMACSecret, cfg.AuthIssuer)

	handler := &api.Handler{
		Claims:      claims,
		Owner:       owner,
		HomeRegions: homeRegions,
		SM:          sm,
		Negotiator:  negotiator,
		Stats:       statsSvc,
		Publisher:   publisher,
		DB:          db,
		Catalog:     &store.CatalogRepo{},
		HomeRepo:    &store.HomeRegionRepo{},
		FeedRepo:    &store.FeedRepo{},
	}

	srv := api.NewServer(handler, resolver, cfg.ListenAddr, time.Duration(cfg.RequestTimeoutSec)*time.Second)

	// Graceful shutdown on interrupt.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error("server shutdown", "error", err)
		}
	}()

	log.Info("war room engine listening", "addr", cfg.ListenAddr)

	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

// discoverConfig looks for config.json next to the executable, then in the cwd.
func discoverConfig() string {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "config.json")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	if _, err := os.Stat("config.json"); err == nil {
		return "config.json"
	}
	return ""
}
