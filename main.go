package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/api"
	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/config"
	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/coordinator"
	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/policy"
	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/store"
	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Starting coordinator...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("Heartbeat: interval=%s timeout=%s", cfg.HeartbeatInterval, cfg.HeartbeatTimeout)
	log.Printf("Command timeout: %s", cfg.CommandTimeout)

	// Initialize node directory
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Initialize policy engine
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policyContent := policy.DefaultPolicy
	if cfg.PolicyFile != "" {
		data, err := os.ReadFile(cfg.PolicyFile)
		if err != nil {
			log.Fatalf("Failed to read policy file: %v", err)
		}
		policyContent = string(data)
	}
	engine, err := policy.NewEngine(ctx, policyContent)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize the coordination core
	events := coordinator.NewEventBus()
	registry := coordinator.NewRegistry(cfg.MaxAgents, events)
	aggregator := coordinator.NewAggregator()
	dispatcher := coordinator.NewDispatcher(registry, aggregator, engine, cfg.CommandTimeout)
	gate := coordinator.NewGate(db, registry, dispatcher, cfg.HeartbeatInterval)
	monitor := coordinator.NewHeartbeatMonitor(registry, dispatcher, cfg.HeartbeatTimeout)

	// Background sweeps
	go monitor.Run(ctx, cfg.HeartbeatSweepInterval())
	go dispatcher.RunTimeoutSweeper(ctx, 500*time.Millisecond)

	// Fleet event log for the monitoring layer
	fleetEvents, unsubscribe := events.Subscribe(64)
	defer unsubscribe()
	go func() {
		for ev := range fleetEvents {
			log.Printf("Fleet event: %s node=%s", ev.Type, ev.NodeID)
		}
	}()

	// HTTP server: agent websocket endpoint plus ops surface
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	wsServer := ws.NewServer(cfg, gate, registry, dispatcher)
	wsServer.RegisterRoutes(e)

	opsHandler := api.NewHandler(registry, aggregator, dispatcher, db)
	opsHandler.RegisterRoutes(e)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("WARN: shutdown error: %v", err)
	}
}
