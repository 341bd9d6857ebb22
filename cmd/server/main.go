package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"decisionlens/internal/analysis"
	"decisionlens/internal/auth"
	"decisionlens/internal/config"
	"decisionlens/internal/hub"
	"decisionlens/internal/lifecycle"
	"decisionlens/internal/scheduler"
	"decisionlens/internal/server"
	"decisionlens/internal/store"
	"decisionlens/internal/ws"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg := config.New()

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}

	gateway, err := analysis.NewGateway(cfg)
	if err != nil {
		log.Fatalf("failed to create analysis gateway: %v", err)
	}

	authSvc := auth.New(st, cfg.AccessTokenSecret, cfg.RefreshTokenSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	rooms := hub.New()
	engine := lifecycle.New(st, gateway, rooms)
	wsGateway := ws.NewGateway(authSvc, engine, rooms)

	sched := scheduler.New()
	if err := sched.AddTokenPurge(cfg.TokenPurgeSpec, st, cfg.RefreshTokenTTL); err != nil {
		log.Fatalf("failed to schedule token purge: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(cfg.Addr, st, authSvc, wsGateway)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server: %v", err)
	}

	// Let in-flight analyses reach their terminal event before exit.
	engine.Wait()
}
