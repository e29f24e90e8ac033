package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq" // Postgres driver

	"github.com/hustlexp/backend/internal/api"
	"github.com/hustlexp/backend/internal/config"
	"github.com/hustlexp/backend/internal/core"
)

func main() {
	log.Println("🔥 Starting HustleXP money & trust core...")

	// Local dev convenience; production injects real env.
	if err := godotenv.Load(); err == nil {
		log.Println("loaded .env")
	}

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	c, err := core.New(cfg, core.Options{})
	if err != nil {
		log.Fatalf("core: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	server := api.NewServer(c)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run(cfg.Server.Port) }()

	// Graceful shutdown (Cloud Run sends SIGTERM).
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("received %v, shutting down...", sig)
	case err := <-errCh:
		log.Printf("server stopped: %v", err)
	}
	cancel()
}
