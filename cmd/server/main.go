package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/app"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/config"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/db"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/router"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}

	if err := db.InitDB(cfg); err != nil {
		log.Fatalf("❌ Failed to initialize database: %v", err)
	}

	container, err := app.InitializeContainer(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to initialize services: %v", err)
	}

	// Routes go live immediately; bridge endpoints answer 503 through
	// the pending proxy until background startup binds the delegate.
	r := router.SetupRouter(container, logger)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Printf("🚀 Server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed: %v", err)
		}
	}()

	go func() {
		startCtx, cancelStart := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancelStart()
		if err := container.Start(startCtx); err != nil {
			log.Fatalf("❌ Failed to start services: %v", err)
		}
		log.Println("✅ Background services started, bridge API live")
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("🛑 Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ HTTP server shutdown error: %v", err)
	}
	container.Shutdown()
	log.Println("👋 Server stopped")
}
