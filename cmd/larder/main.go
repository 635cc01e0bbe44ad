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

	"github.com/dukerupert/larder/internal/config"
	"github.com/dukerupert/larder/internal/database"
	"github.com/dukerupert/larder/internal/logging"
	"github.com/dukerupert/larder/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	srv := server.New(db, cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if bridge := srv.Bridge(); bridge != nil {
		go func() {
			if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("redis bridge stopped", "error", err)
			}
		}()
	}

	// Optional storage-hygiene sweep. Correctness never depends on it:
	// expiry is checked at accept and refresh time.
	if cfg.InviteSweepEvery > 0 {
		go func() {
			ticker := time.NewTicker(cfg.InviteSweepEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if n, err := srv.InvitationStore().DeleteExpired(); err != nil {
						logger.Error("invitation sweep", "error", err)
					} else if n > 0 {
						logger.Info("invitation sweep", "deleted", n)
					}
					if n, err := srv.SessionStore().DeleteExpired(); err != nil {
						logger.Error("session sweep", "error", err)
					} else if n > 0 {
						logger.Info("session sweep", "deleted", n)
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		fmt.Printf("Larder running at http://localhost:%s\n", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}
