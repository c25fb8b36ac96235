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

	"github.com/robfig/cron/v3"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendarapi "google.golang.org/api/calendar/v3"

	"github.com/fennwick/calbridge/internal/backoff"
	"github.com/fennwick/calbridge/internal/config"
	"github.com/fennwick/calbridge/internal/database"
	"github.com/fennwick/calbridge/internal/logging"
	"github.com/fennwick/calbridge/internal/provider"
	"github.com/fennwick/calbridge/internal/server"
	"github.com/fennwick/calbridge/internal/store"
	syncengine "github.com/fennwick/calbridge/internal/sync"
)

func main() {
	configPath := flag.String("config", "calbridge.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  cfg.Google.RedirectURL,
		Scopes:       []string{calendarapi.CalendarScope},
		Endpoint:     google.Endpoint,
	}
	source := provider.NewOAuthSource(oauthCfg, store.NewTokenStore(db), logger.With("component", "oauth"))
	clients := provider.NewClientCache(source, 30*time.Minute, 100)

	srv := server.New(db, clients, server.Config{
		CallbackURL:     cfg.CallbackURL,
		VAPIDPublicKey:  cfg.Push.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.Push.VAPIDPrivateKey,
		VAPIDSubscriber: cfg.Push.Subscriber,
		Sync: syncengine.Config{
			ChannelTTL:        cfg.Sync.ChannelTTL,
			SuppressionWindow: cfg.Sync.SuppressionWindow,
			MaxPages:          cfg.Sync.MaxPages,
			SyncBudget:        cfg.Sync.SyncBudget,
			Retry: backoff.Policy{
				Initial:     cfg.Sync.BackoffInitial,
				Max:         cfg.Sync.BackoffMax,
				MaxAttempts: cfg.Sync.BackoffAttempts,
			},
		},
	}, logger)

	// Hourly sweep renews channels approaching expiry so webhook delivery
	// never lapses.
	sweeper := cron.New()
	if _, err := sweeper.AddFunc("@hourly", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		srv.Engine().RenewExpiring(ctx, cfg.Sync.RenewBefore)
	}); err != nil {
		log.Fatalf("failed to schedule channel renewal: %v", err)
	}
	if _, err := sweeper.AddFunc("@every 15m", func() {
		srv.RateLimiter().Cleanup()
	}); err != nil {
		log.Fatalf("failed to schedule rate limiter cleanup: %v", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Minute, // sync-triggering requests can be slow
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		fmt.Printf("calbridge running at http://localhost:%s\n", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}
