// Package server wires the stores, engine, and handlers into one HTTP
// surface.
package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/fennwick/calbridge/internal/handler"
	"github.com/fennwick/calbridge/internal/middleware"
	"github.com/fennwick/calbridge/internal/notify"
	"github.com/fennwick/calbridge/internal/provider"
	"github.com/fennwick/calbridge/internal/store"
	"github.com/fennwick/calbridge/internal/sync"
)

type Server struct {
	db          *sql.DB
	engine      *sync.Engine
	webhookH    *handler.WebhookHandler
	channelH    *handler.ChannelHandler
	accountH    *handler.AccountHandler
	entityH     *handler.EntityHandler
	pushH       *handler.PushHandler
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

// Config carries the HTTP-facing knobs plus the sync engine tunables.
type Config struct {
	CallbackURL     string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string
	Sync            sync.Config
}

func New(db *sql.DB, clients provider.ClientSource, cfg Config, logger *slog.Logger) *Server {
	accountStore := store.NewAccountStore(db)
	channelStore := store.NewChannelStore(db)
	linkStore := store.NewLinkStore(db)
	taskStore := store.NewTaskStore(db)
	workBlockStore := store.NewWorkBlockStore(db)
	runStore := store.NewSyncRunStore(db)
	pushStore := store.NewPushStore(db)

	var notifier notify.Notifier = &notify.LogNotifier{Logger: logger.With("component", "notify")}
	if cfg.VAPIDPublicKey != "" && cfg.VAPIDPrivateKey != "" {
		notifier = notify.NewWebPushNotifier(
			cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubscriber,
			pushStore, logger.With("component", "webpush"))
	}

	syncCfg := cfg.Sync
	syncCfg.CallbackURL = cfg.CallbackURL
	engine := sync.New(sync.Deps{
		Channels:   channelStore,
		Links:      linkStore,
		Tasks:      taskStore,
		WorkBlocks: workBlockStore,
		Accounts:   accountStore,
		Runs:       runStore,
		Clients:    clients,
		Notifier:   notifier,
		Logger:     logger.With("component", "sync"),
	}, syncCfg)

	return &Server{
		db:          db,
		engine:      engine,
		webhookH:    handler.NewWebhookHandler(engine, logger.With("component", "webhook")),
		channelH:    handler.NewChannelHandler(engine, channelStore, runStore, logger.With("component", "channel")),
		accountH:    handler.NewAccountHandler(accountStore, logger.With("component", "account")),
		entityH:     handler.NewEntityHandler(engine, taskStore, workBlockStore, logger.With("component", "entity")),
		pushH:       handler.NewPushHandler(pushStore, cfg.VAPIDPublicKey, logger.With("component", "push")),
		rateLimiter: middleware.NewRateLimiter(),
		logger:      logger,
	}
}

// Engine exposes the sync engine for the renewal sweep.
func (s *Server) Engine() *sync.Engine {
	return s.engine
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// The webhook endpoint authenticates via the per-channel token, not a
	// session.
	mux.HandleFunc("POST /webhooks/calendar", s.webhookH.Notify)
	mux.HandleFunc("GET /health", s.healthHandler)

	// Account routes
	mux.HandleFunc("POST /api/accounts", s.rateLimitedHandler(s.accountH.Create))
	mux.HandleFunc("GET /api/accounts/{id}", s.accountH.Get)
	mux.HandleFunc("POST /api/accounts/{id}/reconnected", s.accountH.Reconnected)

	// Channel routes
	mux.HandleFunc("POST /api/accounts/{id}/channels", s.channelH.Register)
	mux.HandleFunc("GET /api/channels/{channel_id}", s.channelH.Get)
	mux.HandleFunc("DELETE /api/channels/{channel_id}", s.channelH.Unregister)
	mux.HandleFunc("POST /api/channels/{channel_id}/sync", s.channelH.TriggerSync)
	mux.HandleFunc("GET /api/channels/{channel_id}/runs", s.channelH.ListRuns)

	// Entity routes
	mux.HandleFunc("POST /api/tasks", s.entityH.CreateTask)
	mux.HandleFunc("POST /api/tasks/{id}/push", s.entityH.PushTask)
	mux.HandleFunc("DELETE /api/tasks/{id}/push", s.entityH.RetractTask)
	mux.HandleFunc("POST /api/work-blocks", s.entityH.CreateWorkBlock)
	mux.HandleFunc("POST /api/work-blocks/{id}/push", s.entityH.PushWorkBlock)
	mux.HandleFunc("DELETE /api/work-blocks/{id}/push", s.entityH.RetractWorkBlock)

	// Push notification routes
	mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
	mux.HandleFunc("DELETE /api/push/subscribe", s.pushH.Unsubscribe)
	mux.HandleFunc("GET /api/accounts/{id}/push-subscriptions", s.pushH.ListSubscriptions)
	mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}
