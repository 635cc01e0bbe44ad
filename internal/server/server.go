package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dukerupert/larder/internal/auth"
	"github.com/dukerupert/larder/internal/authz"
	"github.com/dukerupert/larder/internal/bus"
	"github.com/dukerupert/larder/internal/config"
	"github.com/dukerupert/larder/internal/email"
	"github.com/dukerupert/larder/internal/handler"
	"github.com/dukerupert/larder/internal/middleware"
	"github.com/dukerupert/larder/internal/store"
)

type Server struct {
	db              *sql.DB
	broker          *bus.Broker
	bridge          *bus.RedisBridge
	authH           *handler.AuthHandler
	householdH      *handler.HouseholdHandler
	invitationH     *handler.InvitationHandler
	eventsH         *handler.EventsHandler
	invitationStore *store.InvitationStore
	sessionStore    *store.SessionStore
	issuer          *auth.TokenIssuer
	rateLimiter     *middleware.RateLimiter
	logger          *slog.Logger
}

func New(db *sql.DB, cfg config.Config, logger *slog.Logger) *Server {
	broker := bus.NewBroker(logger.With("component", "bus"))

	// With Redis configured, events route through it so every instance's
	// subscribers see the same stream. Without it, the in-process broker
	// stands alone.
	var bridge *bus.RedisBridge
	var publisher bus.Publisher = broker
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		bridge = bus.NewRedisBridge(broker, client, logger.With("component", "bus_redis"))
		publisher = bridge
	}

	userStore := store.NewUserStore(db)
	householdStore := store.NewHouseholdStore(db)
	sessionStore := store.NewSessionStore(db)
	invitationStore := store.NewInvitationStore(db)
	auditStore := store.NewAuditStore(db)

	guard := authz.NewGuard(householdStore)
	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTokenTTL)
	emailClient := email.NewClient(cfg.PostmarkToken, cfg.PostmarkFrom, cfg.BaseURL)

	return &Server{
		db:              db,
		broker:          broker,
		bridge:          bridge,
		authH:           handler.NewAuthHandler(userStore, sessionStore, auditStore, issuer, cfg.RefreshTokenTTL, logger.With("component", "auth")),
		householdH:      handler.NewHouseholdHandler(householdStore, userStore, guard, publisher, logger.With("component", "household")),
		invitationH:     handler.NewInvitationHandler(invitationStore, householdStore, guard, publisher, emailClient, cfg.InviteTTL, logger.With("component", "invitation")),
		eventsH:         handler.NewEventsHandler(guard, broker, logger.With("component", "events")),
		invitationStore: invitationStore,
		sessionStore:    sessionStore,
		issuer:          issuer,
		rateLimiter:     middleware.NewRateLimiter(),
		logger:          logger,
	}
}

// Bridge returns the Redis event bridge, or nil when Redis is not configured.
func (s *Server) Bridge() *bus.RedisBridge {
	return s.bridge
}

// InvitationStore is exposed for the optional expired-invitation sweep.
func (s *Server) InvitationStore() *store.InvitationStore {
	return s.invitationStore
}

// SessionStore is exposed for the optional expired-session sweep.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("POST /register", s.rateLimitedHandler(s.authH.Register))
	outerMux.HandleFunc("POST /login", s.rateLimitedHandler(s.authH.Login))
	outerMux.HandleFunc("POST /auth/refresh", s.rateLimitedHandler(s.authH.Refresh))
	outerMux.HandleFunc("POST /logout", s.authH.Logout)
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Protected routes — wrapped with RequireAuth middleware
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.issuer)
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Sessions and profile
	mux.HandleFunc("POST /api/sessions/{id}/revoke", s.authH.RevokeSession)
	mux.HandleFunc("GET /api/audit", s.authH.Audit)
	mux.HandleFunc("PUT /api/profile", s.authH.UpdateProfile)
	mux.HandleFunc("DELETE /api/profile", s.authH.DeleteAccount)

	// Households and memberships
	mux.HandleFunc("POST /api/households", s.householdH.Create)
	mux.HandleFunc("GET /api/households", s.householdH.List)
	mux.HandleFunc("DELETE /api/households/{id}", s.householdH.Delete)
	mux.HandleFunc("GET /api/households/{id}/members", s.householdH.ListMembers)
	mux.HandleFunc("POST /api/households/{id}/members", s.householdH.AddMember)
	mux.HandleFunc("PUT /api/households/{id}/members/{user_id}", s.householdH.ChangeRole)
	mux.HandleFunc("DELETE /api/households/{id}/members/{user_id}", s.householdH.RemoveMember)

	// Invitations
	mux.HandleFunc("POST /api/households/{id}/invitations", s.invitationH.Create)
	mux.HandleFunc("GET /api/households/{id}/invitations", s.invitationH.List)
	mux.HandleFunc("DELETE /api/households/{id}/invitations/{invitation_id}", s.invitationH.Revoke)
	mux.HandleFunc("POST /api/invitations/accept", s.invitationH.Accept)

	// Live event stream
	mux.HandleFunc("GET /api/households/{id}/events", s.eventsH.Subscribe)
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
