// Package api - HTTP и websocket интерфейс к слою данных блога.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/UkralStul/fexora/graph"
	"github.com/UkralStul/fexora/internal/dataloader"
	"github.com/UkralStul/fexora/internal/directory"
	"github.com/UkralStul/fexora/internal/feed"
	"github.com/UkralStul/fexora/internal/identity"
	"github.com/UkralStul/fexora/internal/posts"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
)

// Pinger проверяет доступность хранилища.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config - зависимости и настройки HTTP-слоя.
type Config struct {
	Gateway   *identity.Gateway
	Directory *directory.Directory
	Posts     *posts.Repository
	Feed      *feed.Assembler
	Health    Pinger
	// GraphQL включает /query и /playground; nil отключает GraphQL.
	GraphQL *graph.Resolver
	// Metrics отдается на /metrics; nil отключает маршрут.
	Metrics http.Handler
	Logger  *slog.Logger

	AllowedOrigins      []string
	AuthRateLimitPerMin int
	WSPingInterval      time.Duration
}

// Server обслуживает HTTP-запросы.
type Server struct {
	gateway   *identity.Gateway
	directory *directory.Directory
	posts     *posts.Repository
	feed      *feed.Assembler
	health    Pinger
	metrics   http.Handler
	graphql   http.Handler
	logger    *slog.Logger

	origins      []string
	authLimiter  *ipRateLimiter
	pingInterval time.Duration
	upgrader     websocket.Upgrader
}

// New создает Server.
func New(cfg Config) *Server {
	s := &Server{
		gateway:      cfg.Gateway,
		directory:    cfg.Directory,
		posts:        cfg.Posts,
		feed:         cfg.Feed,
		health:       cfg.Health,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		origins:      cfg.AllowedOrigins,
		authLimiter:  newIPRateLimiter(cfg.AuthRateLimitPerMin),
		pingInterval: cfg.WSPingInterval,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "api")
	if len(s.origins) == 0 {
		s.origins = []string{"*"}
	}
	if s.pingInterval <= 0 {
		s.pingInterval = 10 * time.Second
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	if cfg.GraphQL != nil {
		s.graphql = graph.NewHandler(cfg.GraphQL, graph.HandlerConfig{
			CheckOrigin: s.checkOrigin,
			KeepAlive:   s.pingInterval,
		})
	}
	return s
}

// Routes собирает роутер со всеми маршрутами.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.withSession)

		r.Route("/auth", func(r chi.Router) {
			r.Use(s.authLimiter.middleware)
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
			r.Get("/federated/login", s.handleFederatedLogin)
			r.Get("/federated/callback", s.handleFederatedCallback)
			r.Post("/password-reset", s.handlePasswordReset)
			r.Get("/password-reset/verify", s.handlePasswordResetVerify)
			r.Post("/password-reset/confirm", s.handlePasswordResetConfirm)
			r.With(s.requireAuth).Post("/logout", s.handleLogout)
		})

		r.Get("/posts", s.handleFeed)
		r.With(func(next http.Handler) http.Handler {
			return dataloader.Middleware(s.directory, next)
		}).Get("/posts/{id}", s.handleGetPost)
		r.Get("/ws/feed", s.handleFeedSocket)

		if s.graphql != nil {
			// Лоадер кэширует профили на время запроса; подписка живет дольше,
			// поэтому websocket-подключения идут мимо него.
			r.With(func(next http.Handler) http.Handler {
				batched := dataloader.Middleware(s.directory, next)
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					if websocket.IsWebSocketUpgrade(r) {
						next.ServeHTTP(w, r)
						return
					}
					batched.ServeHTTP(w, r)
				})
			}).Handle("/query", s.graphql)
			r.Get("/playground", playground.Handler("Fexora GraphQL", "/query"))
		}

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/me", s.handleMe)
			r.Get("/me/posts", s.handleMyPosts)
			r.Post("/posts", s.handleCreatePost)
			r.Patch("/posts/{id}", s.handleUpdatePost)
			r.Delete("/posts/{id}", s.handleDeletePost)
			r.Get("/ws/my-posts", s.handleMyPostsSocket)
		})
	})

	return r
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.origins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
