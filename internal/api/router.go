package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Ibragimm228/realtimechat/internal/api/middleware"
	"github.com/Ibragimm228/realtimechat/internal/auth"
	"github.com/Ibragimm228/realtimechat/internal/config"
	"github.com/Ibragimm228/realtimechat/internal/handlers"
	"github.com/Ibragimm228/realtimechat/internal/ratelimit"
	"github.com/Ibragimm228/realtimechat/internal/realtime"
	"github.com/Ibragimm228/realtimechat/internal/relay"
	"github.com/Ibragimm228/realtimechat/internal/rooms"
	"github.com/Ibragimm228/realtimechat/internal/store"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, cfg *config.Config, redisStore *store.RedisStore) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024)) // 16KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	broker := realtime.NewBroker(redisStore.Client(), logger)
	roomManager := rooms.NewManager(redisStore, broker, logger)
	messageRelay := relay.New(redisStore, broker, logger)

	h := handlers.NewHandler(redisStore, roomManager, messageRelay, broker, handlers.Options{
		DefaultRoomTTL:      cfg.DefaultRoomTTL,
		DefaultRoomCapacity: cfg.DefaultRoomCapacity,
		MaxRoomTTL:          cfg.MaxRoomTTL,
		MaxRoomCapacity:     cfg.MaxRoomCapacity,
		SecureCookies:       cfg.UseSecureCookies(),
		AllowedOrigins:      cfg.CORSAllowedOrigins,
		StoreMode:           storeMode(cfg),
	}, logger)

	authmw := middleware.NewAuthMiddleware(auth.NewGate(redisStore), logger)

	limiter := middleware.NewRateLimiter(
		ratelimit.NewSlidingWindowLimiter(redisStore.Client(), ratelimit.Config{
			Requests: cfg.RateLimitRequests,
			Window:   cfg.RateLimitWindow,
		}, "ratelimit:ip:"),
		redisStore.Client(),
		logger,
		middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		},
	)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)

		r.Post("/room/create", h.CreateRoom)
		r.Post("/room/join", h.JoinRoom)

		// Member routes: roomId query parameter plus auth cookie
		r.Get("/room/ttl", authmw.RequireMember(h.RoomTTL))
		r.Delete("/room", authmw.RequireMember(h.DestroyRoom))
		r.Get("/room/events", authmw.RequireMember(h.Events))

		r.Get("/messages", authmw.RequireMember(h.ListMessages))
		r.Post("/messages", authmw.RequireMember(h.PostMessage))
		r.Delete("/messages", authmw.RequireMember(h.DeleteMessage))
		r.Post("/messages/typing", authmw.RequireMember(h.Typing))
	})

	return r
}

// storeMode reports whether rooms live in an external Redis or the
// in-process emulator started when no REDIS_URL is configured.
func storeMode(cfg *config.Config) string {
	if cfg.RedisURL == "" {
		return handlers.StoreEmbedded
	}
	return handlers.StoreExternal
}
