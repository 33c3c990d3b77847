package api

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/graphpulse/forcemap/internal/api/handlers"
	"github.com/graphpulse/forcemap/internal/cache"
	"github.com/graphpulse/forcemap/internal/config"
	"github.com/graphpulse/forcemap/internal/middleware"
	"github.com/graphpulse/forcemap/internal/store"
)

// NewRouter assembles the HTTP surface. The store is optional; graph
// persistence routes are only registered when it is configured.
func NewRouter(cfg *config.Config, c cache.Cache, s *store.Store) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RecoverWithSentry)
	r.Use(middleware.Metrics)
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(middleware.Compress)

	r.HandleFunc("/healthz", handlers.Health).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	if cfg.EnableRateLimit {
		rl := middleware.NewRateLimiter(
			cfg.RateLimitGlobal, cfg.RateLimitGlobalBurst,
			cfg.RateLimitPerIP, cfg.RateLimitPerIPBurst,
		)
		api.Use(rl.Limit)
	}

	layoutHandler := handlers.NewLayoutHandler(c, cfg)
	api.Handle("/layout", layoutHandler).Methods("POST")

	ws := handlers.NewWebSocketHandler(cfg)
	api.HandleFunc("/layout/ws", ws.HandleLayout).Methods("GET")

	if s != nil {
		gh := handlers.NewGraphHandler(s, cfg)
		api.HandleFunc("/graphs", gh.Create).Methods("POST")
		api.HandleFunc("/graphs/{id:[0-9]+}", gh.Get).Methods("GET")
		api.HandleFunc("/graphs/{id:[0-9]+}/layout", gh.RunLayout).Methods("POST")
	}

	return r
}
