package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/saviobatista/atc-online/internal/logging"
	"github.com/saviobatista/atc-online/internal/metrics"
	"github.com/saviobatista/atc-online/internal/relay"
	"github.com/saviobatista/atc-online/internal/snapshot"
	"github.com/saviobatista/atc-online/internal/transport"
	"github.com/saviobatista/atc-online/internal/vatis"
)

// Config holds the HTTP surface settings
type Config struct {
	CORSOrigins     []string
	StreamKeepalive time.Duration
	MaxStreamsPerIP int
	MaxStreams      int
	// VatisRateLimit is the number of webhook calls accepted per client
	// per minute; 0 disables the limit
	VatisRateLimit int
	// TrustProxy takes the client address from X-Forwarded-For or
	// X-Real-IP. Only set it behind a proxy that overwrites those headers.
	TrustProxy bool
}

// Pinger reports backend readiness
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires the relay, snapshot service and vATIS ingestor to HTTP
type Server struct {
	cfg       Config
	relay     *relay.Relay
	snapshots *snapshot.Service
	ingestor  *vatis.Ingestor
	health    Pinger
	limiter   *transport.Limiter
	upgrader  *websocket.Upgrader
	log       zerolog.Logger
}

// NewServer creates the API server
func NewServer(cfg Config, r *relay.Relay, snapshots *snapshot.Service, ingestor *vatis.Ingestor, health Pinger) *Server {
	s := &Server{
		cfg:       cfg,
		relay:     r,
		snapshots: snapshots,
		ingestor:  ingestor,
		health:    health,
		limiter:   transport.NewLimiter(cfg.MaxStreamsPerIP, cfg.MaxStreams),
		log:       logging.Component("api"),
	}
	s.upgrader = transport.NewUpgrader(s.checkOrigin)
	return s
}

// Router builds the HTTP handler
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if s.cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Last-Event-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/online", s.handleOnline)

	r.Route("/ids", func(r chi.Router) {
		r.Get("/aircraft", s.handleAircraft)
		r.Get("/aircraft/feed", s.handleSSE(relay.PilotFeed))
		r.Get("/aircraft/feed/ws", s.handleWebSocket(relay.PilotFeed))
		r.Get("/aircraft/{callsign}", s.handlePilot)

		r.Get("/atis", s.handleSSE(relay.AtisFeed))
		r.Get("/atis/ws", s.handleWebSocket(relay.AtisFeed))
		r.Get("/atis/active", s.handleActiveAtis)

		r.With(s.vatisRateLimit()).Post("/vatis", s.handleVatis)

		r.Get("/stations", s.handleStations)
		r.Get("/stations/{station}", s.handleStation)
		r.Get("/neighbors", s.handleNeighbors)
	})

	return r
}

// vatisRateLimit limits webhook calls per client. Limited calls are still
// acknowledged with 200 so the sender does not retry.
func (s *Server) vatisRateLimit() func(http.Handler) http.Handler {
	if s.cfg.VatisRateLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		s.cfg.VatisRateLimit,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			metrics.VatisUpdates.WithLabelValues("rate_limited").Inc()
			w.WriteHeader(http.StatusOK)
		}),
	)
}

// checkOrigin accepts WebSocket upgrades from the configured CORS origins
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
