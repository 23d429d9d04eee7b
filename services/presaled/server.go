package presaled

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rados-io/saturn-presale/core/events"
	"github.com/rados-io/saturn-presale/gateway/middleware"
	"github.com/rados-io/saturn-presale/integrations/audit"
	"github.com/rados-io/saturn-presale/native/presale"
	"github.com/rados-io/saturn-presale/observability"
)

// Options wires the collaborators of the API server.
type Options struct {
	Engine        *presale.Engine
	Hub           *events.Hub
	Audit         *audit.Store
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Idempotency   *middleware.Idempotency
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
	// StreamWriteTimeout bounds a single websocket write.
	StreamWriteTimeout time.Duration
}

// Server exposes the sale ledger over HTTP.
type Server struct {
	engine       *presale.Engine
	hub          *events.Hub
	audit        *audit.Store
	auth         *middleware.Authenticator
	limiter      *middleware.RateLimiter
	idempotency  *middleware.Idempotency
	obs          *middleware.Observability
	cors         middleware.CORSConfig
	metrics      *observability.PresaleMetrics
	logger       *slog.Logger
	writeTimeout time.Duration
	router       chi.Router
}

// NewServer validates opts and builds the router.
func NewServer(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("presaled: engine required")
	}
	if opts.Authenticator == nil {
		return nil, errors.New("presaled: authenticator required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Hub == nil {
		opts.Hub = events.NewHub(0)
	}
	if opts.StreamWriteTimeout <= 0 {
		opts.StreamWriteTimeout = 5 * time.Second
	}
	s := &Server{
		engine:       opts.Engine,
		hub:          opts.Hub,
		audit:        opts.Audit,
		auth:         opts.Authenticator,
		limiter:      opts.RateLimiter,
		idempotency:  opts.Idempotency,
		obs:          opts.Observability,
		cors:         opts.CORS,
		metrics:      observability.Presale(),
		logger:       opts.Logger,
		writeTimeout: opts.StreamWriteTimeout,
	}
	s.router = s.routes()
	s.refreshSupply()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(s.cors))
	if s.obs != nil {
		r.Use(s.obs.Middleware)
	}

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/sale", s.handleSale)
		v1.Get("/quote", s.handleQuote)
		v1.Get("/grants/{id}", s.handleGrant)
		v1.Get("/owners/{addr}/grants", s.handleOwnerGrants)
		v1.Get("/accounts/{addr}", s.handleAccount)
		v1.Get("/events", s.handleEvents)
		v1.Get("/stream", s.handleStream)

		v1.Group(func(w chi.Router) {
			s.mutating(w, "deposits", middleware.ScopeCustodian)
			w.Post("/deposits", s.handleDeposit)
		})
		v1.Group(func(w chi.Router) {
			s.mutating(w, "purchases", middleware.ScopeBuyer)
			w.Post("/purchases", s.handlePurchase)
			w.Post("/contributions", s.handleContribution)
		})
		v1.Group(func(w chi.Router) {
			s.mutating(w, "grants", middleware.ScopeBuyer)
			w.Post("/grants/{id}/transfer", s.handleTransfer)
			w.Post("/grants/{id}/redeem", s.handleRedeem)
			w.Post("/accounts/redeem", s.handleAccountRedeem)
		})
		v1.Group(func(w chi.Router) {
			s.mutating(w, "admin", middleware.ScopeAdmin)
			w.Post("/admin/end", s.handleEnd)
		})
		v1.Group(func(a chi.Router) {
			a.Use(s.auth.Middleware(middleware.ScopeAdmin))
			a.Get("/exports/grants.csv", s.handleExportGrantsCSV)
			a.Get("/exports/grants.jsonl", s.handleExportGrantsJSONL)
			a.Get("/exports/grants.parquet", s.handleExportGrantsParquet)
			a.Get("/exports/accounts.csv", s.handleExportAccountsCSV)
		})
	})
	return r
}

// mutating installs authentication, rate limiting and idempotent replay in
// that order so limits and replays are keyed by the caller.
func (s *Server) mutating(r chi.Router, limitKey string, scope string) {
	r.Use(s.auth.Middleware(scope))
	if s.limiter != nil {
		r.Use(s.limiter.Middleware(limitKey))
	}
	if s.idempotency != nil {
		r.Use(s.idempotency.Middleware)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.engine.State(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// refreshSupply publishes the sold and remaining gauges.
func (s *Server) refreshSupply() {
	st, err := s.engine.State()
	if err != nil {
		s.logger.Warn("presaled: read sale state", slog.String("error", err.Error()))
		return
	}
	s.metrics.SetSupply(st.Active, st.Sold, s.engine.HardCap())
}
