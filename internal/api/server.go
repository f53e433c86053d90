// Package api exposes the funnel and its integrations over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/leadfunnel/internal/conversion"
	"github.com/sells-group/leadfunnel/internal/crm"
	"github.com/sells-group/leadfunnel/internal/funnel"
	"github.com/sells-group/leadfunnel/internal/leadlog"
	"github.com/sells-group/leadfunnel/internal/resilience"
	"github.com/sells-group/leadfunnel/internal/store"
)

// DefaultCookieName is the funnel session cookie.
const DefaultCookieName = "lf_session"

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Deps are the services behind the handlers.
type Deps struct {
	Funnel   *funnel.Funnel
	CRM      *crm.Syncer
	Log      *leadlog.Log
	Reporter *conversion.Reporter
	Breakers *resilience.Breakers
}

// Options controls HTTP behavior.
type Options struct {
	PublicBaseURL  string
	CountryCode    string
	CookieName     string
	CookieSecure   bool
	SessionTTL     time.Duration
	AllowedOrigins []string
}

// Server routes requests to the funnel and the integration endpoints.
type Server struct {
	funnel   *funnel.Funnel
	crm      *crm.Syncer
	sheet    *leadlog.Log
	reporter *conversion.Reporter
	breakers *resilience.Breakers
	opts     Options
	router   *chi.Mux
	now      func() time.Time
	log      *zap.Logger
}

// New creates a Server. Nil integrations answer with a configuration error.
func New(d Deps, opts Options) *Server {
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = store.DefaultTTL
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"https://*", "http://*"}
	}
	s := &Server{
		funnel:   d.Funnel,
		crm:      d.CRM,
		sheet:    d.Log,
		reporter: d.Reporter,
		breakers: d.Breakers,
		opts:     opts,
		router:   chi.NewRouter(),
		now:      time.Now,
		log:      zap.L().With(zap.String("component", "api")),
	}
	if s.crm == nil {
		s.crm = crm.New(nil, 0)
	}
	if s.sheet == nil {
		s.sheet = leadlog.New(nil, "")
	}
	if s.reporter == nil {
		s.reporter = conversion.New(nil, "")
	}
	if s.breakers == nil {
		s.breakers = resilience.NewBreakers(resilience.DefaultConfig())
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.log))
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	s.router.Use(middleware.RequestSize(maxBodyBytes))
}

func (s *Server) setupRoutes() {
	s.router.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, msgMethodNotAllowed)
	})

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/integrations", func(r chi.Router) {
		r.Options("/*", handleOptions)
		r.Post("/crm/upsert", s.handleCRMUpsert)
		r.Post("/sheet/append", s.handleSheetAppend)
		r.Post("/conversion/report", s.handleConversionReport)
	})

	if s.funnel == nil {
		return
	}
	s.router.Route("/funnel", func(r chi.Router) {
		r.Use(s.session)
		r.Post("/land", s.handleLand)
		r.Post("/lead", s.handleLead)
		r.Post("/watch", s.handleWatch)
		r.Post("/apply/start", s.handleApplyStart)
		r.Post("/apply", s.handleApply)
		r.Post("/booking", s.handleBooking)
		r.Post("/apply-rejected", s.handleApplyRejected)
		r.Post("/restart", s.handleRestart)
		r.Get("/session", s.handleSession)
	})
}

func handleOptions(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"integrations": s.breakers.States(),
	})
}
