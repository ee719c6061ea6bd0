// Package api exposes the funnels and the referral boundary over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"opz-funnels/internal/common/auth"
	"opz-funnels/internal/common/logger"
	"opz-funnels/internal/models"
	"opz-funnels/internal/referral"
	"opz-funnels/internal/session"
)

// Referrals is the referral boundary the API calls into.
type Referrals interface {
	RequestRouting(ctx context.Context, app models.Application) (models.ReferralRouting, error)
	RecordOutcome(ctx context.Context, partner models.Partner, cb referral.Callback) error
	VerifyCallback(partner models.Partner, body []byte, sig string) (referral.Callback, error)
	History(ctx context.Context, userRef string) ([]models.ReferralEntry, error)
}

// Check is one readiness probe.
type Check func(ctx context.Context) error

type Options struct {
	Sessions  *session.Manager
	Referrals Referrals
	// Tokens protects the referral endpoints. Nil disables authentication.
	Tokens auth.TokenValidator
	Checks map[string]Check
	Logger logger.Logger
}

type Server struct {
	sessions  *session.Manager
	referrals Referrals
	tokens    auth.TokenValidator
	checks    map[string]Check
	logger    logger.Logger
}

func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Server{
		sessions:  opts.Sessions,
		referrals: opts.Referrals,
		tokens:    opts.Tokens,
		checks:    opts.Checks,
		logger:    log.WithFields(map[string]interface{}{"component": "api"}),
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	r.Get("/health", s.health)
	r.Get("/ready", s.ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Get("/funnels", s.listFlows)
		api.Route("/funnels/{flow}/sessions", func(fr chi.Router) {
			fr.Post("/", s.createSession)
			fr.Route("/{id}", func(sr chi.Router) {
				sr.Get("/", s.getSession)
				sr.Delete("/", s.resetSession)
				sr.Patch("/data", s.updateData)
				sr.Post("/next", s.next)
				sr.Post("/back", s.back)
				sr.Post("/goto/{step}", s.goTo)
				sr.Post("/submit", s.submit)
			})
		})

		api.Route("/referrals", func(rr chi.Router) {
			rr.Post("/callbacks/{partner}", s.partnerCallback)
			rr.Group(func(protected chi.Router) {
				protected.Use(s.requireBearer)
				protected.Post("/route", s.routeReferral)
				protected.Get("/", s.referralHistory)
			})
		})
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	results := make(map[string]string, len(s.checks))
	status := http.StatusOK
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	writeJSON(w, status, map[string]interface{}{
		"status": state,
		"checks": results,
		"time":   time.Now().Format(time.RFC3339),
	})
}
