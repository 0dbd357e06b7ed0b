// Package api exposes the market service as a JSON HTTP surface.
//
// Callers are identified by the X-User-ID header and moderators by
// X-Moderator. Both are trusted as set by the fronting gateway.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sells-group/xivmarket/internal/market"
	"github.com/sells-group/xivmarket/internal/monitoring"
)

// Options configures the router.
type Options struct {
	CORSOrigins     []string
	StaleAfterHours int
	RequestTimeout  time.Duration
}

type server struct {
	svc       *market.Service
	collector *monitoring.Collector
	opts      Options
}

// NewRouter builds the HTTP handler for svc.
func NewRouter(svc *market.Service, collector *monitoring.Collector, opts Options) http.Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	s := &server{svc: svc, collector: collector, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", headerUserID, headerModerator},
		MaxAge:         300,
	}))
	r.Use(identify)

	r.Get("/health", s.health)
	r.Get("/stats", s.stats)

	r.Post("/users", s.registerUser)
	r.Get("/users/{id}/moderation", s.moderationStats)

	r.Route("/items", func(r chi.Router) {
		r.Post("/", s.createItem)
		r.Get("/recent", s.recent)
		r.Get("/valuable", s.valuable)
		r.Get("/no-supply", s.noSupply)
		r.Get("/stale", s.stale)
		r.Get("/search", s.search)
		r.Get("/most-watched", s.mostWatched)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getItem)
			r.Get("/report", s.report)
			r.Get("/history", s.history)
			r.Get("/related", s.related)
			r.With(requireModerator).Put("/related", s.setRelated)
			r.With(requireUser).Post("/prices", s.addPrice)
			r.With(requireUser).Delete("/prices/{ts}", s.deletePrice)
		})
	})

	r.Route("/flags", func(r chi.Router) {
		r.With(requireUser).Post("/", s.createFlag)
		r.Group(func(r chi.Router) {
			r.Use(requireModerator)
			r.Get("/", s.listFlags)
			r.Get("/history", s.flagHistory)
			r.Post("/resolve", s.resolveFlag)
		})
	})

	r.Route("/watchlist", func(r chi.Router) {
		r.Use(requireUser)
		r.Get("/", s.watchlist)
		r.Get("/{itemID}", s.isWatching)
		r.Post("/{itemID}", s.watch)
		r.Delete("/{itemID}", s.unwatch)
	})

	return r
}
