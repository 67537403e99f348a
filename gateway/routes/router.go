package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"itemescrow/gateway/middleware"
	"itemescrow/integrations/eventlog"
)

// EventSource exposes the audit log to observers.
type EventSource interface {
	Recent(ctx context.Context, limit int) ([]eventlog.Entry, error)
}

type Config struct {
	Market        Market
	Events        EventSource
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Market == nil {
		return nil, fmt.Errorf("routes: market engine required")
	}
	if cfg.Authenticator == nil {
		return nil, fmt.Errorf("routes: authenticator required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))
	if cfg.Observability != nil {
		r.Use(cfg.Observability.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Observability != nil {
		r.Handle("/metrics", cfg.Observability.MetricsHandler())
	}

	mr := &marketRoutes{market: cfg.Market, events: cfg.Events, logger: logger.With(slog.String("component", "routes"))}
	r.Group(func(api chi.Router) {
		if cfg.RateLimiter != nil {
			api.Use(cfg.RateLimiter.Middleware)
		}
		mr.mountPublic(api)
		api.Group(func(authed chi.Router) {
			authed.Use(cfg.Authenticator.Middleware)
			mr.mountAuthenticated(authed)
		})
	})
	return r, nil
}
