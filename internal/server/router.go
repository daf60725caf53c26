// Package server assembles the HTTP routes of the service.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/droplite/service/internal/config"
	appMiddleware "github.com/droplite/service/internal/middleware"
	"github.com/droplite/service/internal/response"
	"github.com/droplite/service/internal/share"
)

// Deps are the collaborators the router mounts.
type Deps struct {
	Config *config.Config
	Logger *slog.Logger
	Files  *share.Handler
	Admin  *share.AdminHandler // mounted only when Config.AdminJWTSecret is set
	Media  http.Handler        // serves blobs of the local storage driver; nil otherwise
	Ping   func(ctx context.Context) error
}

// NewRouter builds the chi router with all middleware and routes.
func NewRouter(d Deps) http.Handler {
	cfg := d.Config

	globalLimit := appMiddleware.NewRateLimiter("global", cfg.RateGlobal, cfg.RateGlobalWindow, cfg.RateClients,
		"Too many requests. Please try again later.")
	uploadLimit := appMiddleware.NewRateLimiter("upload", cfg.RateUpload, cfg.RateUploadWindow, cfg.RateClients,
		"Too many uploads. Please wait before trying again.")
	verifyLimit := appMiddleware.NewRateLimiter("verify", cfg.RateVerify, cfg.RateVerifyWindow, cfg.RateClients,
		"Too many verification attempts. Please wait before retrying.")

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	if cfg.TrustProxyHeaders {
		r.Use(chiMiddleware.RealIP)
	}
	r.Use(appMiddleware.Logger(d.Logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(appMiddleware.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Retry-After", "RateLimit-Limit", "RateLimit-Remaining"},
		MaxAge:         300,
	}))
	r.Use(globalLimit.Handler)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Drop Lite is running"))
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if d.Ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := d.Ping(ctx); err != nil {
				d.Logger.Warn("health check failed", "error", err)
				response.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Route("/upload-file", func(r chi.Router) {
		r.With(uploadLimit.Handler, appMiddleware.MaxBodySize(cfg.MaxBodySize)).
			Post("/upload", d.Files.Upload)
	})

	r.Route("/download-file", func(r chi.Router) {
		r.Get("/{id}", d.Files.GetMetadata)
		r.With(verifyLimit.Handler).Post("/{id}/verify", d.Files.VerifyCode)
	})

	if d.Media != nil {
		r.Handle("/media/*", http.StripPrefix("/media", d.Media))
	}

	if d.Admin != nil && cfg.AdminJWTSecret != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(appMiddleware.RequireOperator(cfg.AdminJWTSecret))
			r.Post("/sweep", d.Admin.Sweep)
			r.Post("/reconcile", d.Admin.Reconcile)
		})
	}

	return r
}
