// Package api exposes the record service over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/sells-group/esg-data/internal/config"
	"github.com/sells-group/esg-data/internal/monitoring"
	"github.com/sells-group/esg-data/internal/records"
	"github.com/sells-group/esg-data/internal/store"
)

// ActorHeader carries the id of the user performing a request.
const ActorHeader = "X-User-ID"

// Deps are the collaborators the router serves.
type Deps struct {
	Service   *records.Service
	Store     store.Store
	Collector *monitoring.Collector
	Metrics   *monitoring.Metrics
	Config    config.ServerConfig
}

type handler struct {
	svc         *records.Service
	store       store.Store
	collector   *monitoring.Collector
	maxUpload   int64
	writeLimits *rate.Limiter
}

// NewRouter builds the chi router for the API.
func NewRouter(d Deps) http.Handler {
	h := &handler{
		svc:       d.Service,
		store:     d.Store,
		collector: d.Collector,
		maxUpload: int64(d.Config.MaxUploadMB) << 20,
	}
	if h.maxUpload <= 0 {
		h.maxUpload = 10 << 20
	}
	if d.Config.RateLimit.RPS > 0 {
		burst := d.Config.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		h.writeLimits = rate.NewLimiter(rate.Limit(d.Config.RateLimit.RPS), burst)
	}

	origins := d.Config.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if d.Config.RequestTimeoutSecs > 0 {
		r.Use(middleware.Timeout(time.Duration(d.Config.RequestTimeoutSecs) * time.Second))
	}

	r.Get("/health", h.health)
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/categories", h.listCategories)
		r.Get("/stats", h.stats)

		r.Route("/companies/{companyID}/esg/{category}", func(r chi.Router) {
			r.Get("/", h.getActive)
			r.Get("/versions", h.listVersions)
			r.Get("/versions/{versionID}", h.getVersion)
			r.Get("/versions/{versionID}/source", h.sourceFile)
			r.Get("/uploads", h.listUploads)
			r.Get("/export", h.export)

			r.Group(func(r chi.Router) {
				r.Use(h.limitWrites)
				r.Post("/", h.createRecord)
				r.Post("/import", h.importFile)
				r.Post("/import/json", h.importJSON)
				r.Put("/metrics", h.upsertMetric)
				r.Post("/metrics/batch", h.batchUpsert)
				r.Delete("/metrics/{metricID}", h.deleteMetric)
				r.Post("/versions/{versionID}/restore", h.restoreVersion)
				r.Post("/validate", h.validate)
				r.Patch("/verification", h.updateVerification)
			})
		})
	})

	return r
}
