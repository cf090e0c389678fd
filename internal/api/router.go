package api

import (
	"net/http"
	"time"

	"github.com/athebyme/gomarket-platform/supplier-service/internal/api/handlers"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/api/middleware"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/metrics"
	"github.com/athebyme/gomarket-platform/supplier-service/pkg/interfaces"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// SetupRouter настраивает маршрутизатор
func SetupRouter(
	syncHandler *handlers.SyncHandler,
	logger interfaces.LoggerPort,
	apiKey string,
	metricsEnabled bool,
	metricsEndpoint string,
) *chi.Mux {
	r := chi.NewRouter()

	// Глобальные middleware
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Timeout(30 * time.Second))

	r.Method(http.MethodGet, "/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))
	r.Method(http.MethodHead, "/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	if metricsEnabled {
		r.Handle(metricsEndpoint, metrics.MetricsHandler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(50, 100))

		// Маршруты синхронизации
		r.Route("/sync", func(r chi.Router) {
			r.Get("/health", syncHandler.GetSyncHealth)
			r.Get("/report", syncHandler.GetSyncReport)
			r.Get("/runs", syncHandler.ListSyncRuns)

			// Ручные запуски тратят квоту поставщика и закрыты ключом
			r.Group(func(r chi.Router) {
				r.Use(middleware.APIKey(apiKey))

				r.Post("/inventory", syncHandler.TriggerInventorySync)
				r.Post("/price", syncHandler.TriggerPriceSync)
			})
		})

		// Маршруты каталога
		r.Route("/catalog", func(r chi.Router) {
			r.Get("/entries/{id}", syncHandler.GetCatalogEntry)
			r.Get("/search", syncHandler.SearchSupplierProducts)

			r.Group(func(r chi.Router) {
				r.Use(middleware.APIKey(apiKey))

				r.Post("/cache/flush", syncHandler.FlushCatalogCache)
			})
		})
	})

	return r
}
