package app

import (
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	openapimiddleware "github.com/oapi-codegen/nethttp-middleware"

	"github.com/circularops/api/internal/config"
	"github.com/circularops/api/internal/domain"
	"github.com/circularops/api/internal/handlers"
	"github.com/circularops/api/internal/httpx"
	"github.com/circularops/api/internal/middleware"
	"github.com/circularops/api/internal/objectstore"
	"github.com/circularops/api/internal/store"
)

//go:embed openapi.yaml
var openapiSpec []byte

// LoadSpec parses and validates the embedded OpenAPI document.
func LoadSpec() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiSpec)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("validate openapi document: %w", err)
	}
	return doc, nil
}

// NewRouter wires the HTTP API. photos may be nil when no bucket is configured.
func NewRouter(cfg config.Config, s store.Store, photos objectstore.Store, logger *slog.Logger) (http.Handler, error) {
	h := handlers.NewServer(cfg, s, photos, logger)
	return newRouter(cfg, h, logger)
}

func newRouter(cfg config.Config, h *handlers.Server, logger *slog.Logger) (http.Handler, error) {
	doc, err := LoadSpec()
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.SecurityHeaders(cfg.Env))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(middleware.LimitBodyBytesWithOverrides(cfg.APIMaxBodyBytes, []middleware.BodyLimitOverride{
		{PathPrefix: "/imports/", MaxBytes: cfg.ImportMaxFileBytes*int64(max(cfg.ImportMaxFiles, 1)) + 1<<20},
		{PathPrefix: "/pickups/", MaxBytes: cfg.PhotoMaxBytes + 1<<20},
	}))

	validator := openapimiddleware.OapiRequestValidatorWithOptions(doc, &openapimiddleware.Options{
		SilenceServersWarning: true,
		ErrorHandler: func(w http.ResponseWriter, message string, statusCode int) {
			requestID := w.Header().Get("X-Request-Id")
			httpx.WriteJSON(w, statusCode, httpx.ErrorEnvelope{
				Error:     httpx.ErrorBody{Code: "validation_error", Message: message},
				RequestID: requestID,
			})
		},
	})

	authMW := middleware.AuthMiddleware{Sessions: h.Store, CookieName: cfg.SessionCookieName, Logger: logger}
	loginLimiter := middleware.NewIPRateLimiterWithMaxEntries(cfg.RateLimitPerMinute, time.Minute, cfg.RateLimitMaxIPs)
	csrf := middleware.EnforceCSRF(cfg.CSRFEnforce)
	admin := middleware.RequireRole(domain.RoleAdmin)

	api := chi.NewRouter()

	api.Group(func(validated chi.Router) {
		validated.Use(validator)

		validated.Get("/health", h.GetHealth)
		validated.With(loginLimiter.Middleware("Too many login attempts")).Post("/auth/login", h.PostAuthLogin)

		validated.Group(func(protected chi.Router) {
			protected.Use(authMW.RequireAuth)
			protected.Get("/auth/me", h.GetAuthMe)
			protected.Get("/auth/csrf", h.GetAuthCsrf)
			protected.With(csrf).Post("/auth/logout", h.PostAuthLogout)

			protected.Get("/customers", h.GetCustomers)
			protected.Get("/customers/{id}", h.GetCustomer)
			protected.Get("/drivers", h.GetDrivers)
			protected.Get("/products", h.GetProducts)
			protected.Get("/pickups", h.GetPickups)
			protected.Get("/pickups/{id}", h.GetPickup)
			protected.Get("/containers", h.GetContainers)
			protected.Get("/containers/{id}", h.GetContainer)
			protected.Get("/processing-requests", h.GetProcessingRequests)

			protected.Group(func(writes chi.Router) {
				writes.Use(csrf, admin)
				writes.Post("/customers", h.PostCustomers)
				writes.Post("/drivers", h.PostDrivers)
				writes.Post("/pickups", h.PostPickups)
				writes.Put("/pickups/{id}/products", h.PutPickupProducts)
				writes.Post("/pickups/{id}/advance", h.PostPickupAdvance)
				writes.Post("/containers", h.PostContainers)
				writes.Post("/containers/{id}/products", h.PostContainerProducts)
				writes.Post("/containers/{id}/advance", h.PostContainerAdvance)
				writes.Post("/processing-requests", h.PostProcessingRequests)
				writes.Post("/processing-requests/{id}/advance", h.PostProcessingAdvance)
			})
		})
	})

	// Multipart uploads and file downloads are not described in the OpenAPI
	// document and skip request validation.
	api.Group(func(files chi.Router) {
		files.Use(authMW.RequireAuth)
		files.Get("/exports/{kind}.{format}", h.GetExport)
		files.Get("/pickups/{id}/photos", h.GetPickupPhotos)
		files.With(csrf, admin).Post("/pickups/{id}/photos", h.PostPickupPhotos)
		files.With(csrf, admin).Post("/imports/{kind}", h.PostImports)
	})

	r.Mount("/api", api)
	return r, nil
}
