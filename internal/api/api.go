package api

import (
	"context"
	"net/http"
	"time"

	"github.com/devstreak/sync/internal/api/provider"
	"github.com/devstreak/sync/internal/conf"
	"github.com/devstreak/sync/internal/lock"
	"github.com/devstreak/sync/internal/observability"
	"github.com/devstreak/sync/internal/storage"
	"github.com/devstreak/sync/internal/tasks"
	"github.com/didip/tollbooth/v5"
	"github.com/didip/tollbooth/v5/limiter"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gofrs/uuid"
	"github.com/rs/cors"
	"github.com/sebest/xff"
	"github.com/sirupsen/logrus"
)

const defaultVersion = "unknown version"

// API is the REST surface of the integration engine.
type API struct {
	handler    http.Handler
	db         *storage.Connection
	config     *conf.GlobalConfiguration
	registry   *provider.Registry
	locker     lock.Locker
	dispatcher *tasks.Dispatcher
	version    string
}

type apiHandler func(w http.ResponseWriter, r *http.Request) error

// NewAPI instantiates a new REST API.
func NewAPI(globalConfig *conf.GlobalConfiguration, db *storage.Connection, registry *provider.Registry, locker lock.Locker, dispatcher *tasks.Dispatcher) *API {
	return NewAPIWithVersion(globalConfig, db, registry, locker, dispatcher, defaultVersion)
}

// NewAPIWithVersion creates a new REST API using the specified version.
func NewAPIWithVersion(globalConfig *conf.GlobalConfiguration, db *storage.Connection, registry *provider.Registry, locker lock.Locker, dispatcher *tasks.Dispatcher, version string) *API {
	api := &API{
		config:     globalConfig,
		db:         db,
		registry:   registry,
		locker:     locker,
		dispatcher: dispatcher,
		version:    version,
	}

	xffmw, _ := xff.Default()
	logger := observability.NewStructuredLogger(logrus.StandardLogger())

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(xffmw.Handler)
	r.Use(logger)
	r.Use(recoverer)

	r.Get("/health", api.handle(api.HealthCheck))

	oauthLimiter := tollbooth.NewLimiter(globalConfig.API.RateLimit/60, &limiter.ExpirableOptions{
		DefaultExpirationTTL: time.Hour,
	}).SetIPLookups([]string{"RemoteAddr", "X-Forwarded-For", "X-Real-IP"}).
		SetBurst(int(globalConfig.API.RateLimit))

	r.Route("/oauth", func(r chi.Router) {
		r.Use(tollboothMiddleware(oauthLimiter))
		r.With(api.loadOAuthProvider).Get("/authorize/{provider}", api.handle(api.ExternalProviderRedirect))
		r.With(api.loadOAuthProvider).Get("/callback/{provider}", api.handle(api.ExternalProviderCallback))
	})

	r.Route("/connections", func(r chi.Router) {
		r.Use(api.requireUser)
		r.Get("/", api.handle(api.ListConnections))
		r.Delete("/{id}", api.handle(api.Disconnect))
	})

	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Use(api.requireUser)
		r.Post("/generate", api.handle(api.StartGeneration))
		r.Get("/generation", api.handle(api.GenerationStatus))
	})

	corsHandler := cors.New(cors.Options{
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	api.handler = corsHandler.Handler(r)
	return api
}

// ListenAndServe starts the REST API.
func (a *API) ListenAndServe(ctx context.Context, hostAndPort string) {
	log := logrus.WithField("component", "api")

	server := &http.Server{
		Addr:              hostAndPort,
		Handler:           a.handler,
		ReadHeaderTimeout: 2 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("shutdown failed")
		}
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("http server listen failed")
	}
}

// handle adapts error-returning handlers to http.HandlerFunc.
func (a *API) handle(fn apiHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			HandleResponseError(err, w, r)
		}
	}
}

// HealthCheck endpoint indicates if the systems are up.
func (a *API) HealthCheck(w http.ResponseWriter, r *http.Request) error {
	sendJSON(w, http.StatusOK, map[string]string{
		"version":     a.version,
		"name":        "sync-engine",
		"description": "third-party integration and background synchronization engine",
	})
	return nil
}

// loadOAuthProvider resolves the {provider} path parameter against the
// registry. Unknown and intentionally disabled providers both answer 404.
func (a *API) loadOAuthProvider(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		providerID := chi.URLParam(r, "provider")

		p, err := a.registry.Lookup(providerID)
		if err != nil {
			HandleResponseError(notFoundError(ErrorCodeOAuthProviderNotFound, "Integration %s not found", providerID), w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(withProvider(r.Context(), p)))
	})
}

// requireUser resolves the authenticated local user. Session handling lives
// in the surrounding product; this engine trusts the session cookie it
// issues.
func (a *API) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := currentUserID(r)
		if userID == uuid.Nil {
			HandleResponseError(forbiddenError(ErrorCodeValidationFailed, "Authentication required"), w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), userID)))
	})
}

func currentUserID(r *http.Request) uuid.UUID {
	cookie, err := r.Cookie(userCookieName)
	if err != nil {
		return uuid.Nil
	}
	id, err := uuid.FromString(cookie.Value)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func tollboothMiddleware(lmt *limiter.Limiter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if httpError := tollbooth.LimitByRequest(lmt, w, r); httpError != nil {
				w.Header().Set("Content-Type", lmt.GetMessageContentType())
				w.WriteHeader(httpError.StatusCode)
				_, _ = w.Write([]byte(httpError.Message))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
