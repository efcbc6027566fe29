package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/onay-qr/onay-gateway/internal/platform/metrics"
)

type RouterOptions struct {
	Logger zerolog.Logger
	// CORSOrigins defaults to "*".
	CORSOrigins []string
	// PublicBaseURL is advertised in /docs.json.
	PublicBaseURL string
}

// NewRouter constructs the API HTTP router with default options.
func NewRouter(api *Server) http.Handler {
	return NewRouterWithOptions(api, RouterOptions{Logger: zerolog.Nop()})
}

// NewRouterWithOptions wires middleware and routes and delegates to api.
func NewRouterWithOptions(api *Server, opts RouterOptions) http.Handler {
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	baseURL := opts.PublicBaseURL
	if baseURL == "" {
		baseURL = "http://localhost:3000"
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Origin", "X-Requested-With", "Content-Type", "Accept", "Idempotency-Key"},
		MaxAge:         300,
	}))
	r.Use(rejectMalformedPath)

	// Health endpoint is outside the API contract (infra checks).
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/docs.json", docsHandler(baseURL))

	r.Route("/api/onay", func(r chi.Router) {
		r.Post("/qr-start", api.StartQR)
		r.Post("/sign-in", api.SignIn)
		r.Get("/session", api.SessionStatus)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}
