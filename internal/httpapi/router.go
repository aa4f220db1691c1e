package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/rpattn/assessor/internal/auth"
	"github.com/rpattn/assessor/internal/middleware"
)

// RouterOptions configures the outer HTTP surface.
type RouterOptions struct {
	AllowedOrigins []string
	// Loaders builds per-request record loaders; nil disables batched reads.
	Loaders middleware.LoaderSource
	Logger  *logrus.Entry
}

// NewRouter wires the API, health and metrics endpoints behind CORS, request
// logging and identity headers.
func NewRouter(service Service, opts RouterOptions) http.Handler {
	h := NewHandler(service, opts.Logger)

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	h.Register(r)

	var handler http.Handler = r
	if opts.Loaders != nil {
		handler = middleware.DataLoaderMiddleware(opts.Loaders)(handler)
	}
	handler = auth.FromHeaders(handler)
	handler = middleware.LoggingMiddleware(h.log)(handler)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
	})
	return corsHandler.Handler(handler)
}
