package controller

import (
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"

	"github.com/polydash/ingestion/app/ingester/types"
)

type Controller struct {
	App *types.App
	// StatusInterval overrides how often /ws/status pushes a snapshot.
	StatusInterval time.Duration
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	return &Controller{
		App: app,
	}
}

// NewRouter returns a new router with all the routes defined in this package.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", c.HandleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/readyz", c.HandleReadiness).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", c.HandleHealth).Methods(http.MethodGet)
	api.HandleFunc("/init", c.HandleInit).Methods(http.MethodGet, http.MethodPost)
	api.HandleFunc("/status", c.HandleStatus).Methods(http.MethodGet)
	api.HandleFunc("/debug", c.HandleDebug).Methods(http.MethodGet)

	r.HandleFunc("/ws/status", c.HandleStatusWebSocket).Methods(http.MethodGet)

	if c.App.Metrics != nil {
		r.Handle("/metrics", c.App.Metrics).Methods(http.MethodGet)
	}

	return r, nil
}

// WithCORS is a middleware that adds CORS headers to the response.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
