package api

import (
	"net/http"
	"time"
)

// Router wraps the HTTP mux and provides route configuration.
type Router struct {
	mux      *http.ServeMux
	handlers *Handlers
}

// NewRouter creates a router with all admin routes configured.
func NewRouter(h *Handlers) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		handlers: h,
	}
	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	r.mux.HandleFunc("/api/v1/schedules", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodPost:
			r.handlers.ApplySchedule(w, req)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	r.mux.HandleFunc("/api/v1/instances", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			if req.URL.Query().Get("instance_id") != "" {
				r.handlers.GetInstance(w, req)
			} else {
				r.handlers.ListInstances(w, req)
			}
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	r.mux.HandleFunc("/healthz", r.handlers.Health)
}

// Handler returns the configured HTTP handler.
func (r *Router) Handler() http.Handler {
	return r.mux
}

// NewServer creates an HTTP server with the router configured.
func NewServer(addr string, h *Handlers) *http.Server {
	router := NewRouter(h)
	return &http.Server{
		Addr:         addr,
		Handler:      router.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
