package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/clawhost/internal/proxy"
)

// Version is stamped at build time.
var Version = "dev"

// RouteRegistrar is anything that mounts routes on a mux.
type RouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// Server is the control plane's HTTP front door.
type Server struct {
	addr           string
	allowedOrigins []string
	mux            *http.ServeMux
	srv            *http.Server
}

// NewServer assembles the mux from the handlers and the UI proxy.
func NewServer(host string, port int, allowedOrigins []string, px *proxy.Proxy, handlers ...RouteRegistrar) *Server {
	mux := http.NewServeMux()

	// {$} pins the banner to /api/ exactly so it cannot swallow
	// unknown routes or clash with the proxy subtree.
	mux.HandleFunc("GET /api/{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"service": "clawhost",
			"version": Version,
		})
	})

	for _, h := range handlers {
		h.RegisterRoutes(mux)
	}

	// The UI proxy takes every method; the gateway serves its own
	// non-GET endpoints behind it.
	mux.HandleFunc("/api/openclaw/ui", px.ServeUI)
	mux.HandleFunc("/api/openclaw/ui/{path...}", px.ServeUI)
	mux.HandleFunc("GET /api/openclaw/ws", px.ServeWS)

	return &Server{
		addr:           fmt.Sprintf("%s:%d", host, port),
		allowedOrigins: allowedOrigins,
		mux:            mux,
	}
}

// Handler returns the assembled handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.cors(s.mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("control plane listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	slog.Info("shutting down http server")
	return s.srv.Shutdown(shutdownCtx)
}

// cors applies the configured origin allowlist. Credentials are always
// allowed because the session rides a cookie.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Session-ID")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.allowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
