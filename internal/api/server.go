package api

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/adarena/engine/internal/service"
)

// Server wraps the HTTP server and mux for the engine API.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a new API server wired with all routes.
func NewServer(
	port int,
	engineSecret string,
	allowedBackendIPs []string,
	apiMaxBodyBytes int64,
	svc *service.EngineService,
) *Server {
	return NewServerWithAddress("", port, engineSecret, allowedBackendIPs, apiMaxBodyBytes, svc)
}

// NewServerWithAddress creates a new API server with an explicit listen address.
func NewServerWithAddress(
	listenAddress string,
	port int,
	engineSecret string,
	allowedBackendIPs []string,
	apiMaxBodyBytes int64,
	svc *service.EngineService,
) *Server {
	mux := http.NewServeMux()

	// Public (no auth)
	mux.Handle("GET /health", HandleHealth())

	// Authenticated routes
	authed := http.NewServeMux()
	authed.Handle("POST /engine/match/provision", HandleProvision(svc))
	authed.Handle("POST /engine/match/start", HandleStart(svc))
	authed.Handle("GET /engine/match/{matchId}/status", HandleStatus(svc))
	authed.Handle("GET /engine/match/{matchId}/infrastructure", HandleInfrastructure(svc))
	authed.Handle("GET /engine/match/{matchId}/result", HandleResult(svc))
	authed.Handle("POST /engine/match/{matchId}/stop", HandleStop(svc))
	authed.Handle("POST /engine/match/{matchId}/cleanup", HandleCleanup(svc))
	authed.Handle("POST /engine/flag/submit", HandleSubmitFlag(svc))

	limitedAuthed := RequestBodyLimitMiddleware(apiMaxBodyBytes, authed)
	mux.Handle("/engine/", AuthMiddleware(engineSecret, allowedBackendIPs, limitedAuthed))

	srv := &http.Server{
		Addr:    net.JoinHostPort(listenAddress, strconv.Itoa(port)),
		Handler: AccessLogMiddleware(mux),
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
	}
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}
