// Package api serves the HTTP management API under /api/mcp.
//
// Routes mirror the connection manager operations: connect, disconnect,
// status (one-shot and streamed), and the tools, prompts and resources
// pass-throughs. When a serverstore.Store is configured the saved server
// definitions are exposed as well.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rs/cors"

	"github.com/vikashloomba/mcp-connection-manager-go/internal/serverstore"
	"github.com/vikashloomba/mcp-connection-manager-go/pkg/mcpmgr"
)

// Prefix is the path every route is registered under.
const Prefix = "/api/mcp"

const maxBodyBytes = 1 << 20

// Options configure a Server.
type Options struct {
	Manager *mcpmgr.Manager
	// Store enables the servers, export and import routes. Optional.
	Store *serverstore.Store
	// AllowedOrigins lists browser origins permitted by CORS. Empty disables
	// CORS handling entirely.
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Server holds the API handlers.
type Server struct {
	manager *mcpmgr.Manager
	store   *serverstore.Store
	origins []string
	logger  *slog.Logger
	hub     *statusHub
}

// New builds a Server and subscribes it to the manager's status changes.
func New(opts Options) (*Server, error) {
	if opts.Manager == nil {
		return nil, fmt.Errorf("api: manager is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		manager: opts.Manager,
		store:   opts.Store,
		origins: opts.AllowedOrigins,
		logger:  logger,
		hub:     newStatusHub(),
	}
	opts.Manager.OnStatusChange(s.hub.publish)
	return s, nil
}

// Register adds every route to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST "+Prefix+"/connect", s.handleConnect)
	mux.HandleFunc("POST "+Prefix+"/disconnect", s.handleDisconnect)
	mux.HandleFunc("GET "+Prefix+"/status", s.handleStatuses)
	mux.HandleFunc("GET "+Prefix+"/status/stream", s.handleStatusStream)
	mux.HandleFunc("GET "+Prefix+"/status/{id}", s.handleStatus)
	mux.HandleFunc("GET "+Prefix+"/tools", s.handleListTools)
	mux.HandleFunc("POST "+Prefix+"/tools", s.handleCallTool)
	mux.HandleFunc("GET "+Prefix+"/prompts", s.handleListPrompts)
	mux.HandleFunc("POST "+Prefix+"/prompts", s.handleGetPrompt)
	mux.HandleFunc("GET "+Prefix+"/resources", s.handleListResources)
	mux.HandleFunc("POST "+Prefix+"/resources", s.handleReadResource)

	if s.store == nil {
		return
	}
	mux.HandleFunc("GET "+Prefix+"/servers", s.handleListServers)
	mux.HandleFunc("POST "+Prefix+"/servers", s.handleCreateServer)
	mux.HandleFunc("GET "+Prefix+"/servers/{id}", s.handleGetServer)
	mux.HandleFunc("PUT "+Prefix+"/servers/{id}", s.handleUpdateServer)
	mux.HandleFunc("DELETE "+Prefix+"/servers/{id}", s.handleDeleteServer)
	mux.HandleFunc("GET "+Prefix+"/export", s.handleExport)
	mux.HandleFunc("POST "+Prefix+"/import", s.handleImport)
}

// Handler returns a mux with every route, wrapped for CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return s.WithCORS(mux)
}

// WithCORS wraps h with the configured CORS policy, or returns h unchanged
// when no origins are configured.
func (s *Server) WithCORS(h http.Handler) http.Handler {
	if len(s.origins) == 0 {
		return h
	}
	return cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "Authorization", "Mcp-Session-Id", "Mcp-Protocol-Version"},
		ExposedHeaders: []string{"Mcp-Session-Id"},
	}).Handler(h)
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string                   `json:"error"`
	Message string                   `json:"message,omitempty"`
	Status  *mcpmgr.ConnectionStatus `json:"status,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, errMsg, message string) {
	writeJSON(w, status, ErrorResponse{Error: errMsg, Message: message})
}

// writeCallError maps a pass-through failure: a server without a live
// session is the caller's problem, anything else came from the remote side.
func (s *Server) writeCallError(w http.ResponseWriter, op, serverID string, err error) {
	if errors.Is(err, mcpmgr.ErrNotConnected) {
		writeError(w, http.StatusBadRequest, "Server not connected", "")
		return
	}
	s.logger.Error(op, "server", serverID, "error", err)
	writeError(w, http.StatusInternalServerError, op, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(dst)
}
