package api

import (
	"errors"
	"net/http"

	"github.com/vikashloomba/mcp-connection-manager-go/internal/serverstore"
	"github.com/vikashloomba/mcp-connection-manager-go/pkg/mcpmgr"
)

func (s *Server) writeStoreError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, serverstore.ErrNotFound):
		writeError(w, http.StatusNotFound, "Server not found", err.Error())
	case errors.Is(err, mcpmgr.ErrConfiguration), errors.Is(err, serverstore.ErrDuplicateID):
		writeError(w, http.StatusBadRequest, "Invalid server config", err.Error())
	default:
		s.logger.Error(op, "error", err)
		writeError(w, http.StatusInternalServerError, op, err.Error())
	}
}

// handleListServers handles GET /api/mcp/servers.
func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.store.List()
	if err != nil {
		s.writeStoreError(w, "Failed to list servers", err)
		return
	}
	if servers == nil {
		servers = []mcpmgr.ServerConfig{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": servers})
}

// handleCreateServer handles POST /api/mcp/servers. The id is generated when
// the body omits it.
func (s *Server) handleCreateServer(w http.ResponseWriter, r *http.Request) {
	var cfg mcpmgr.ServerConfig
	if err := decodeBody(w, r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server config", err.Error())
		return
	}
	saved, err := s.store.Save(cfg)
	if err != nil {
		s.writeStoreError(w, "Failed to save server", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"server": saved})
}

// handleGetServer handles GET /api/mcp/servers/{id}.
func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, "Failed to get server", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"server": cfg})
}

// handleUpdateServer handles PUT /api/mcp/servers/{id}.
func (s *Server) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var cfg mcpmgr.ServerConfig
	if err := decodeBody(w, r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server config", err.Error())
		return
	}
	if cfg.ID != "" && cfg.ID != id {
		writeError(w, http.StatusBadRequest, "config.id does not match the path", "")
		return
	}
	if _, err := s.store.Get(id); err != nil {
		s.writeStoreError(w, "Failed to update server", err)
		return
	}
	cfg.ID = id
	saved, err := s.store.Save(cfg)
	if err != nil {
		s.writeStoreError(w, "Failed to update server", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"server": saved})
}

// handleDeleteServer handles DELETE /api/mcp/servers/{id}. A live connection
// for the server is closed as well.
func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.Delete(id); err != nil {
		s.writeStoreError(w, "Failed to delete server", err)
		return
	}
	if err := s.manager.Disconnect(r.Context(), id); err != nil {
		s.logger.Warn("disconnect deleted server", "server", id, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleExport handles GET /api/mcp/export.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.Export()
	if err != nil {
		s.writeStoreError(w, "Failed to export servers", err)
		return
	}
	if doc.Servers == nil {
		doc.Servers = []mcpmgr.ServerConfig{}
	}
	w.Header().Set("Content-Disposition", `attachment; filename="mcp-servers.json"`)
	writeJSON(w, http.StatusOK, doc)
}

// handleImport handles POST /api/mcp/import. Entries are merged by id unless
// ?replace=true is given.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var doc serverstore.Document
	if err := decodeBody(w, r, &doc); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid import document", err.Error())
		return
	}
	replace := r.URL.Query().Get("replace") == "true"
	imported, err := s.store.Import(doc, replace)
	if err != nil {
		s.writeStoreError(w, "Failed to import servers", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": imported, "replaced": replace})
}
