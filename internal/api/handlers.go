package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vikashloomba/mcp-connection-manager-go/pkg/mcpmgr"
)

type connectRequest struct {
	ServerID string          `json:"serverId"`
	Config   json.RawMessage `json:"config"`
}

type connectResponse struct {
	Success bool                    `json:"success"`
	Status  mcpmgr.ConnectionStatus `json:"status"`
}

// handleConnect handles POST /api/mcp/connect.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if raw := bytes.TrimSpace(req.Config); len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		writeError(w, http.StatusBadRequest, "config is required", "")
		return
	}
	var cfg mcpmgr.ServerConfig
	if err := json.Unmarshal(req.Config, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server config", err.Error())
		return
	}
	if cfg.ID == "" {
		cfg.ID = req.ServerID
	}
	if req.ServerID != "" && req.ServerID != cfg.ID {
		writeError(w, http.StatusBadRequest, "serverId does not match config.id", "")
		return
	}

	if err := s.manager.Connect(r.Context(), cfg); err != nil {
		if errors.Is(err, mcpmgr.ErrConfiguration) {
			writeError(w, http.StatusBadRequest, "Invalid server config", err.Error())
			return
		}
		s.logger.Warn("connect failed", "server", cfg.ID, "error", err)
		st := s.manager.Status(cfg.ID)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to connect MCP server",
			Message: err.Error(),
			Status:  &st,
		})
		return
	}
	writeJSON(w, http.StatusOK, connectResponse{Success: true, Status: s.manager.Status(cfg.ID)})
}

type serverRequest struct {
	ServerID string `json:"serverId"`
}

// handleDisconnect handles POST /api/mcp/disconnect.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req serverRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if req.ServerID == "" {
		writeError(w, http.StatusBadRequest, "serverId is required", "")
		return
	}
	if err := s.manager.Disconnect(r.Context(), req.ServerID); err != nil {
		s.logger.Warn("disconnect failed", "server", req.ServerID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to disconnect MCP server", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleStatuses handles GET /api/mcp/status.
func (s *Server) handleStatuses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"statuses": s.manager.AllStatuses()})
}

// handleStatus handles GET /api/mcp/status/{id}. Unknown ids report a plain
// disconnected status rather than 404.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": s.manager.Status(r.PathValue("id"))})
}

func serverIDQuery(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("serverId")
	if id == "" {
		writeError(w, http.StatusBadRequest, "serverId is required", "")
		return "", false
	}
	return id, true
}

// handleListTools handles GET /api/mcp/tools?serverId=.
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	id, ok := serverIDQuery(w, r)
	if !ok {
		return
	}
	res, err := s.manager.ListTools(r.Context(), id)
	if err != nil {
		s.writeCallError(w, "Failed to list tools", id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": res})
}

type callToolRequest struct {
	ServerID  string         `json:"serverId"`
	ToolName  string         `json:"toolName"`
	Arguments map[string]any `json:"arguments"`
}

// handleCallTool handles POST /api/mcp/tools.
func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var req callToolRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if req.ServerID == "" || req.ToolName == "" {
		writeError(w, http.StatusBadRequest, "serverId and toolName are required", "")
		return
	}
	if req.Arguments == nil {
		req.Arguments = map[string]any{}
	}
	res, err := s.manager.CallTool(r.Context(), req.ServerID, req.ToolName, req.Arguments)
	if err != nil {
		s.writeCallError(w, "Failed to call tool", req.ServerID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": res})
}

// handleListPrompts handles GET /api/mcp/prompts?serverId=.
func (s *Server) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	id, ok := serverIDQuery(w, r)
	if !ok {
		return
	}
	res, err := s.manager.ListPrompts(r.Context(), id)
	if err != nil {
		s.writeCallError(w, "Failed to list prompts", id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prompts": res})
}

type getPromptRequest struct {
	ServerID   string            `json:"serverId"`
	PromptName string            `json:"promptName"`
	Arguments  map[string]string `json:"arguments"`
}

// handleGetPrompt handles POST /api/mcp/prompts.
func (s *Server) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	var req getPromptRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if req.ServerID == "" || req.PromptName == "" {
		writeError(w, http.StatusBadRequest, "serverId and promptName are required", "")
		return
	}
	res, err := s.manager.GetPrompt(r.Context(), req.ServerID, req.PromptName, req.Arguments)
	if err != nil {
		s.writeCallError(w, "Failed to get prompt", req.ServerID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prompt": res})
}

// handleListResources handles GET /api/mcp/resources?serverId=.
func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	id, ok := serverIDQuery(w, r)
	if !ok {
		return
	}
	res, err := s.manager.ListResources(r.Context(), id)
	if err != nil {
		s.writeCallError(w, "Failed to list resources", id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resources": res})
}

type readResourceRequest struct {
	ServerID string `json:"serverId"`
	URI      string `json:"uri"`
}

// handleReadResource handles POST /api/mcp/resources.
func (s *Server) handleReadResource(w http.ResponseWriter, r *http.Request) {
	var req readResourceRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if req.ServerID == "" || req.URI == "" {
		writeError(w, http.StatusBadRequest, "serverId and uri are required", "")
		return
	}
	res, err := s.manager.ReadResource(r.Context(), req.ServerID, req.URI)
	if err != nil {
		s.writeCallError(w, "Failed to read resource", req.ServerID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resource": res})
}
