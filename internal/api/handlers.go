package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/OutbreakHQ/FormPipe/internal/models"
)

// conversationStartRequest is the body of POST /conversations. Setting
// override_gating starts the conversation even when its script is toggled
// off.
type conversationStartRequest struct {
	Kind           string      `json:"kind"`
	Initiator      models.User `json:"initiator"`
	Target         models.User `json:"target"`
	OverrideGating bool        `json:"override_gating,omitempty"`
}

// scriptToggleRequest is the body of POST /scripts/{kind}/toggle.
type scriptToggleRequest struct {
	Enabled bool `json:"enabled"`
}

// conversationsHandler serves POST /conversations (start) and GET
// /conversations (list active).
func (s *Server) conversationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	switch r.Method {
	case http.MethodPost:
		s.startConversationHandler(w, r)
	case http.MethodGet:
		s.listConversationsHandler(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		slog.Warn("Server.conversationsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) startConversationHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.startConversationHandler: processing start request", "path", r.URL.Path)

	var req conversationStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.startConversationHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Kind == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: kind"))
		return
	}
	if req.Initiator.ID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: initiator.id"))
		return
	}
	// A conversation started for oneself omits the target.
	if req.Target.ID == "" {
		req.Target = req.Initiator
	}

	err := s.manager.Start(r.Context(), models.ScriptKind(req.Kind), req.Initiator, req.Target, req.OverrideGating)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnknownScriptKind):
			writeJSONResponse(w, http.StatusNotFound, models.Error(err.Error()))
		case errors.Is(err, models.ErrScriptDisabled):
			writeJSONResponse(w, http.StatusForbidden, models.Error(err.Error()))
		case models.IsValidationError(err):
			// The start hook vetoed; the veto text already went to the
			// initiator over the transport.
			writeJSONResponse(w, http.StatusUnprocessableEntity, models.Error(err.Error()))
		default:
			slog.Error("Server.startConversationHandler: start failed", "error", err, "kind", req.Kind)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to start conversation"))
		}
		return
	}

	slog.Info("Server.startConversationHandler: conversation started", "kind", req.Kind, "target", req.Target.ID)
	writeJSONResponse(w, http.StatusCreated, models.Started(map[string]string{
		"kind":   req.Kind,
		"target": req.Target.ID,
	}))
}

func (s *Server) listConversationsHandler(w http.ResponseWriter, r *http.Request) {
	active := s.manager.Active()
	slog.Debug("Server.listConversationsHandler: listed conversations", "count", len(active))
	writeJSONResponse(w, http.StatusOK, models.Success(active))
}

// scriptsHandler routes /scripts/{kind}/toggle.
func (s *Server) scriptsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}

	path := strings.TrimPrefix(r.URL.Path, "/scripts/")
	segments := strings.Split(path, "/")
	if len(segments) != 2 || segments[1] != "toggle" || segments[0] == "" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown scripts endpoint"))
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	kind := segments[0]
	if _, ok := s.library.Get(models.ScriptKind(kind)); !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown script kind: "+kind))
		return
	}

	var req scriptToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.scriptsHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	if err := s.st.SetScriptEnabled(r.Context(), kind, req.Enabled); err != nil {
		slog.Error("Server.scriptsHandler: toggle failed", "error", err, "kind", kind)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update script toggle"))
		return
	}

	slog.Info("Server.scriptsHandler: script toggled", "kind", kind, "enabled", req.Enabled)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Script toggle updated", map[string]any{
		"kind":    kind,
		"enabled": req.Enabled,
	}))
}

// healthHandler provides a health check endpoint for monitoring.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	healthData := map[string]any{
		"status":               "healthy",
		"timestamp":            time.Now().UTC().Format(time.RFC3339),
		"scripts_loaded":       s.library.Len(),
		"active_conversations": len(s.manager.Active()),
	}

	// A store that cannot answer the gating query is a degraded instance.
	if _, err := s.st.IsScriptEnabled(ctx, "health-probe"); err != nil {
		slog.Warn("Health check: store probe failed", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "store unavailable"
	}

	statusCode := http.StatusOK
	if healthData["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, statusCode, healthData)
}
