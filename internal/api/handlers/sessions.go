package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"callguard/internal/domain/models"
	"callguard/internal/domain/services"
	"callguard/pkg/logger"
)

// SessionsHandler serves call session queries
type SessionsHandler struct {
	store  *services.SessionStore
	logger *logger.Logger
}

// NewSessionsHandler creates a new SessionsHandler
func NewSessionsHandler(store *services.SessionStore, log *logger.Logger) *SessionsHandler {
	return &SessionsHandler{
		store:  store,
		logger: log.WithComponent("sessions-handler"),
	}
}

// Get handles GET /api/v1/sessions/{callID}
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")

	session := h.store.Get(callID)
	if session == nil {
		// a finished call may still be answerable from history
		finished, err := h.store.History(r.Context(), services.HistoryFilter{Limit: 0})
		if err == nil {
			for _, s := range finished {
				if s.CallID == callID {
					session = s
					break
				}
			}
		}
	}
	if session == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	writeJSON(w, http.StatusOK, session.Snapshot())
}

// ListActive handles GET /api/v1/sessions/active
func (h *SessionsHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	sessions := snapshotAll(h.store.Active())
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

// History handles GET /api/v1/sessions/history
func (h *SessionsHandler) History(w http.ResponseWriter, r *http.Request) {
	filter := services.HistoryFilter{
		Number: r.URL.Query().Get("number"),
		Limit:  50,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			filter.Limit = n
		}
	}
	if raw := r.URL.Query().Get("min_level"); raw != "" {
		level := models.RiskLevel(raw)
		if !level.Valid() {
			writeError(w, http.StatusBadRequest, "invalid min_level")
			return
		}
		filter.MinLevel = level
	}

	sessions, err := h.store.History(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("history query failed")
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(sessions),
		"sessions": snapshotAll(sessions),
	})
}

func snapshotAll(sessions []*models.CallSession) []*models.CallSession {
	out := make([]*models.CallSession, len(sessions))
	for i, s := range sessions {
		out[i] = s.Snapshot()
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
