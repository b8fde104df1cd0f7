package handlers

import (
	"net/http"

	"callguard/internal/domain/models"
	"callguard/internal/domain/services"
	"callguard/pkg/logger"
)

// StatsHandler serves aggregate detection statistics
type StatsHandler struct {
	store  *services.SessionStore
	corpus *services.Corpus
	logger *logger.Logger
}

// NewStatsHandler creates a new StatsHandler
func NewStatsHandler(store *services.SessionStore, corpus *services.Corpus, log *logger.Logger) *StatsHandler {
	return &StatsHandler{
		store:  store,
		corpus: corpus,
		logger: log.WithComponent("stats-handler"),
	}
}

// StatsResponse summarizes current and recent detection activity
type StatsResponse struct {
	ActiveSessions   int            `json:"active_sessions"`
	FinishedSessions int            `json:"finished_sessions"`
	ByLevel          map[string]int `json:"by_level"`
	AlertsSent       int            `json:"alerts_sent"`
	CorpusEntries    int            `json:"corpus_entries"`
}

// Get handles GET /api/v1/stats
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		ActiveSessions:   h.store.ActiveCount(),
		FinishedSessions: h.store.HistoryCount(),
		ByLevel:          map[string]int{},
	}
	if h.corpus != nil {
		resp.CorpusEntries = h.corpus.Size()
	}

	count := func(sessions []*models.CallSession) {
		for _, s := range sessions {
			snap := s.Snapshot()
			if snap.Assessment != nil {
				resp.ByLevel[string(snap.Assessment.Level)]++
			}
			resp.AlertsSent += len(snap.Alerts)
		}
	}
	count(h.store.Active())
	if finished, err := h.store.History(r.Context(), services.HistoryFilter{Limit: 500}); err == nil {
		count(finished)
	}

	writeJSON(w, http.StatusOK, resp)
}
