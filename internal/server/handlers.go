package server

import (
	"net/http"

	"github.com/rorp/rebalance-eclair/internal/rebalance"
)

type exclusionResetPayload struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.worker.Overview())
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.worker.Channels())
}

func (s *Server) handleExclusions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.worker.Exclusions())
}

func (s *Server) handleExclusionReset(w http.ResponseWriter, r *http.Request) {
	var payload exclusionResetPayload
	if err := readJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if payload.Source == "" || payload.Target == "" {
		writeError(w, http.StatusBadRequest, "source and target required")
		return
	}
	pair := rebalance.PairKey{Source: payload.Source, Target: payload.Target}
	if !s.worker.ResetPair(r.Context(), pair) {
		writeError(w, http.StatusNotFound, "pair not excluded")
		return
	}
	s.logger.Info().Str("pair", pair.String()).Msg("exclusion reset by operator")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleTriggerPass(w http.ResponseWriter, r *http.Request) {
	s.worker.TriggerPass()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}
