package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"opz-funnels/internal/common/errors"
	"opz-funnels/internal/models"
	"opz-funnels/internal/referral"
)

func (s *Server) routeReferral(w http.ResponseWriter, r *http.Request) {
	var app models.Application
	if err := readJSON(w, r, &app); err != nil {
		s.writeStdError(w, r, errors.NewInvalidApplicationError(err.Error()))
		return
	}

	routing, err := s.referrals.RequestRouting(r.Context(), app)
	if err != nil {
		s.writeStdError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, routing)
}

func (s *Server) referralHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.referrals.History(r.Context(), strings.TrimSpace(r.URL.Query().Get("user_ref")))
	if err != nil {
		s.writeStdError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *Server) partnerCallback(w http.ResponseWriter, r *http.Request) {
	partner := models.Partner(strings.ToLower(chi.URLParam(r, "partner")))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, string(errors.ErrCodeBusinessRule), "Unreadable callback body", nil)
		return
	}

	cb, err := s.referrals.VerifyCallback(partner, body, r.Header.Get(referral.SignatureHeader))
	if err != nil {
		s.logger.Warn("partner callback rejected", map[string]interface{}{
			"partner": partner,
			"error":   err,
		})
		s.writeStdError(w, r, err)
		return
	}

	if err := s.referrals.RecordOutcome(r.Context(), partner, cb); err != nil {
		s.writeStdError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"recorded": true,
		"userRef":  cb.UserRef,
		"status":   cb.Status,
	})
}
