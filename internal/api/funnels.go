package api

import (
	stderrors "errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"opz-funnels/internal/common/errors"
	"opz-funnels/internal/funnel"
)

func (s *Server) listFlows(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"flows": s.sessions.Flows()})
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	_, m, err := s.sessions.Create(r.Context(), chi.URLParam(r, "flow"))
	if err != nil {
		s.writeStdError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, stateOf(m))
}

// machine resolves the session of the request or writes the error.
func (s *Server) machine(w http.ResponseWriter, r *http.Request) (*funnel.Machine, bool) {
	m, err := s.sessions.Get(r.Context(), chi.URLParam(r, "flow"), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStdError(w, r, err)
		return nil, false
	}
	return m, true
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, stateOf(m))
}

func (s *Server) updateData(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w, r)
	if !ok {
		return
	}

	var partial map[string]interface{}
	if err := readJSON(w, r, &partial); err != nil {
		writeError(w, http.StatusBadRequest, string(errors.ErrCodeInvalidField), "Request body must be a JSON object", err.Error())
		return
	}

	if err := m.UpdateData(r.Context(), partial); err != nil {
		switch {
		case stderrors.Is(err, funnel.ErrSubmitted):
			s.writeStdError(w, r, errors.NewFunnelSubmittedError(chi.URLParam(r, "id")))
		default:
			s.writeStdError(w, r, errors.NewInvalidFieldError(err))
		}
		return
	}
	writeJSON(w, http.StatusOK, stateOf(m))
}

func (s *Server) next(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, movedState(m, m.Next(r.Context())))
}

func (s *Server) back(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, movedState(m, m.Back(r.Context())))
}

func (s *Server) goTo(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, movedState(m, m.GoTo(r.Context(), chi.URLParam(r, "step"))))
}

func (s *Server) resetSession(w http.ResponseWriter, r *http.Request) {
	m, err := s.sessions.Reset(r.Context(), chi.URLParam(r, "flow"), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStdError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stateOf(m))
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	res, err := s.sessions.Submit(r.Context(), chi.URLParam(r, "flow"), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStdError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
