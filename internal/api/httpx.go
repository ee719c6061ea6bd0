package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"opz-funnels/internal/common/errors"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 1 << 20

func newRequestID() string { return "req_" + uuid.NewString() }

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeError(w http.ResponseWriter, status int, code, message string, details interface{}) {
	writeJSON(w, status, map[string]interface{}{
		"request_id": newRequestID(),
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

// writeStdError renders err with the status of its StandardError code.
// Anything else is an internal error.
func (s *Server) writeStdError(w http.ResponseWriter, r *http.Request, err error) {
	stdErr := errors.Normalize(err)
	status := errors.HTTPStatus(stdErr.Code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", map[string]interface{}{
			"path":  r.URL.Path,
			"code":  stdErr.Code,
			"error": err,
		})
	}

	var details interface{}
	if stdErr.Details != "" && status < http.StatusInternalServerError {
		details = stdErr.Details
	}
	writeError(w, status, string(stdErr.Code), stdErr.Message, details)
}
