package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"htlc-escrow/internal/escrow"
)

const maxBodyBytes = 1 << 20

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Code    string `json:"code"`
	Class   string `json:"class,omitempty"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// statusFor maps an engine error class onto an HTTP status.
func statusFor(class escrow.Class) int {
	switch class {
	case escrow.ClassValidation:
		return http.StatusBadRequest
	case escrow.ClassAuthorization:
		return http.StatusForbidden
	case escrow.ClassResource:
		return http.StatusUnprocessableEntity
	case escrow.ClassTemporal, escrow.ClassState, escrow.ClassIntegrity:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var coded *escrow.Error
	if !errors.As(err, &coded) {
		s.log.Error("request failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Code: "Internal", Message: "internal error"})
		return
	}

	status := statusFor(coded.Class)
	// A missing escrow is a state error to the engine but a 404 to HTTP callers.
	if coded.Code == escrow.CodeNotFound {
		status = http.StatusNotFound
	}
	writeJSON(w, status, errorResponse{
		Code:    string(coded.Code),
		Class:   string(coded.Class),
		Message: coded.Error(),
	})
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Code:    "BadRequest",
		Class:   string(escrow.ClassValidation),
		Message: err.Error(),
	})
}
