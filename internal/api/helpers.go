package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/membank/membank/internal/memerr"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, memerr.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, memerr.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, memerr.ErrConflict), errors.Is(err, memerr.ErrAlreadyRolledBack):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, memerr.ErrDimensionMismatch):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, memerr.ErrStoreBusy):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, memerr.ErrDecryption):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
