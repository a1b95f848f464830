package dto

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rukunkita/ipl-recon/internal/domain/lifecycle"
	"github.com/rukunkita/ipl-recon/internal/infrastructure/storage"
)

// ErrorResponse is the envelope for every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// WriteError maps an error to its HTTP status: unknown ids become 404,
// rejected state transitions become 409, everything else is a 500 with the
// detail kept out of the response body.
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var te *lifecycle.TransitionError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		WriteJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.As(err, &te):
		WriteJSON(w, http.StatusConflict, ErrorResponse{Error: te.Error()})
	default:
		logger.Error("request failed", "error", err)
		WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

// WriteBadRequest reports a malformed request body or parameter.
func WriteBadRequest(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg})
}
