package handlers

import (
	"net/http"

	"github.com/rukunkita/ipl-recon/internal/api/dto"
)

// Stats returns aggregate reconciliation statistics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		dto.WriteError(w, h.logger, err)
		return
	}
	dto.WriteJSON(w, http.StatusOK, stats)
}
