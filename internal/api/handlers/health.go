package handlers

import (
	"net/http"

	"github.com/rukunkita/ipl-recon/internal/api/dto"
)

// Health reports service liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	dto.WriteJSON(w, http.StatusOK, dto.HealthResponse{Status: "ok", Service: "ipl-recon"})
}
