// Package handlers implements the HTTP handlers for the reconciliation API.
package handlers

import (
	"log/slog"

	"github.com/rukunkita/ipl-recon/internal/application/recon"
)

// Handler carries the dependencies shared by every endpoint.
type Handler struct {
	service *recon.Service
	logger  *slog.Logger
}

func New(service *recon.Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}
