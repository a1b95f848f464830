package dto

import "github.com/rukunkita/ipl-recon/internal/infrastructure/storage"

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// MutationDetail pairs a mutation with its full audit history.
type MutationDetail struct {
	Mutation *storage.BankMutation           `json:"mutation"`
	History  []*storage.MutationVerification `json:"history"`
}

// AutoVerifyResponse reports a bulk verification run.
type AutoVerifyResponse struct {
	Verified int `json:"verified"`
}
