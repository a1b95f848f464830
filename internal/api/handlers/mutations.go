package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rukunkita/ipl-recon/internal/api/dto"
	"github.com/rukunkita/ipl-recon/internal/domain/lifecycle"
	"github.com/rukunkita/ipl-recon/internal/infrastructure/storage"
)

// ListMutations returns mutations filtered by the query parameters:
// year, month, state, verified, matched, omitted, search, limit, offset.
func (h *Handler) ListMutations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filters := storage.MutationFilters{
		Year:   queryInt(q.Get("year")),
		Month:  queryInt(q.Get("month")),
		State:  lifecycle.State(q.Get("state")),
		Search: q.Get("search"),
		Limit:  queryInt(q.Get("limit")),
		Offset: queryInt(q.Get("offset")),
	}
	filters.Verified = queryBool(q.Get("verified"))
	filters.Matched = queryBool(q.Get("matched"))
	filters.Omitted = queryBool(q.Get("omitted"))

	result, err := h.service.List(r.Context(), filters)
	if err != nil {
		dto.WriteError(w, h.logger, err)
		return
	}
	dto.WriteJSON(w, http.StatusOK, result)
}

// GetMutation returns one mutation with its audit history.
func (h *Handler) GetMutation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	mut, history, err := h.service.Get(r.Context(), id)
	if err != nil {
		dto.WriteError(w, h.logger, err)
		return
	}
	dto.WriteJSON(w, http.StatusOK, dto.MutationDetail{Mutation: mut, History: history})
}

// Verify confirms a pending or auto match.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req dto.VerifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Actor == "" {
		dto.WriteBadRequest(w, "actor is required")
		return
	}

	mut, err := h.service.Verify(r.Context(), id, req.Actor, req.Notes)
	if err != nil {
		dto.WriteError(w, h.logger, err)
		return
	}
	dto.WriteJSON(w, http.StatusOK, mut)
}

// Omit excludes a mutation from reconciliation.
func (h *Handler) Omit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req dto.OmitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Actor == "" {
		dto.WriteBadRequest(w, "actor is required")
		return
	}
	if req.Reason == "" {
		dto.WriteBadRequest(w, "reason is required")
		return
	}

	mut, err := h.service.Omit(r.Context(), id, req.Actor, req.Reason)
	if err != nil {
		dto.WriteError(w, h.logger, err)
		return
	}
	dto.WriteJSON(w, http.StatusOK, mut)
}

// Restore brings an omitted mutation back into the review queue.
func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req dto.RestoreRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Actor == "" {
		dto.WriteBadRequest(w, "actor is required")
		return
	}

	mut, err := h.service.Restore(r.Context(), id, req.Actor)
	if err != nil {
		dto.WriteError(w, h.logger, err)
		return
	}
	dto.WriteJSON(w, http.StatusOK, mut)
}

// Match assigns a resident by hand, overriding any automated match.
func (h *Handler) Match(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req dto.MatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Actor == "" {
		dto.WriteBadRequest(w, "actor is required")
		return
	}
	if req.ResidentID == 0 {
		dto.WriteBadRequest(w, "resident_id is required")
		return
	}

	mut, err := h.service.ManualMatch(r.Context(), id, req.ResidentID, req.PaymentID, req.Actor, req.Verified)
	if err != nil {
		dto.WriteError(w, h.logger, err)
		return
	}
	dto.WriteJSON(w, http.StatusOK, mut)
}

// AutoVerify bulk-confirms every auto-matched mutation in a period.
func (h *Handler) AutoVerify(w http.ResponseWriter, r *http.Request) {
	var req dto.AutoVerifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Year == 0 {
		dto.WriteBadRequest(w, "year is required")
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = "system"
	}

	verified, err := h.service.AutoVerifyPeriod(r.Context(), req.Year, req.Month, actor)
	if err != nil {
		dto.WriteError(w, h.logger, err)
		return
	}
	dto.WriteJSON(w, http.StatusOK, dto.AutoVerifyResponse{Verified: verified})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		dto.WriteBadRequest(w, "invalid mutation id")
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		dto.WriteBadRequest(w, "invalid request body")
		return false
	}
	return true
}

func queryInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func queryBool(s string) *bool {
	if s == "" {
		return nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil
	}
	return &b
}
