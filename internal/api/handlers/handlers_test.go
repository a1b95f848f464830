package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rukunkita/ipl-recon/internal/api"
	"github.com/rukunkita/ipl-recon/internal/api/dto"
	"github.com/rukunkita/ipl-recon/internal/api/handlers"
	"github.com/rukunkita/ipl-recon/internal/application/recon"
	"github.com/rukunkita/ipl-recon/internal/domain/lifecycle"
	"github.com/rukunkita/ipl-recon/internal/domain/matcher"
	"github.com/rukunkita/ipl-recon/internal/infrastructure/storage"
)

func intPtr(i int) *int       { return &i }
func int64Ptr(i int64) *int64 { return &i }

func newTestServer(t *testing.T) (http.Handler, *storage.MockRepository) {
	t.Helper()
	repo := storage.NewMockRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := matcher.NewEngine(matcher.Config{
		Bases: []decimal.Decimal{decimal.NewFromInt(250000)},
	}, logger)
	svc := recon.NewService(repo, engine, logger)
	return api.NewRouter(handlers.New(svc, logger), nil, logger), repo
}

func seedResident(t *testing.T, repo *storage.MockRepository) {
	t.Helper()
	require.NoError(t, repo.SeedResident(context.Background(), &storage.Resident{
		ID: 1, Name: "Budi Santoso", PaymentIndex: intPtr(87), Block: "C11", HouseNumber: "10", Active: true,
	}))
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp dto.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestUploadStatement(t *testing.T) {
	router, repo := newTestServer(t)
	seedResident(t, repo)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "jan.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(`'05/01,TRSF E-BANKING CR IPL BUDI SANTOSO,0000,"250.087,00",CR,"1.250.087,00"`))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("year", "2026"))
	require.NoError(t, mw.WriteField("month", "1"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/mutations/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var summary recon.UploadSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.Imported)
	assert.Equal(t, 1, summary.AutoMatched)
}

func TestUploadRequiresFile(t *testing.T) {
	router, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("year", "2026"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/mutations/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadReplaceRequiresMonth(t *testing.T) {
	router, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "jan.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(`'05/01,TRSF IPL,0000,"250.087,00",CR,"1.250.087,00"`))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("year", "2026"))
	require.NoError(t, mw.WriteField("replace", "true"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/mutations/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListMutationsWithFilters(t *testing.T) {
	router, repo := newTestServer(t)
	repo.AddMutation(&storage.BankMutation{
		ID: 1, Description: "IPL BUDI", State: lifecycle.StateUnmatched,
		Amount: decimal.NewFromInt(250000),
	})
	repo.AddMutation(&storage.BankMutation{
		ID: 2, Description: "BIAYA ADM", State: lifecycle.StateOmitted,
		Amount: decimal.NewFromInt(15000),
	})

	rec := doJSON(t, router, http.MethodGet, "/api/mutations?omitted=false", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var result storage.MutationListResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.TotalCount)
	require.Len(t, result.Mutations, 1)
	assert.Equal(t, "IPL BUDI", result.Mutations[0].Description)
}

func TestGetMutationWithHistory(t *testing.T) {
	router, repo := newTestServer(t)
	seedResident(t, repo)
	repo.AddMutation(&storage.BankMutation{
		ID: 7, State: lifecycle.StateMatchedPending, ResidentID: int64Ptr(1),
	})

	rec := doJSON(t, router, http.MethodPost, "/api/mutations/7/verify",
		dto.VerifyRequest{Actor: "admin"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/api/mutations/7", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var detail dto.MutationDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, lifecycle.StateVerified, detail.Mutation.State)
	require.Len(t, detail.History, 1)
	assert.Equal(t, lifecycle.ActionManualConfirm, detail.History[0].Action)
}

func TestGetMutationNotFound(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/api/mutations/404", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVerifyConflictOnUnmatched(t *testing.T) {
	router, repo := newTestServer(t)
	repo.AddMutation(&storage.BankMutation{ID: 7, State: lifecycle.StateUnmatched})

	rec := doJSON(t, router, http.MethodPost, "/api/mutations/7/verify",
		dto.VerifyRequest{Actor: "admin"})

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestVerifyRequiresActor(t *testing.T) {
	router, repo := newTestServer(t)
	repo.AddMutation(&storage.BankMutation{ID: 7, State: lifecycle.StateMatchedPending})

	rec := doJSON(t, router, http.MethodPost, "/api/mutations/7/verify", dto.VerifyRequest{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOmitRequiresReason(t *testing.T) {
	router, repo := newTestServer(t)
	repo.AddMutation(&storage.BankMutation{ID: 7, State: lifecycle.StateUnmatched})

	rec := doJSON(t, router, http.MethodPost, "/api/mutations/7/omit",
		dto.OmitRequest{Actor: "admin"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOmitAndRestore(t *testing.T) {
	router, repo := newTestServer(t)
	repo.AddMutation(&storage.BankMutation{ID: 7, State: lifecycle.StateUnmatched})

	rec := doJSON(t, router, http.MethodPost, "/api/mutations/7/omit",
		dto.OmitRequest{Actor: "admin", Reason: "not a due"})
	require.Equal(t, http.StatusOK, rec.Code)

	var mut storage.BankMutation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mut))
	assert.Equal(t, lifecycle.StateOmitted, mut.State)

	rec = doJSON(t, router, http.MethodPost, "/api/mutations/7/restore",
		dto.RestoreRequest{Actor: "admin"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mut))
	assert.Equal(t, lifecycle.StateUnmatched, mut.State)
}

func TestManualMatchUnknownResident(t *testing.T) {
	router, repo := newTestServer(t)
	repo.AddMutation(&storage.BankMutation{ID: 7, State: lifecycle.StateUnmatched})

	rec := doJSON(t, router, http.MethodPost, "/api/mutations/7/match",
		dto.MatchRequest{ResidentID: 999, Actor: "admin"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestManualMatch(t *testing.T) {
	router, repo := newTestServer(t)
	seedResident(t, repo)
	repo.AddMutation(&storage.BankMutation{
		ID: 7, Description: "SETORAN BUDI SANTOSO", State: lifecycle.StateUnmatched,
	})

	rec := doJSON(t, router, http.MethodPost, "/api/mutations/7/match",
		dto.MatchRequest{ResidentID: 1, Actor: "admin", Verified: true})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var mut storage.BankMutation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mut))
	assert.Equal(t, lifecycle.StateVerified, mut.State)
	assert.Equal(t, string(matcher.StrategyManual), mut.MatchStrategy)
}

func TestAutoVerifyRequiresYear(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/mutations/auto-verify",
		dto.AutoVerifyRequest{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAutoVerify(t *testing.T) {
	router, repo := newTestServer(t)
	seedResident(t, repo)
	repo.AddMutation(&storage.BankMutation{
		ID: 7, Date: mustDate("2026-01-05"), State: lifecycle.StateMatchedAuto,
		ResidentID: int64Ptr(1), MatchScore: 0.9,
	})

	rec := doJSON(t, router, http.MethodPost, "/api/mutations/auto-verify",
		dto.AutoVerifyRequest{Year: 2026, Month: 1, Actor: "admin"})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp dto.AutoVerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Verified)
}

func TestStats(t *testing.T) {
	router, repo := newTestServer(t)
	repo.AddMutation(&storage.BankMutation{
		ID: 1, Category: "IPL", State: lifecycle.StateVerified,
		Amount: decimal.NewFromInt(250000),
	})

	rec := doJSON(t, router, http.MethodGet, "/api/mutations/stats", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var stats storage.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Verified)
	assert.Equal(t, 1, stats.CategoryBreakdown["IPL"])
}

func TestInvalidMutationID(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/api/mutations/abc", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func mustDate(s string) (t time.Time) {
	t, _ = time.Parse("2006-01-02", s)
	return t
}
