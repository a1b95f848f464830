package recon

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rukunkita/ipl-recon/internal/domain/lifecycle"
	"github.com/rukunkita/ipl-recon/internal/domain/matcher"
	"github.com/rukunkita/ipl-recon/internal/infrastructure/storage"
)

func intPtr(i int) *int       { return &i }
func int64Ptr(i int64) *int64 { return &i }

func newTestService(t *testing.T) (*Service, *storage.MockRepository) {
	t.Helper()
	repo := storage.NewMockRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := matcher.NewEngine(matcher.Config{
		Bases:          []decimal.Decimal{decimal.NewFromInt(250000)},
		DateWindowDays: 7,
	}, logger)
	return NewService(repo, engine, logger), repo
}

func seedResidents(t *testing.T, repo *storage.MockRepository) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.SeedResident(ctx, &storage.Resident{
		ID: 1, Name: "Budi Santoso", PaymentIndex: intPtr(87), Block: "C11", HouseNumber: "10", Active: true,
	}))
	require.NoError(t, repo.SeedResident(ctx, &storage.Resident{
		ID: 2, Name: "Siti Rahayu", Block: "A1", HouseNumber: "22", Active: true,
	}))
	require.NoError(t, repo.SeedResident(ctx, &storage.Resident{
		ID: 3, Name: "Tanpa Rumah", Active: true,
	}))
}

const sampleStatement = `'05/01,TRSF E-BANKING CR IPL BUDI SANTOSO,0000,"250.087,00",CR,"1.250.087,00"
'06/01,BIAYA ADM,0000,"15.000,00",DB,"1.235.087,00"
'07/01,TRANSFER DANA TITIPAN,0000,"1.000.000,00",CR,"2.235.087,00"
'08/01,SETORAN MISTERIUS,0000,"300.000,00",CR,"2.535.087,00"`

func TestProcessUpload(t *testing.T) {
	svc, repo := newTestService(t)
	seedResidents(t, repo)

	summary, err := svc.ProcessUpload(context.Background(), sampleStatement, UploadOptions{
		FileName: "jan.csv", Year: 2026, Month: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Imported)
	assert.Equal(t, 1, summary.Matched)
	assert.Equal(t, 1, summary.AutoMatched)
	assert.Equal(t, 2, summary.Omitted) // debit fee and deposit
	assert.Equal(t, 1, summary.Unmatched)
	assert.Empty(t, summary.RowErrors)
	assert.NotEmpty(t, summary.BatchID)

	list, err := repo.ListMutations(context.Background(), storage.MutationFilters{Year: 2026, Month: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, list.TotalCount)

	// The payment-index hit carries its strategy and an audit entry.
	var matched *storage.BankMutation
	for _, m := range list.Mutations {
		if m.State == lifecycle.StateMatchedAuto {
			matched = m
		}
	}
	require.NotNil(t, matched)
	assert.Equal(t, string(matcher.StrategyPaymentIndex), matched.MatchStrategy)
	require.NotNil(t, matched.ResidentID)
	assert.Equal(t, int64(1), *matched.ResidentID)

	history, err := repo.ListVerifications(context.Background(), matched.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, lifecycle.ActionAutoMatch, history[0].Action)
	assert.Equal(t, SystemActor, history[0].Actor)
}

func TestProcessUploadPartialFailure(t *testing.T) {
	svc, repo := newTestService(t)
	seedResidents(t, repo)

	raw := sampleStatement + "\nnot,enough,columns"
	summary, err := svc.ProcessUpload(context.Background(), raw, UploadOptions{Year: 2026, Month: 1})
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Imported)
	require.Len(t, summary.RowErrors, 1)
	assert.Equal(t, 5, summary.RowErrors[0].Line)

	batch, err := repo.GetLastBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "completed_with_errors", batch.Status)
	assert.Equal(t, 1, batch.Errored)
}

func TestProcessUploadReplace(t *testing.T) {
	svc, repo := newTestService(t)
	seedResidents(t, repo)
	ctx := context.Background()

	_, err := svc.ProcessUpload(ctx, sampleStatement, UploadOptions{Year: 2026, Month: 1})
	require.NoError(t, err)

	// Without replace a re-upload duplicates.
	_, err = svc.ProcessUpload(ctx, sampleStatement, UploadOptions{Year: 2026, Month: 1})
	require.NoError(t, err)
	list, _ := repo.ListMutations(ctx, storage.MutationFilters{Year: 2026, Month: 1})
	assert.Equal(t, 8, list.TotalCount)

	summary, err := svc.ProcessUpload(ctx, sampleStatement, UploadOptions{Year: 2026, Month: 1, Replace: true})
	require.NoError(t, err)
	assert.Equal(t, int64(8), summary.Replaced)
	list, _ = repo.ListMutations(ctx, storage.MutationFilters{Year: 2026, Month: 1})
	assert.Equal(t, 4, list.TotalCount)
}

func TestProcessUploadRequiresYear(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.ProcessUpload(context.Background(), sampleStatement, UploadOptions{})
	assert.Error(t, err)
}

func TestProcessUploadReplaceRequiresMonth(t *testing.T) {
	svc, repo := newTestService(t)
	seedResidents(t, repo)
	ctx := context.Background()

	_, err := svc.ProcessUpload(ctx, sampleStatement, UploadOptions{Year: 2026, Month: 1})
	require.NoError(t, err)

	// A replace without a month would delete nothing and then duplicate.
	_, err = svc.ProcessUpload(ctx, sampleStatement, UploadOptions{Year: 2026, Replace: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "month")

	list, _ := repo.ListMutations(ctx, storage.MutationFilters{Year: 2026})
	assert.Equal(t, 4, list.TotalCount)
}

func TestUnmatchedRowRecordsSystemUnmatch(t *testing.T) {
	svc, repo := newTestService(t)
	seedResidents(t, repo)

	raw := `'08/01,SETORAN MISTERIUS,0000,"300.000,00",CR,"2.535.087,00"`
	summary, err := svc.ProcessUpload(context.Background(), raw, UploadOptions{Year: 2026, Month: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Unmatched)

	list, _ := repo.ListMutations(context.Background(), storage.MutationFilters{Year: 2026, Month: 1})
	require.Len(t, list.Mutations, 1)
	assert.Equal(t, lifecycle.StateUnmatched, list.Mutations[0].State)

	history, err := repo.ListVerifications(context.Background(), list.Mutations[0].ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, lifecycle.ActionSystemUnmatch, history[0].Action)
	assert.Equal(t, SystemActor, history[0].Actor)
}

func TestPendingNameMatchLearnsNoAlias(t *testing.T) {
	svc, repo := newTestService(t)
	seedResidents(t, repo)

	// Primary-name similarity lands in MATCHED_PENDING; an unconfirmed
	// guess must not seed the alias table.
	raw := `'05/01,TRSF E-BANKING CR BUDI SANTOSO,0000,"300.000,00",CR,"1.300.000,00"`
	summary, err := svc.ProcessUpload(context.Background(), raw, UploadOptions{Year: 2026, Month: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Matched)
	assert.Equal(t, 0, summary.AutoMatched)

	aliases, err := repo.ListAliases(context.Background())
	require.NoError(t, err)
	assert.Empty(t, aliases)
}

func TestAutoNameMatchLearnsVerifiedAlias(t *testing.T) {
	svc, repo := newTestService(t)
	seedResidents(t, repo)
	ctx := context.Background()
	require.NoError(t, repo.UpsertAlias(ctx, storage.AliasObservation{
		ResidentID: 1, Alias: "BUDI SANTOSO", Verified: true,
	}))

	raw := `'05/01,TRSF E-BANKING CR BUDI SANTOSO,0000,"300.000,00",CR,"1.300.000,00"`
	summary, err := svc.ProcessUpload(ctx, raw, UploadOptions{Year: 2026, Month: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.AutoMatched)

	aliases, err := repo.ListAliases(ctx)
	require.NoError(t, err)
	require.Len(t, aliases, 1)
	assert.Equal(t, "BUDI SANTOSO", aliases[0].Alias)
	assert.True(t, aliases[0].Verified)
	assert.Equal(t, 2, aliases[0].Frequency, "the auto match reinforces the alias")
}

func TestProcessUploadHistoricalBackfill(t *testing.T) {
	svc, repo := newTestService(t)
	seedResidents(t, repo)

	raw := `'05/01,TRSF IPL WARGA,0000,"300.000,00",CR,"1.300.000,00","300.000,00",REF1,C11,IPL,10,1,2026,003,TRUE`
	summary, err := svc.ProcessUpload(context.Background(), raw, UploadOptions{Year: 2026, Month: 1})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Historical)
	assert.Equal(t, 1, summary.Matched)

	list, _ := repo.ListMutations(context.Background(), storage.MutationFilters{Year: 2026, Month: 1})
	require.Len(t, list.Mutations, 1)
	mut := list.Mutations[0]
	assert.Equal(t, lifecycle.StateVerified, mut.State)
	assert.Equal(t, string(matcher.StrategyHistorical), mut.MatchStrategy)
	require.NotNil(t, mut.ResidentID)
	assert.Equal(t, int64(1), *mut.ResidentID)
	assert.Equal(t, "import", mut.VerifiedBy)
}

func TestVerifyPendingMatch(t *testing.T) {
	svc, repo := newTestService(t)
	seedResidents(t, repo)

	repo.AddMutation(&storage.BankMutation{
		ID: 10, Date: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		Description: "TRSF BUDI SANTOSO", Amount: decimal.NewFromInt(300000),
		State: lifecycle.StateMatchedPending, ResidentID: int64Ptr(1),
		MatchScore: 0.6, MatchStrategy: string(matcher.StrategyName),
	})

	mut, err := svc.Verify(context.Background(), 10, "admin", "looks right")
	require.NoError(t, err)

	assert.Equal(t, lifecycle.StateVerified, mut.State)
	assert.Equal(t, "admin", mut.VerifiedBy)
	require.NotNil(t, mut.VerifiedAt)

	history, _ := repo.ListVerifications(context.Background(), 10)
	require.Len(t, history, 1)
	assert.Equal(t, lifecycle.ActionManualConfirm, history[0].Action)
	assert.Equal(t, "admin", history[0].Actor)

	// The confirmed description fragment becomes a verified alias.
	aliases, _ := repo.ListAliases(context.Background())
	require.Len(t, aliases, 1)
	assert.Equal(t, "BUDI SANTOSO", aliases[0].Alias)
	assert.True(t, aliases[0].Verified)
	assert.Equal(t, int64(1), aliases[0].ResidentID)
}

func TestVerifyRejectsUnmatched(t *testing.T) {
	svc, repo := newTestService(t)
	repo.AddMutation(&storage.BankMutation{ID: 10, State: lifecycle.StateUnmatched})

	_, err := svc.Verify(context.Background(), 10, "admin", "")

	var te *lifecycle.TransitionError
	require.ErrorAs(t, err, &te)
	assert.False(t, repo.UpdateMutationCalled)
}

func TestVerifyRejectsResidentWithoutHouse(t *testing.T) {
	svc, repo := newTestService(t)
	seedResidents(t, repo)
	repo.AddMutation(&storage.BankMutation{
		ID: 10, State: lifecycle.StateMatchedPending, ResidentID: int64Ptr(3),
	})

	_, err := svc.Verify(context.Background(), 10, "admin", "")

	var te *lifecycle.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Reason, "house")
}

func TestOmitAndRestoreRoundTrip(t *testing.T) {
	svc, repo := newTestService(t)
	seedResidents(t, repo)
	ctx := context.Background()
	repo.AddMutation(&storage.BankMutation{
		ID: 10, State: lifecycle.StateMatchedPending, ResidentID: int64Ptr(1),
		MatchScore: 0.6, MatchStrategy: string(matcher.StrategyName),
	})

	mut, err := svc.Omit(ctx, 10, "admin", "internal transfer")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateOmitted, mut.State)
	assert.Equal(t, "internal transfer", mut.OmitReason)
	// Match fields survive omission for later review.
	require.NotNil(t, mut.ResidentID)

	mut, err = svc.Restore(ctx, 10, "admin")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateUnmatched, mut.State)
	assert.Nil(t, mut.ResidentID)
	assert.Empty(t, mut.OmitReason)
	assert.Zero(t, mut.MatchScore)

	history, _ := repo.ListVerifications(ctx, 10)
	require.Len(t, history, 2)
	assert.Equal(t, lifecycle.ActionManualOmit, history[0].Action)
	assert.Equal(t, lifecycle.ActionSystemUnmatch, history[1].Action)
}

func TestOmitRequiresReason(t *testing.T) {
	svc, repo := newTestService(t)
	repo.AddMutation(&storage.BankMutation{ID: 10, State: lifecycle.StateUnmatched})

	_, err := svc.Omit(context.Background(), 10, "admin", "")

	var te *lifecycle.TransitionError
	assert.ErrorAs(t, err, &te)
}

func TestConcurrentRestoresCommitOnce(t *testing.T) {
	svc, repo := newTestService(t)
	seedResidents(t, repo)
	ctx := context.Background()
	repo.AddMutation(&storage.BankMutation{
		ID: 10, State: lifecycle.StateOmitted, OmitReason: "internal transfer",
	})

	const racers = 4
	errs := make(chan error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Restore(ctx, 10, "admin")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var te *lifecycle.TransitionError
		require.ErrorAs(t, err, &te)
	}
	assert.Equal(t, 1, succeeded, "exactly one restore wins the transition")

	history, _ := repo.ListVerifications(ctx, 10)
	assert.Len(t, history, 1, "one logical transition writes one audit entry")
}

func TestRestoreRejectsNonOmitted(t *testing.T) {
	svc, repo := newTestService(t)
	repo.AddMutation(&storage.BankMutation{ID: 10, State: lifecycle.StateUnmatched})

	_, err := svc.Restore(context.Background(), 10, "admin")

	var te *lifecycle.TransitionError
	assert.ErrorAs(t, err, &te)
}

func TestManualMatch(t *testing.T) {
	svc, repo := newTestService(t)
	seedResidents(t, repo)
	repo.AddMutation(&storage.BankMutation{
		ID: 10, Description: "SETORAN BUDI SANTOSO", State: lifecycle.StateUnmatched,
	})

	mut, err := svc.ManualMatch(context.Background(), 10, 1, int64Ptr(55), "admin", true)
	require.NoError(t, err)

	assert.Equal(t, lifecycle.StateVerified, mut.State)
	require.NotNil(t, mut.ResidentID)
	assert.Equal(t, int64(1), *mut.ResidentID)
	require.NotNil(t, mut.PaymentID)
	assert.Equal(t, int64(55), *mut.PaymentID)
	assert.Equal(t, matcher.ScoreManual, mut.MatchScore)
	assert.Equal(t, string(matcher.StrategyManual), mut.MatchStrategy)

	history, _ := repo.ListVerifications(context.Background(), 10)
	require.Len(t, history, 1)
	assert.Equal(t, lifecycle.ActionManualOverride, history[0].Action)
	require.NotNil(t, history[0].PaymentIDAfter)
	assert.Equal(t, int64(55), *history[0].PaymentIDAfter)
}

func TestManualMatchRejectsOmitted(t *testing.T) {
	svc, repo := newTestService(t)
	seedResidents(t, repo)
	repo.AddMutation(&storage.BankMutation{ID: 10, State: lifecycle.StateOmitted})

	_, err := svc.ManualMatch(context.Background(), 10, 1, nil, "admin", false)

	var te *lifecycle.TransitionError
	assert.ErrorAs(t, err, &te)
}

func TestManualMatchUnknownResident(t *testing.T) {
	svc, repo := newTestService(t)
	repo.AddMutation(&storage.BankMutation{ID: 10, State: lifecycle.StateUnmatched})

	_, err := svc.ManualMatch(context.Background(), 10, 999, nil, "admin", false)

	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestManualMatchVerifiedNeedsHouse(t *testing.T) {
	svc, repo := newTestService(t)
	seedResidents(t, repo)
	repo.AddMutation(&storage.BankMutation{ID: 10, State: lifecycle.StateUnmatched})

	_, err := svc.ManualMatch(context.Background(), 10, 3, nil, "admin", true)

	var te *lifecycle.TransitionError
	require.ErrorAs(t, err, &te)

	// Unverified assignment to the same resident is fine.
	mut, err := svc.ManualMatch(context.Background(), 10, 3, nil, "admin", false)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateMatchedPending, mut.State)
}

func TestAutoVerifyPeriod(t *testing.T) {
	svc, repo := newTestService(t)
	seedResidents(t, repo)
	ctx := context.Background()
	date := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	repo.AddMutation(&storage.BankMutation{
		ID: 1, Date: date, State: lifecycle.StateMatchedAuto, ResidentID: int64Ptr(1), MatchScore: 0.9,
	})
	repo.AddMutation(&storage.BankMutation{
		ID: 2, Date: date, State: lifecycle.StateMatchedAuto, ResidentID: int64Ptr(2), MatchScore: 0.95,
	})
	// Guard failure: resident without a house number.
	repo.AddMutation(&storage.BankMutation{
		ID: 3, Date: date, State: lifecycle.StateMatchedAuto, ResidentID: int64Ptr(3), MatchScore: 0.9,
	})
	// Pending matches are not auto-verified.
	repo.AddMutation(&storage.BankMutation{
		ID: 4, Date: date, State: lifecycle.StateMatchedPending, ResidentID: int64Ptr(1), MatchScore: 0.6,
	})

	count, err := svc.AutoVerifyPeriod(ctx, 2026, 1, "admin")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	mut, _ := repo.GetMutation(ctx, 3)
	assert.Equal(t, lifecycle.StateMatchedAuto, mut.State)
	mut, _ = repo.GetMutation(ctx, 4)
	assert.Equal(t, lifecycle.StateMatchedPending, mut.State)

	// Idempotent: a second run verifies nothing new, the guarded row is
	// skipped again.
	count, err = svc.AutoVerifyPeriod(ctx, 2026, 1, "admin")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestGetWithHistory(t *testing.T) {
	svc, repo := newTestService(t)
	seedResidents(t, repo)
	repo.AddMutation(&storage.BankMutation{
		ID: 10, State: lifecycle.StateMatchedPending, ResidentID: int64Ptr(1),
	})

	_, err := svc.Verify(context.Background(), 10, "admin", "")
	require.NoError(t, err)

	mut, history, err := svc.Get(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateVerified, mut.State)
	require.Len(t, history, 1)
}

func TestGetNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	_, _, err := svc.Get(context.Background(), 404)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
