// Package recon orchestrates statement ingestion and the review workflow on
// top of the storage layer and the matching engine.
package recon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rukunkita/ipl-recon/internal/domain/categorizer"
	"github.com/rukunkita/ipl-recon/internal/domain/fuzzy"
	"github.com/rukunkita/ipl-recon/internal/domain/lifecycle"
	"github.com/rukunkita/ipl-recon/internal/domain/matcher"
	"github.com/rukunkita/ipl-recon/internal/domain/parser"
	"github.com/rukunkita/ipl-recon/internal/infrastructure/storage"
)

// SystemActor tags audit entries written by the engine itself rather than a
// reviewing human.
const SystemActor = "system"

// Service wires parsing, categorization, matching and persistence into the
// operations the API exposes.
type Service struct {
	repo   storage.Repository
	engine *matcher.Engine
	logger *slog.Logger
}

func NewService(repo storage.Repository, engine *matcher.Engine, logger *slog.Logger) *Service {
	return &Service{repo: repo, engine: engine, logger: logger}
}

// UploadOptions steer one statement import.
type UploadOptions struct {
	FileName string
	Year     int
	Month    int
	// Replace deletes previously imported mutations for the same period
	// before ingesting. Without it a re-upload duplicates rows.
	Replace bool
}

// UploadSummary reports what one import did. Row-level failures are listed,
// never fatal: a statement with some bad rows still imports the good ones.
type UploadSummary struct {
	BatchID     string            `json:"batch_id"`
	Imported    int               `json:"imported"`
	Matched     int               `json:"matched"`
	AutoMatched int               `json:"auto_matched"`
	Omitted     int               `json:"omitted"`
	Unmatched   int               `json:"unmatched"`
	Historical  int               `json:"historical"`
	Replaced    int64             `json:"replaced"`
	RowErrors   []parser.RowError `json:"row_errors,omitempty"`
}

// ProcessUpload parses raw statement text and ingests every valid row:
// categorize, match, persist, each row atomically with its audit entry.
func (s *Service) ProcessUpload(ctx context.Context, raw string, opts UploadOptions) (*UploadSummary, error) {
	if opts.Year == 0 {
		return nil, fmt.Errorf("upload requires a statement year")
	}
	if opts.Replace && opts.Month == 0 {
		return nil, fmt.Errorf("replace requires a statement month")
	}

	parsed := parser.Parse(raw, parser.Hints{Year: opts.Year, Month: opts.Month})
	summary := &UploadSummary{
		BatchID:   uuid.NewString(),
		RowErrors: parsed.Errors,
	}
	if len(parsed.Transactions) == 0 {
		if len(parsed.Errors) > 0 {
			return summary, nil
		}
		return nil, fmt.Errorf("statement contains no transactions")
	}

	if err := s.repo.StartBatch(ctx, &storage.UploadBatch{
		ID:        summary.BatchID,
		FileName:  opts.FileName,
		StartedAt: time.Now().UTC(),
		Status:    "running",
	}); err != nil {
		return nil, fmt.Errorf("starting batch: %w", err)
	}

	if opts.Replace {
		deleted, err := s.repo.DeleteMutationsForPeriod(ctx, opts.Year, opts.Month)
		if err != nil {
			return nil, fmt.Errorf("replacing period %d-%02d: %w", opts.Year, opts.Month, err)
		}
		summary.Replaced = deleted
		s.logger.Info("replaced existing period", "year", opts.Year, "month", opts.Month, "deleted", deleted)
	}

	snap, err := s.loadSnapshot(ctx, opts.Year, opts.Month)
	if err != nil {
		return nil, err
	}

	historicalByLine := make(map[int]parser.Historical, len(parsed.Historical))
	for _, h := range parsed.Historical {
		if h.Confirmed {
			historicalByLine[h.Line] = h
		}
	}

	for _, tx := range parsed.Transactions {
		if err := s.ingestRow(ctx, tx, snap, historicalByLine, opts, summary); err != nil {
			// A storage failure mid-batch is not a row-level problem.
			return nil, fmt.Errorf("ingesting row %d: %w", tx.Line, err)
		}
	}

	if err := s.repo.CompleteBatch(ctx, summary.BatchID, summary.Imported, summary.Omitted, len(parsed.Errors)); err != nil {
		return nil, fmt.Errorf("completing batch: %w", err)
	}

	s.logger.Info("statement imported",
		"batch_id", summary.BatchID,
		"imported", summary.Imported,
		"matched", summary.Matched,
		"auto_matched", summary.AutoMatched,
		"omitted", summary.Omitted,
		"row_errors", len(parsed.Errors))
	return summary, nil
}

func (s *Service) ingestRow(ctx context.Context, tx parser.Transaction, snap matcher.Snapshot, historical map[int]parser.Historical, opts UploadOptions, summary *UploadSummary) error {
	cat := categorizer.Categorize(tx.Description, tx.TxType == parser.TypeDebit)

	mut := &storage.BankMutation{
		Date:        tx.Date,
		Description: tx.Description,
		Reference:   tx.Reference,
		Amount:      tx.Amount,
		Balance:     tx.Balance,
		TxType:      tx.TxType,
		Category:    string(cat.Category),
		State:       lifecycle.StateUnmatched,
		RawData:     tx.Raw,
		BatchID:     summary.BatchID,
		SourceFile:  opts.FileName,
	}

	if cat.ShouldOmit {
		mut.State = lifecycle.StateOmitted
		mut.OmitReason = cat.Reason
		summary.Imported++
		summary.Omitted++
		return s.repo.CreateMutationTx(ctx, mut, nil, nil)
	}

	var audit *storage.MutationVerification
	var aliases []storage.AliasObservation

	if hist, ok := historical[tx.Line]; ok {
		if applied := s.applyHistorical(mut, hist, snap); applied {
			summary.Historical++
			summary.Matched++
			audit = &storage.MutationVerification{
				Action:     lifecycle.ActionManualConfirm,
				Confidence: mut.MatchScore,
				Actor:      "import",
				Notes:      "historically verified on source statement",
			}
			aliases = s.aliasObservations(mut.Description, *mut.ResidentID, snap)
		}
	}

	if mut.ResidentID == nil {
		if r := s.engine.Match(ctx, matcher.Input{
			Description: tx.Description,
			Amount:      tx.Amount,
			Date:        tx.Date,
		}, snap); r.Matched {
			mut.ResidentID = &r.ResidentID
			mut.PaymentID = r.PaymentID
			mut.MatchScore = r.Score
			mut.MatchStrategy = string(r.Strategy)
			mut.State = lifecycle.AutoMatch(r.Score, matcher.AutoVerifyThreshold)

			summary.Matched++
			if mut.State == lifecycle.StateMatchedAuto {
				summary.AutoMatched++
			}
			audit = &storage.MutationVerification{
				Action:         lifecycle.ActionAutoMatch,
				Confidence:     r.Score,
				Actor:          SystemActor,
				PaymentIDAfter: r.PaymentID,
				Notes:          string(r.Strategy),
			}
			// Only a match confident enough to auto-verify may teach the
			// alias table; a pending guess waits for human confirmation.
			if r.MatchedName != "" && mut.State == lifecycle.StateMatchedAuto {
				aliases = append(aliases, storage.AliasObservation{
					ResidentID: r.ResidentID,
					Alias:      r.MatchedName,
					Verified:   true,
				})
			}
		}
	}

	if mut.ResidentID == nil {
		summary.Unmatched++
		audit = &storage.MutationVerification{
			Action: lifecycle.ActionSystemUnmatch,
			Actor:  SystemActor,
			Notes:  "no matching strategy succeeded",
		}
	}
	summary.Imported++
	return s.repo.CreateMutationTx(ctx, mut, audit, aliases)
}

// applyHistorical resolves a manually-confirmed house reference carried on
// the source row. These rows were verified by hand before this system
// existed, so a resolved match lands directly in VERIFIED.
func (s *Service) applyHistorical(mut *storage.BankMutation, hist parser.Historical, snap matcher.Snapshot) bool {
	ref, ok := fuzzy.ParseHouseRef(hist.HouseIndex, hist.HouseNumber)
	if !ok {
		return false
	}
	for _, res := range snap.Residents {
		resRef, ok := fuzzy.ParseHouseRef(res.Block, res.HouseNumber)
		if !ok || fuzzy.AddressScore(ref, resRef) < 1.0 {
			continue
		}
		now := time.Now().UTC()
		id := res.ID
		mut.ResidentID = &id
		mut.MatchScore = matcher.ScoreManual
		mut.MatchStrategy = string(matcher.StrategyHistorical)
		mut.State = lifecycle.StateVerified
		mut.VerifiedAt = &now
		mut.VerifiedBy = "import"
		return true
	}
	s.logger.Debug("historical house reference matches no resident", "ref", ref.Canonical())
	return false
}

func (s *Service) loadSnapshot(ctx context.Context, year, month int) (matcher.Snapshot, error) {
	var snap matcher.Snapshot

	residents, err := s.repo.ListActiveResidents(ctx)
	if err != nil {
		return snap, fmt.Errorf("loading residents: %w", err)
	}
	for _, r := range residents {
		snap.Residents = append(snap.Residents, matcher.Resident{
			ID:           r.ID,
			Name:         r.Name,
			PaymentIndex: r.PaymentIndex,
			Block:        r.Block,
			HouseNumber:  r.HouseNumber,
		})
	}

	aliases, err := s.repo.ListAliases(ctx)
	if err != nil {
		return snap, fmt.Errorf("loading aliases: %w", err)
	}
	for _, a := range aliases {
		snap.Aliases = append(snap.Aliases, matcher.Alias{
			ResidentID: a.ResidentID,
			Alias:      a.Alias,
			Verified:   a.Verified,
		})
	}

	// The payment window extends past the statement period so payments
	// recorded a few days either side still corroborate.
	if month == 0 {
		month = 1
	}
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	from := start.AddDate(0, 0, -7)
	to := start.AddDate(0, 1, 7)
	payments, err := s.repo.ListPaymentsBetween(ctx, from, to)
	if err != nil {
		return snap, fmt.Errorf("loading payments: %w", err)
	}
	for _, p := range payments {
		snap.Payments = append(snap.Payments, matcher.Payment{
			ID:         p.ID,
			ResidentID: p.ResidentID,
			Amount:     p.Amount,
			PaidAt:     p.PaidAt,
		})
	}

	return snap, nil
}

// Verify confirms a pending or auto match. The matched resident must exist
// and carry a house number before the mutation may reach VERIFIED.
func (s *Service) Verify(ctx context.Context, id int64, actor, notes string) (*storage.BankMutation, error) {
	mut, err := s.repo.GetMutation(ctx, id)
	if err != nil {
		return nil, err
	}

	guard, resident, err := s.verifyGuard(ctx, mut)
	if err != nil {
		return nil, err
	}
	newState, err := lifecycle.Verify(mut.State, guard)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	upd := storage.MutationUpdate{
		State:         newState,
		VerifiedAt:    &now,
		VerifiedBy:    actor,
		ResidentID:    mut.ResidentID,
		PaymentID:     mut.PaymentID,
		MatchScore:    mut.MatchScore,
		MatchStrategy: mut.MatchStrategy,
	}
	audit := &storage.MutationVerification{
		MutationID:      id,
		Action:          lifecycle.ActionManualConfirm,
		Confidence:      mut.MatchScore,
		Actor:           actor,
		PaymentIDBefore: mut.PaymentID,
		PaymentIDAfter:  mut.PaymentID,
		Notes:           notes,
	}

	var aliases []storage.AliasObservation
	if resident != nil {
		aliases = s.verifiedAliasFor(mut.Description, resident)
	}

	if err := s.repo.UpdateMutationTx(ctx, id, mut.State, upd, audit, aliases); err != nil {
		return nil, transitionConflict(err, mut.State, lifecycle.ActionManualConfirm)
	}
	return s.repo.GetMutation(ctx, id)
}

// Omit marks a mutation as outside reconciliation scope. Match fields are
// retained so a later restore review can see what was matched.
func (s *Service) Omit(ctx context.Context, id int64, actor, reason string) (*storage.BankMutation, error) {
	mut, err := s.repo.GetMutation(ctx, id)
	if err != nil {
		return nil, err
	}

	newState, err := lifecycle.Omit(mut.State, reason)
	if err != nil {
		return nil, err
	}

	upd := storage.MutationUpdate{
		State:         newState,
		OmitReason:    reason,
		VerifiedAt:    mut.VerifiedAt,
		VerifiedBy:    mut.VerifiedBy,
		ResidentID:    mut.ResidentID,
		PaymentID:     mut.PaymentID,
		MatchScore:    mut.MatchScore,
		MatchStrategy: mut.MatchStrategy,
	}
	audit := &storage.MutationVerification{
		MutationID:      id,
		Action:          lifecycle.ActionManualOmit,
		Confidence:      mut.MatchScore,
		Actor:           actor,
		PaymentIDBefore: mut.PaymentID,
		PaymentIDAfter:  mut.PaymentID,
		Notes:           reason,
	}

	if err := s.repo.UpdateMutationTx(ctx, id, mut.State, upd, audit, nil); err != nil {
		return nil, transitionConflict(err, mut.State, lifecycle.ActionManualOmit)
	}
	return s.repo.GetMutation(ctx, id)
}

// Restore brings an omitted mutation back to UNMATCHED with every match
// field cleared, ready for a fresh matching pass or manual assignment.
func (s *Service) Restore(ctx context.Context, id int64, actor string) (*storage.BankMutation, error) {
	mut, err := s.repo.GetMutation(ctx, id)
	if err != nil {
		return nil, err
	}

	newState, err := lifecycle.Restore(mut.State)
	if err != nil {
		return nil, err
	}

	upd := storage.MutationUpdate{State: newState}
	audit := &storage.MutationVerification{
		MutationID:      id,
		Action:          lifecycle.ActionSystemUnmatch,
		Actor:           actor,
		PaymentIDBefore: mut.PaymentID,
		Notes:           "restored from omission",
	}

	if err := s.repo.UpdateMutationTx(ctx, id, mut.State, upd, audit, nil); err != nil {
		return nil, transitionConflict(err, mut.State, lifecycle.ActionSystemUnmatch)
	}
	return s.repo.GetMutation(ctx, id)
}

// ManualMatch assigns a resident by hand, overriding any automated match.
// With markVerified set the mutation lands directly in VERIFIED, subject to
// the same guards as Verify.
func (s *Service) ManualMatch(ctx context.Context, id, residentID int64, paymentID *int64, actor string, markVerified bool) (*storage.BankMutation, error) {
	mut, err := s.repo.GetMutation(ctx, id)
	if err != nil {
		return nil, err
	}
	resident, err := s.repo.GetResident(ctx, residentID)
	if err != nil {
		return nil, err
	}

	newState, err := lifecycle.ManualMatch(mut.State, markVerified)
	if err != nil {
		return nil, err
	}
	if markVerified && resident.HouseNumber == "" {
		return nil, &lifecycle.TransitionError{
			From:   mut.State,
			Action: lifecycle.ActionManualOverride,
			Reason: "matched resident has no recorded house number",
		}
	}

	upd := storage.MutationUpdate{
		State:         newState,
		ResidentID:    &residentID,
		PaymentID:     paymentID,
		MatchScore:    matcher.ScoreManual,
		MatchStrategy: string(matcher.StrategyManual),
	}
	if markVerified {
		now := time.Now().UTC()
		upd.VerifiedAt = &now
		upd.VerifiedBy = actor
	}
	audit := &storage.MutationVerification{
		MutationID:      id,
		Action:          lifecycle.ActionManualOverride,
		Confidence:      matcher.ScoreManual,
		Actor:           actor,
		PaymentIDBefore: mut.PaymentID,
		PaymentIDAfter:  paymentID,
	}

	aliases := s.verifiedAliasFor(mut.Description, resident)

	if err := s.repo.UpdateMutationTx(ctx, id, mut.State, upd, audit, aliases); err != nil {
		return nil, transitionConflict(err, mut.State, lifecycle.ActionManualOverride)
	}
	return s.repo.GetMutation(ctx, id)
}

// AutoVerifyPeriod bulk-confirms every MATCHED_AUTO mutation in a period.
// Already-verified mutations are untouched, so re-running it is harmless.
// Mutations failing the verify guard are skipped, not failed.
func (s *Service) AutoVerifyPeriod(ctx context.Context, year, month int, actor string) (int, error) {
	verified := 0
	skipped := 0
	const page = 200

	for {
		// Verified rows leave the MATCHED_AUTO filter; the offset only
		// needs to step past rows the guard skipped.
		list, err := s.repo.ListMutations(ctx, storage.MutationFilters{
			Year:   year,
			Month:  month,
			State:  lifecycle.StateMatchedAuto,
			Limit:  page,
			Offset: skipped,
		})
		if err != nil {
			return verified, err
		}

		for _, mut := range list.Mutations {
			if _, err := s.Verify(ctx, mut.ID, actor, "bulk auto-verify"); err != nil {
				var te *lifecycle.TransitionError
				if errors.As(err, &te) {
					s.logger.Warn("auto-verify skipped mutation", "id", mut.ID, "reason", te.Reason)
					skipped++
					continue
				}
				return verified, err
			}
			verified++
		}

		if len(list.Mutations) < page {
			return verified, nil
		}
	}
}

// Get returns one mutation with its full audit history, oldest entry first.
func (s *Service) Get(ctx context.Context, id int64) (*storage.BankMutation, []*storage.MutationVerification, error) {
	mut, err := s.repo.GetMutation(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	history, err := s.repo.ListVerifications(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return mut, history, nil
}

// List returns mutations matching the filters.
func (s *Service) List(ctx context.Context, filters storage.MutationFilters) (*storage.MutationListResult, error) {
	return s.repo.ListMutations(ctx, filters)
}

// Stats returns aggregate reconciliation statistics.
func (s *Service) Stats(ctx context.Context) (*storage.Stats, error) {
	return s.repo.GetStats(ctx)
}

// transitionConflict converts a lost conditional write into the same typed
// error a failed precondition produces, so every caller sees one conflict
// shape regardless of which writer got there first.
func transitionConflict(err error, from lifecycle.State, action lifecycle.Action) error {
	if errors.Is(err, storage.ErrStateConflict) {
		return &lifecycle.TransitionError{From: from, Action: action, Reason: "mutation was modified concurrently"}
	}
	return err
}

func (s *Service) verifyGuard(ctx context.Context, mut *storage.BankMutation) (lifecycle.VerifyGuard, *storage.Resident, error) {
	guard := lifecycle.VerifyGuard{}
	if mut.ResidentID == nil {
		return guard, nil, nil
	}
	resident, err := s.repo.GetResident(ctx, *mut.ResidentID)
	if err != nil {
		return guard, nil, fmt.Errorf("loading matched resident %d: %w", *mut.ResidentID, err)
	}
	guard.HasResident = true
	guard.ResidentHasHouse = resident.HouseNumber != ""
	return guard, resident, nil
}

// verifiedAliasFor extracts the description fragment closest to the
// resident's registered name and records it as a human-confirmed alias.
func (s *Service) verifiedAliasFor(description string, resident *storage.Resident) []storage.AliasObservation {
	bestName := ""
	bestScore := 0.0
	for _, name := range fuzzy.ExtractNames(description) {
		if score := fuzzy.NameScore(name, resident.Name); score > bestScore {
			bestName, bestScore = name, score
		}
	}
	if bestName == "" {
		return nil
	}
	return []storage.AliasObservation{{
		ResidentID: resident.ID,
		Alias:      bestName,
		Verified:   true,
	}}
}

// aliasObservations records name fragments for a resident resolved by a
// non-name strategy, seeding the alias table for future name matches.
func (s *Service) aliasObservations(description string, residentID int64, snap matcher.Snapshot) []storage.AliasObservation {
	var residentName string
	for _, r := range snap.Residents {
		if r.ID == residentID {
			residentName = r.Name
			break
		}
	}
	if residentName == "" {
		return nil
	}
	return s.verifiedAliasFor(description, &storage.Resident{ID: residentID, Name: residentName})
}
