package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rukunkita/ipl-recon/internal/domain/lifecycle"
)

// MockRepository is an in-memory implementation of Repository for testing.
// It stores all data in maps and slices, making tests fast and isolated.
type MockRepository struct {
	mu             sync.Mutex
	mutations      map[int64]*BankMutation
	verifications  []*MutationVerification
	aliases        map[string]*ResidentAlias // keyed by residentID:ALIAS
	residents      map[int64]*Resident
	payments       map[int64]*Payment
	batches        []*UploadBatch
	nextMutationID int64
	nextAuditID    int64
	nextAliasID    int64

	// Hooks for test assertions
	CreateMutationCalled bool
	UpdateMutationCalled bool
	LastUpdatedID        int64
	LastUpdate           MutationUpdate
	LastAudit            *MutationVerification

	// Error injection for testing error paths
	CreateMutationErr error
	UpdateMutationErr error
	GetMutationErr    error
	ListMutationsErr  error
	GetStatsErr       error
}

// NewMockRepository creates a new mock repository for testing
func NewMockRepository() *MockRepository {
	return &MockRepository{
		mutations:      make(map[int64]*BankMutation),
		verifications:  make([]*MutationVerification, 0),
		aliases:        make(map[string]*ResidentAlias),
		residents:      make(map[int64]*Resident),
		payments:       make(map[int64]*Payment),
		batches:        make([]*UploadBatch, 0),
		nextMutationID: 1,
		nextAuditID:    1,
		nextAliasID:    1,
	}
}

// Compile-time check that MockRepository implements Repository
var _ Repository = (*MockRepository)(nil)

// Close does nothing for mock
func (m *MockRepository) Close() error {
	return nil
}

// CreateMutationTx stores the mutation, audit entry and alias observations
func (m *MockRepository) CreateMutationTx(ctx context.Context, mut *BankMutation, audit *MutationVerification, aliases []AliasObservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateMutationCalled = true
	if m.CreateMutationErr != nil {
		return m.CreateMutationErr
	}

	mut.ID = m.nextMutationID
	m.nextMutationID++
	if mut.CreatedAt.IsZero() {
		mut.CreatedAt = time.Now().UTC()
	}

	copied := *mut
	m.mutations[mut.ID] = &copied

	if audit != nil {
		audit.MutationID = mut.ID
		m.appendAuditLocked(audit)
	}
	for _, obs := range aliases {
		m.upsertAliasLocked(obs)
	}
	return nil
}

// UpdateMutationTx applies a transition to the stored mutation, conditional
// on it still being in the from state
func (m *MockRepository) UpdateMutationTx(ctx context.Context, mutationID int64, from lifecycle.State, upd MutationUpdate, audit *MutationVerification, aliases []AliasObservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UpdateMutationCalled = true
	m.LastUpdatedID = mutationID
	m.LastUpdate = upd
	m.LastAudit = audit
	if m.UpdateMutationErr != nil {
		return m.UpdateMutationErr
	}

	mut, ok := m.mutations[mutationID]
	if !ok {
		return fmt.Errorf("mutation %d: %w", mutationID, ErrNotFound)
	}
	if mut.State != from {
		return fmt.Errorf("mutation %d: %w", mutationID, ErrStateConflict)
	}

	mut.State = upd.State
	mut.OmitReason = upd.OmitReason
	mut.VerifiedAt = upd.VerifiedAt
	mut.VerifiedBy = upd.VerifiedBy
	mut.ResidentID = upd.ResidentID
	mut.PaymentID = upd.PaymentID
	mut.MatchScore = upd.MatchScore
	mut.MatchStrategy = upd.MatchStrategy

	if audit != nil {
		audit.MutationID = mutationID
		m.appendAuditLocked(audit)
	}
	for _, obs := range aliases {
		m.upsertAliasLocked(obs)
	}
	return nil
}

func (m *MockRepository) appendAuditLocked(audit *MutationVerification) {
	audit.ID = m.nextAuditID
	m.nextAuditID++
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now().UTC()
	}
	copied := *audit
	m.verifications = append(m.verifications, &copied)
}

func (m *MockRepository) upsertAliasLocked(obs AliasObservation) {
	alias := strings.ToUpper(strings.TrimSpace(obs.Alias))
	key := fmt.Sprintf("%d:%s", obs.ResidentID, alias)
	if existing, ok := m.aliases[key]; ok {
		existing.Frequency++
		existing.LastSeenAt = time.Now().UTC()
		existing.Verified = existing.Verified || obs.Verified
		return
	}
	m.aliases[key] = &ResidentAlias{
		ID:         m.nextAliasID,
		ResidentID: obs.ResidentID,
		Alias:      alias,
		Frequency:  1,
		LastSeenAt: time.Now().UTC(),
		Verified:   obs.Verified,
	}
	m.nextAliasID++
}

// GetMutation retrieves a mutation by id
func (m *MockRepository) GetMutation(ctx context.Context, id int64) (*BankMutation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetMutationErr != nil {
		return nil, m.GetMutationErr
	}
	mut, ok := m.mutations[id]
	if !ok {
		return nil, fmt.Errorf("mutation %d: %w", id, ErrNotFound)
	}
	copied := *mut
	return &copied, nil
}

// ListMutations returns mutations matching the filters
func (m *MockRepository) ListMutations(ctx context.Context, filters MutationFilters) (*MutationListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ListMutationsErr != nil {
		return nil, m.ListMutationsErr
	}

	matched := make([]*BankMutation, 0)
	for _, mut := range m.mutations {
		if !mutationMatchesFilters(mut, filters) {
			continue
		}
		copied := *mut
		matched = append(matched, &copied)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Date.Equal(matched[j].Date) {
			return matched[i].Date.After(matched[j].Date)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	start := filters.Offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return &MutationListResult{
		Mutations:  matched[start:end],
		TotalCount: total,
		Limit:      limit,
		Offset:     filters.Offset,
	}, nil
}

func mutationMatchesFilters(mut *BankMutation, filters MutationFilters) bool {
	if filters.Year > 0 && mut.Date.Year() != filters.Year {
		return false
	}
	if filters.Month > 0 && int(mut.Date.Month()) != filters.Month {
		return false
	}
	if filters.State != "" && mut.State != filters.State {
		return false
	}
	if filters.Verified != nil && (mut.State == lifecycle.StateVerified) != *filters.Verified {
		return false
	}
	if filters.Omitted != nil && (mut.State == lifecycle.StateOmitted) != *filters.Omitted {
		return false
	}
	if filters.Matched != nil && (mut.ResidentID != nil) != *filters.Matched {
		return false
	}
	if filters.Search != "" {
		needle := strings.ToUpper(filters.Search)
		if !strings.Contains(strings.ToUpper(mut.Description), needle) &&
			!strings.Contains(strings.ToUpper(mut.Reference), needle) {
			return false
		}
	}
	return true
}

// DeleteMutationsForPeriod removes mutations for the given period
func (m *MockRepository) DeleteMutationsForPeriod(ctx context.Context, year, month int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for id, mut := range m.mutations {
		if mut.Date.Year() == year && int(mut.Date.Month()) == month {
			delete(m.mutations, id)
			deleted++
		}
	}
	return deleted, nil
}

// GetStats returns aggregate statistics over stored mutations
func (m *MockRepository) GetStats(ctx context.Context) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetStatsErr != nil {
		return nil, m.GetStatsErr
	}

	stats := &Stats{
		TotalAmount:       decimal.Zero,
		CategoryBreakdown: make(map[string]int),
	}
	for _, mut := range m.mutations {
		stats.Total++
		stats.CategoryBreakdown[mut.Category]++
		switch mut.State {
		case lifecycle.StateMatchedPending:
			stats.Matched++
		case lifecycle.StateMatchedAuto:
			stats.Matched++
			stats.AutoMatched++
		case lifecycle.StateVerified:
			stats.Matched++
			stats.Verified++
		case lifecycle.StateOmitted:
			stats.Omitted++
		default:
			stats.Unmatched++
		}
		stats.TotalAmount = stats.TotalAmount.Add(mut.Amount)
	}

	if len(m.batches) > 0 {
		stats.LastUploadAt = &m.batches[len(m.batches)-1].StartedAt
	}
	return stats, nil
}

// ListVerifications returns audit entries for a mutation, oldest first
func (m *MockRepository) ListVerifications(ctx context.Context, mutationID int64) ([]*MutationVerification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]*MutationVerification, 0)
	for _, v := range m.verifications {
		if v.MutationID == mutationID {
			copied := *v
			entries = append(entries, &copied)
		}
	}
	return entries, nil
}

// ListAliases returns all learned aliases, most frequent first
func (m *MockRepository) ListAliases(ctx context.Context) ([]*ResidentAlias, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	aliases := make([]*ResidentAlias, 0, len(m.aliases))
	for _, a := range m.aliases {
		copied := *a
		aliases = append(aliases, &copied)
	}
	sort.Slice(aliases, func(i, j int) bool {
		if aliases[i].Frequency != aliases[j].Frequency {
			return aliases[i].Frequency > aliases[j].Frequency
		}
		return aliases[i].ID < aliases[j].ID
	})
	return aliases, nil
}

// UpsertAlias records one alias observation
func (m *MockRepository) UpsertAlias(ctx context.Context, obs AliasObservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertAliasLocked(obs)
	return nil
}

// ListActiveResidents returns all active residents
func (m *MockRepository) ListActiveResidents(ctx context.Context) ([]*Resident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	residents := make([]*Resident, 0, len(m.residents))
	for _, r := range m.residents {
		if r.Active {
			copied := *r
			residents = append(residents, &copied)
		}
	}
	sort.Slice(residents, func(i, j int) bool { return residents[i].ID < residents[j].ID })
	return residents, nil
}

// GetResident retrieves a resident by id
func (m *MockRepository) GetResident(ctx context.Context, id int64) (*Resident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.residents[id]
	if !ok {
		return nil, fmt.Errorf("resident %d: %w", id, ErrNotFound)
	}
	copied := *r
	return &copied, nil
}

// ListPaymentsBetween returns payments dated within [from, to]
func (m *MockRepository) ListPaymentsBetween(ctx context.Context, from, to time.Time) ([]*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	payments := make([]*Payment, 0)
	for _, p := range m.payments {
		if p.PaidAt.Before(from) || p.PaidAt.After(to) {
			continue
		}
		copied := *p
		payments = append(payments, &copied)
	}
	sort.Slice(payments, func(i, j int) bool { return payments[i].PaidAt.Before(payments[j].PaidAt) })
	return payments, nil
}

// SeedResident inserts or replaces a resident snapshot row
func (m *MockRepository) SeedResident(ctx context.Context, r *Resident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *r
	m.residents[r.ID] = &copied
	return nil
}

// SeedPayment inserts or replaces a payment snapshot row
func (m *MockRepository) SeedPayment(ctx context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *p
	m.payments[p.ID] = &copied
	return nil
}

// StartBatch records the start of an upload batch
func (m *MockRepository) StartBatch(ctx context.Context, batch *UploadBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if batch.StartedAt.IsZero() {
		batch.StartedAt = time.Now().UTC()
	}
	if batch.Status == "" {
		batch.Status = "running"
	}
	copied := *batch
	m.batches = append(m.batches, &copied)
	return nil
}

// CompleteBatch records the completion of an upload batch
func (m *MockRepository) CompleteBatch(ctx context.Context, batchID string, imported, skipped, errored int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.batches {
		if b.ID == batchID {
			now := time.Now().UTC()
			b.CompletedAt = &now
			b.Imported = imported
			b.Skipped = skipped
			b.Errored = errored
			if errored > 0 {
				b.Status = "completed_with_errors"
			} else {
				b.Status = "completed"
			}
			return nil
		}
	}
	return fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
}

// GetLastBatch returns the most recently started batch, or nil
func (m *MockRepository) GetLastBatch(ctx context.Context) (*UploadBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.batches) == 0 {
		return nil, nil
	}
	copied := *m.batches[len(m.batches)-1]
	return &copied, nil
}

// AddMutation seeds a mutation directly, bypassing the create path. Test helper.
func (m *MockRepository) AddMutation(mut *BankMutation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mut.ID == 0 {
		mut.ID = m.nextMutationID
		m.nextMutationID++
	} else if mut.ID >= m.nextMutationID {
		m.nextMutationID = mut.ID + 1
	}
	copied := *mut
	m.mutations[mut.ID] = &copied
}
