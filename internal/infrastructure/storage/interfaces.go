package storage

import (
	"context"
	"time"

	"github.com/rukunkita/ipl-recon/internal/domain/lifecycle"
)

// Repository defines the complete storage interface.
// This interface allows swapping implementations (SQLite, PostgreSQL, etc.)
// and makes testing with the in-memory fake straightforward.
type Repository interface {
	MutationRepository
	VerificationRepository
	AliasRepository
	SnapshotRepository
	BatchRepository
	Close() error
}

// MutationRepository handles bank mutation persistence.
//
// CreateMutationTx and UpdateMutationTx are composite atomic operations: the
// mutation write, its audit entry, and any alias upserts are committed in a
// single database transaction. A failure partway leaves no partial state.
type MutationRepository interface {
	// CreateMutationTx inserts a mutation together with its initial audit
	// entry (may be nil for omitted-at-ingest rows) and alias observations.
	CreateMutationTx(ctx context.Context, mut *BankMutation, audit *MutationVerification, aliases []AliasObservation) error

	// UpdateMutationTx applies a state transition atomically with exactly
	// one audit entry and optional alias upserts. The write is conditional
	// on the mutation still being in the from state, so concurrent
	// transitions validated against the same snapshot cannot both land;
	// the loser gets ErrStateConflict.
	UpdateMutationTx(ctx context.Context, mutationID int64, from lifecycle.State, upd MutationUpdate, audit *MutationVerification, aliases []AliasObservation) error

	// GetMutation retrieves a mutation by id
	GetMutation(ctx context.Context, id int64) (*BankMutation, error)

	// ListMutations returns mutations matching the given filters with pagination
	ListMutations(ctx context.Context, filters MutationFilters) (*MutationListResult, error)

	// DeleteMutationsForPeriod removes all mutations for a statement period.
	// Used only by re-imports with the replace flag set.
	DeleteMutationsForPeriod(ctx context.Context, year, month int) (int64, error)

	// GetStats returns aggregate statistics
	GetStats(ctx context.Context) (*Stats, error)
}

// VerificationRepository reads the append-only audit log.
type VerificationRepository interface {
	// ListVerifications returns all audit entries for a mutation, oldest first
	ListVerifications(ctx context.Context, mutationID int64) ([]*MutationVerification, error)
}

// AliasRepository handles learned resident aliases.
type AliasRepository interface {
	// ListAliases returns all learned aliases, most frequent first
	ListAliases(ctx context.Context) ([]*ResidentAlias, error)

	// UpsertAlias records one alias observation outside a mutation write
	// (historical backfill path)
	UpsertAlias(ctx context.Context, obs AliasObservation) error
}

// SnapshotRepository reads the resident and payment snapshots owned by the
// surrounding administrative system. The engine never mutates them; the seed
// methods exist for imports and tests.
type SnapshotRepository interface {
	// ListActiveResidents returns all active residents
	ListActiveResidents(ctx context.Context) ([]*Resident, error)

	// GetResident retrieves a resident by id
	GetResident(ctx context.Context, id int64) (*Resident, error)

	// ListPaymentsBetween returns payments dated within [from, to]
	ListPaymentsBetween(ctx context.Context, from, to time.Time) ([]*Payment, error)

	// SeedResident inserts or replaces a resident snapshot row
	SeedResident(ctx context.Context, r *Resident) error

	// SeedPayment inserts or replaces a payment snapshot row
	SeedPayment(ctx context.Context, p *Payment) error
}

// BatchRepository tracks upload batches.
type BatchRepository interface {
	// StartBatch records the start of an upload batch
	StartBatch(ctx context.Context, batch *UploadBatch) error

	// CompleteBatch records the completion of an upload batch
	CompleteBatch(ctx context.Context, batchID string, imported, skipped, errored int) error

	// GetLastBatch returns the most recently started batch, or nil
	GetLastBatch(ctx context.Context) (*UploadBatch, error)
}
