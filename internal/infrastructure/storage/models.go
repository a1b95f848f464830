package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rukunkita/ipl-recon/internal/domain/lifecycle"
)

// Transaction type codes as they appear on bank statements.
const (
	TxTypeCredit = "CR"
	TxTypeDebit  = "DB"
)

// BankMutation is one bank statement transaction once ingested. It is never
// hard-deleted; omission and restoration are reversible state transitions.
type BankMutation struct {
	ID            int64           `json:"id"`
	Date          time.Time       `json:"date"`
	Description   string          `json:"description"`
	Reference     string          `json:"reference"`
	Amount        decimal.Decimal `json:"amount"`
	Balance       decimal.Decimal `json:"balance"`
	TxType        string          `json:"tx_type"`
	Category      string          `json:"category"`
	State         lifecycle.State `json:"state"`
	OmitReason    string          `json:"omit_reason,omitempty"`
	VerifiedAt    *time.Time      `json:"verified_at,omitempty"`
	VerifiedBy    string          `json:"verified_by,omitempty"`
	ResidentID    *int64          `json:"resident_id,omitempty"`
	PaymentID     *int64          `json:"payment_id,omitempty"`
	MatchScore    float64         `json:"match_score"`
	MatchStrategy string          `json:"match_strategy,omitempty"`
	RawData       string          `json:"-"`
	BatchID       string          `json:"batch_id"`
	SourceFile    string          `json:"source_file"`
	CreatedAt     time.Time       `json:"created_at"`
}

// MutationVerification is one append-only audit log entry. Entries are never
// updated or deleted; exactly one is written per state-changing operation.
type MutationVerification struct {
	ID              int64            `json:"id"`
	MutationID      int64            `json:"mutation_id"`
	Action          lifecycle.Action `json:"action"`
	Confidence      float64          `json:"confidence"`
	Actor           string           `json:"actor"`
	PaymentIDBefore *int64           `json:"payment_id_before,omitempty"`
	PaymentIDAfter  *int64           `json:"payment_id_after,omitempty"`
	Notes           string           `json:"notes,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// ResidentAlias is a learned resident<->bank-name association, unique per
// (resident, alias text), reinforced on repeat observation.
type ResidentAlias struct {
	ID         int64     `json:"id"`
	ResidentID int64     `json:"resident_id"`
	Alias      string    `json:"alias"`
	Frequency  int       `json:"frequency"`
	LastSeenAt time.Time `json:"last_seen_at"`
	Verified   bool      `json:"verified"`
}

// AliasObservation is one alias sighting to upsert: created with frequency 1
// on first observation, reinforced afterwards.
type AliasObservation struct {
	ResidentID int64
	Alias      string
	Verified   bool
}

// Resident is the read-only resident snapshot owned by the surrounding
// administrative system.
type Resident struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	PaymentIndex *int   `json:"payment_index,omitempty"`
	Block        string `json:"block"`
	HouseNumber  string `json:"house_number"`
	Active       bool   `json:"active"`
}

// Payment is the read-only payment snapshot, used only to corroborate a
// resident-level match with a specific expected payment.
type Payment struct {
	ID         int64           `json:"id"`
	ResidentID int64           `json:"resident_id"`
	Amount     decimal.Decimal `json:"amount"`
	PaidAt     time.Time       `json:"paid_at"`
}

// UploadBatch tracks one statement import.
type UploadBatch struct {
	ID          string     `json:"id"`
	FileName    string     `json:"file_name"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Imported    int        `json:"imported"`
	Skipped     int        `json:"skipped"`
	Errored     int        `json:"errored"`
	Status      string     `json:"status"`
}

// MutationUpdate carries the complete set of state-bearing columns written by
// a transition. Callers pass desired final values; the repository overwrites
// all of them in one transaction together with the audit entry.
type MutationUpdate struct {
	State         lifecycle.State
	OmitReason    string
	VerifiedAt    *time.Time
	VerifiedBy    string
	ResidentID    *int64
	PaymentID     *int64
	MatchScore    float64
	MatchStrategy string
}

// MutationFilters defines filters for listing mutations
type MutationFilters struct {
	Year     int    // 0 = all years
	Month    int    // 0 = all months
	Verified *bool  // nil = don't filter
	Matched  *bool  // nil = don't filter
	Omitted  *bool  // nil = don't filter
	State    lifecycle.State
	Search   string // free-text search over description/reference
	Limit    int    // 0 = default 50
	Offset   int
}

// MutationListResult contains paginated mutation results
type MutationListResult struct {
	Mutations  []*BankMutation `json:"mutations"`
	TotalCount int             `json:"total_count"`
	Limit      int             `json:"limit"`
	Offset     int             `json:"offset"`
}

// Stats contains aggregate reconciliation statistics
type Stats struct {
	Total             int             `json:"total"`
	Matched           int             `json:"matched"`
	AutoMatched       int             `json:"auto_matched"`
	Verified          int             `json:"verified"`
	Omitted           int             `json:"omitted"`
	Unmatched         int             `json:"unmatched"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	CategoryBreakdown map[string]int  `json:"category_breakdown"`
	LastUploadAt      *time.Time      `json:"last_upload_at,omitempty"`
}
