// Package matcher decides which resident a bank transaction belongs to.
//
// Strategies run in a fixed priority order and the first one that produces a
// candidate wins. Every result carries the strategy that produced it and a
// confidence score so the review workflow can tell a near-certain
// payment-index hit from a fuzzy name guess.
package matcher

import (
	"time"

	"github.com/shopspring/decimal"
)

// Strategy identifies how a match was produced.
type Strategy string

const (
	StrategyPaymentIndex Strategy = "PAYMENT_INDEX"
	StrategyName         Strategy = "NAME_MATCH"
	StrategyHouse        Strategy = "HOUSE_MATCH"
	StrategyExternal     Strategy = "EXTERNAL"
	StrategyManual       Strategy = "MANUAL"
	StrategyHistorical   Strategy = "HISTORICAL"
)

// Resident is the matcher's view of a registered resident.
type Resident struct {
	ID           int64
	Name         string
	PaymentIndex *int
	Block        string
	HouseNumber  string
}

// Alias is a previously observed transaction name for a resident.
type Alias struct {
	ResidentID int64
	Alias      string
	Verified   bool
}

// Payment is a recorded dues payment, used to corroborate candidates.
type Payment struct {
	ID         int64
	ResidentID int64
	Amount     decimal.Decimal
	PaidAt     time.Time
}

// Snapshot is the reference data one matching pass runs against. It is
// loaded once per batch so every row in the batch sees the same residents
// and aliases.
type Snapshot struct {
	Residents []Resident
	Aliases   []Alias
	Payments  []Payment
}

// Input is the transaction being matched.
type Input struct {
	Description string
	Amount      decimal.Decimal
	Date        time.Time
}

// Result is the outcome of one matching pass.
type Result struct {
	Matched    bool
	ResidentID int64
	PaymentID  *int64
	Score      float64
	Strategy   Strategy

	// MatchedName is the description fragment that produced a name match,
	// recorded so confirmed matches can reinforce the alias table.
	MatchedName string
}
