// Package payindex recovers the short numeric resident identifier that
// residents append to their transfer amount to self-identify.
//
// A transfer of 250087 against a monthly due of 250000 encodes payment
// index 87: the remainder after dividing out whole due periods.
package payindex

import "github.com/shopspring/decimal"

const (
	// MinIndex and MaxIndex bound a plausible payment index. Remainders
	// outside this range are treated as noise (rounding, bank fees).
	MinIndex = 10
	MaxIndex = 9999
)

// Extract recovers a payment index from a transaction amount given the
// configured base due amounts, tried in order. It returns the first valid
// index, or false when no base yields one. Extraction is deterministic and
// pure.
func Extract(amount decimal.Decimal, bases []decimal.Decimal) (int, bool) {
	if amount.Sign() <= 0 {
		return 0, false
	}

	for _, base := range bases {
		if base.Sign() <= 0 {
			continue
		}

		periods := amount.Div(base).Floor()
		if periods.Sign() <= 0 {
			// The amount covers no whole due period for this base.
			continue
		}

		remainder := amount.Sub(periods.Mul(base))
		if !remainder.Equal(remainder.Floor()) {
			// Fractional remainders cannot be a payment index.
			continue
		}

		idx := remainder.IntPart()
		if idx >= MinIndex && idx <= MaxIndex {
			return int(idx), true
		}
	}

	return 0, false
}
