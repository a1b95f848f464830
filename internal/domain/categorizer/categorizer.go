// Package categorizer classifies bank statement transactions by keyword
// rules before any resident matching happens.
//
// Rules run in priority order; the first one that fires decides the
// category, a confidence reflecting rule specificity, and whether the
// transaction should be omitted from matching entirely (deposits, bank
// admin fees, and all debits are never resident dues).
package categorizer

import "strings"

// Category is the transaction classification.
type Category string

const (
	CategoryIPL      Category = "IPL"
	CategoryTHR      Category = "THR"
	CategoryDonation Category = "DONATION"
	CategoryAdminFee Category = "ADMIN_FEE"
	CategoryDeposit  Category = "DEPOSIT"
	CategoryOther    Category = "OTHER"
)

// Result is the categorization decision for one transaction.
type Result struct {
	Category   Category
	Confidence float64
	ShouldOmit bool
	Reason     string
}

// Keyword vocabularies as they appear in Indonesian bank statement text.
var (
	depositKeywords = []string{"RENOVASI", "RENOV", "DEPOSIT", "TITIPAN", "JAMINAN", "REFUNDABLE"}
	adminKeywords   = []string{"BIAYA ADM", "ADM ", "ADMIN", "BUNGA", "PAJAK BUNGA", "CHG", "FEE"}
	duesKeywords    = []string{"IPL", "IURAN", "ANGSURAN", "KAS ", "BULANAN", "BAYAR", "BYR", "TAGIHAN"}
	holidayKeywords = []string{"THR", "HARI RAYA", "LEBARAN", "IDUL FITRI"}
	donateKeywords  = []string{"SUMBANGAN", "DONASI", "INFAQ", "SEDEKAH", "DANA SOSIAL"}
)

// Categorize classifies a transaction description. Debit transactions are
// always "other" and omitted: money leaving the account is never a
// resident due.
func Categorize(description string, isDebit bool) Result {
	if isDebit {
		return Result{
			Category:   CategoryOther,
			Confidence: 0.9,
			ShouldOmit: true,
			Reason:     "debit transaction",
		}
	}

	desc := strings.ToUpper(description)

	if kw, ok := containsAny(desc, depositKeywords); ok {
		return Result{
			Category:   CategoryDeposit,
			Confidence: 0.85,
			ShouldOmit: true,
			Reason:     "deposit keyword: " + kw,
		}
	}

	if kw, ok := containsAny(desc, adminKeywords); ok {
		return Result{
			Category:   CategoryAdminFee,
			Confidence: 0.85,
			ShouldOmit: true,
			Reason:     "admin fee keyword: " + kw,
		}
	}

	if _, ok := containsAny(desc, duesKeywords); ok {
		return Result{Category: CategoryIPL, Confidence: 0.8}
	}

	if _, ok := containsAny(desc, holidayKeywords); ok {
		return Result{Category: CategoryTHR, Confidence: 0.75}
	}

	if _, ok := containsAny(desc, donateKeywords); ok {
		return Result{Category: CategoryDonation, Confidence: 0.75}
	}

	// Credit with no keyword match: keep it visible for matching, at low
	// confidence.
	return Result{Category: CategoryOther, Confidence: 0.5}
}

func containsAny(desc string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if strings.Contains(desc, kw) {
			return strings.TrimSpace(kw), true
		}
	}
	return "", false
}
