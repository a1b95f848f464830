package dto

// VerifyRequest confirms a pending or auto match.
type VerifyRequest struct {
	Actor string `json:"actor"`
	Notes string `json:"notes,omitempty"`
}

// OmitRequest excludes a mutation from reconciliation. Reason is mandatory.
type OmitRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

// RestoreRequest brings an omitted mutation back to the review queue.
type RestoreRequest struct {
	Actor string `json:"actor"`
}

// MatchRequest assigns a resident by hand.
type MatchRequest struct {
	ResidentID int64  `json:"resident_id"`
	PaymentID  *int64 `json:"payment_id,omitempty"`
	Actor      string `json:"actor"`
	Verified   bool   `json:"verified"`
}

// AutoVerifyRequest bulk-confirms auto matches for one statement period.
type AutoVerifyRequest struct {
	Year  int    `json:"year"`
	Month int    `json:"month"`
	Actor string `json:"actor"`
}
