package matcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// ExternalScorer asks an out-of-process service to score a transaction. It
// is a last-resort strategy and failures are treated as a non-match.
type ExternalScorer interface {
	Score(ctx context.Context, description string, amount decimal.Decimal) (residentID int64, score float64, err error)
}

// HTTPScorer calls a remote matcher over JSON.
type HTTPScorer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPScorer(baseURL string, timeout time.Duration) *HTTPScorer {
	return &HTTPScorer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type scoreRequest struct {
	Description string `json:"description"`
	Amount      string `json:"amount"`
}

type scoreResponse struct {
	ResidentID int64   `json:"resident_id"`
	Score      float64 `json:"score"`
}

func (s *HTTPScorer) Score(ctx context.Context, description string, amount decimal.Decimal) (int64, float64, error) {
	body, err := json.Marshal(scoreRequest{Description: description, Amount: amount.String()})
	if err != nil {
		return 0, 0, fmt.Errorf("encoding score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("building score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("calling external matcher: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("external matcher returned status %d", resp.StatusCode)
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, 0, fmt.Errorf("decoding score response: %w", err)
	}
	return out.ResidentID, out.Score, nil
}
