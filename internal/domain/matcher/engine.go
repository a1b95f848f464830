package matcher

import (
	"context"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rukunkita/ipl-recon/internal/domain/fuzzy"
	"github.com/rukunkita/ipl-recon/internal/domain/payindex"
)

// Config tunes the matching engine.
type Config struct {
	// Bases are the configured monthly due amounts, in priority order.
	Bases []decimal.Decimal
	// DateWindowDays bounds how far a recorded payment may sit from the
	// transaction date and still corroborate a candidate.
	DateWindowDays int
}

const defaultDateWindowDays = 7

// Engine runs the matching strategies in priority order.
type Engine struct {
	cfg      Config
	external ExternalScorer
	logger   *slog.Logger
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithExternalScorer adds a remote scorer consulted when every local
// strategy comes up empty.
func WithExternalScorer(s ExternalScorer) Option {
	return func(e *Engine) { e.external = s }
}

func NewEngine(cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	if cfg.DateWindowDays <= 0 {
		cfg.DateWindowDays = defaultDateWindowDays
	}
	e := &Engine{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Match tries each strategy against the snapshot and returns the first hit.
// A zero-value Result with Matched false means the transaction stays
// unmatched for manual review.
func (e *Engine) Match(ctx context.Context, in Input, snap Snapshot) Result {
	if r, ok := e.matchByPaymentIndex(in, snap); ok {
		return r
	}
	if r, ok := e.matchByName(in, snap); ok {
		return r
	}
	if r, ok := e.matchByHouse(in, snap); ok {
		return r
	}
	if r, ok := e.matchByExternal(ctx, in, snap); ok {
		return r
	}
	return Result{}
}

// matchByPaymentIndex decodes the unique remainder residents encode into
// their transfer amount. A recorded payment of the same amount near the
// transaction date raises the confidence further.
func (e *Engine) matchByPaymentIndex(in Input, snap Snapshot) (Result, bool) {
	idx, ok := payindex.Extract(in.Amount, e.cfg.Bases)
	if !ok {
		return Result{}, false
	}

	for _, res := range snap.Residents {
		if res.PaymentIndex == nil || *res.PaymentIndex != idx {
			continue
		}

		r := Result{
			Matched:    true,
			ResidentID: res.ID,
			Score:      ScorePaymentIndex,
			Strategy:   StrategyPaymentIndex,
		}
		if p, boost, ok := e.corroboratingPayment(in, res.ID, snap.Payments); ok {
			id := p.ID
			r.PaymentID = &id
			r.Score = corroborate(r.Score, boost)
		}
		return r, true
	}

	e.logger.Debug("payment index extracted but no resident holds it", "index", idx)
	return Result{}, false
}

// corroboratingPayment returns the equal-amount payment closest to the
// transaction date, with the proximity boost it earns.
func (e *Engine) corroboratingPayment(in Input, residentID int64, payments []Payment) (Payment, float64, bool) {
	var best Payment
	bestBoost := 0.0
	for _, p := range payments {
		if p.ResidentID != residentID || !p.Amount.Equal(in.Amount) {
			continue
		}
		if boost := proximityBoost(in.Date.Sub(p.PaidAt), e.cfg.DateWindowDays); boost > bestBoost {
			best, bestBoost = p, boost
		}
	}
	return best, bestBoost, bestBoost > 0
}

// matchByName extracts candidate person names from the description and
// scores them against aliases first, then registered names. The similarity
// floor cuts coincidental near-misses before the source discount applies.
func (e *Engine) matchByName(in Input, snap Snapshot) (Result, bool) {
	names := fuzzy.ExtractNames(in.Description)
	if len(names) == 0 {
		return Result{}, false
	}

	var best Result
	for _, name := range names {
		for _, alias := range snap.Aliases {
			sim := fuzzy.Similarity(name, alias.Alias)
			if sim < fuzzy.SimilarityFloor {
				continue
			}
			factor := FactorUnverifiedAlias
			if alias.Verified {
				factor = FactorVerifiedAlias
			}
			best = better(best, Result{
				Matched:     true,
				ResidentID:  alias.ResidentID,
				Score:       sim * factor,
				Strategy:    StrategyName,
				MatchedName: name,
			})
		}

		for _, res := range snap.Residents {
			sim := fuzzy.NameScore(name, res.Name)
			if sim < fuzzy.SimilarityFloor {
				continue
			}
			best = better(best, Result{
				Matched:     true,
				ResidentID:  res.ID,
				Score:       sim * FactorPrimaryName,
				Strategy:    StrategyName,
				MatchedName: name,
			})
		}
	}

	if !best.Matched {
		return Result{}, false
	}
	if p, boost, ok := e.corroboratingPayment(in, best.ResidentID, snap.Payments); ok {
		id := p.ID
		best.PaymentID = &id
		best.Score = corroborate(best.Score, boost)
	}
	return best, true
}

// matchByHouse falls back to house references like "C11 / 10" when the
// description carries no usable name.
func (e *Engine) matchByHouse(in Input, snap Snapshot) (Result, bool) {
	refs := fuzzy.ExtractHouseRefs(in.Description)
	if len(refs) == 0 {
		return Result{}, false
	}

	var best Result
	for _, ref := range refs {
		for _, res := range snap.Residents {
			resRef, ok := fuzzy.ParseHouseRef(res.Block, res.HouseNumber)
			if !ok {
				continue
			}
			score := fuzzy.AddressScore(ref, resRef)
			if score < 1.0 {
				// A partial address hit is too weak to act on.
				continue
			}
			best = better(best, Result{
				Matched:    true,
				ResidentID: res.ID,
				Score:      ScoreHouseBase * score,
				Strategy:   StrategyHouse,
			})
		}
	}
	return best, best.Matched
}

func (e *Engine) matchByExternal(ctx context.Context, in Input, snap Snapshot) (Result, bool) {
	if e.external == nil {
		return Result{}, false
	}

	residentID, score, err := e.external.Score(ctx, in.Description, in.Amount)
	if err != nil {
		e.logger.Warn("external matcher unavailable", "error", err)
		return Result{}, false
	}
	if residentID == 0 || score <= 0 {
		return Result{}, false
	}
	// The external service must name a resident this snapshot knows.
	for _, res := range snap.Residents {
		if res.ID == residentID {
			if score > 1.0 {
				score = 1.0
			}
			return Result{
				Matched:    true,
				ResidentID: residentID,
				Score:      score,
				Strategy:   StrategyExternal,
			}, true
		}
	}
	e.logger.Warn("external matcher returned unknown resident", "resident_id", residentID)
	return Result{}, false
}

func better(a, b Result) Result {
	if !a.Matched || b.Score > a.Score {
		return b
	}
	return a
}

// ParseBases converts configured due amounts into decimals, skipping
// entries that do not parse.
func ParseBases(raw []string, logger *slog.Logger) []decimal.Decimal {
	bases := make([]decimal.Decimal, 0, len(raw))
	for _, s := range raw {
		d, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil || d.Sign() <= 0 {
			logger.Warn("skipping invalid due base", "value", s)
			continue
		}
		bases = append(bases, d)
	}
	return bases
}
