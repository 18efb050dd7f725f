package domain

import "time"

type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// rank orders tiers so escalation is monotonic: high > medium > low.
func (r RiskTier) rank() int {
	switch r {
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// Escalate returns the more severe of the two tiers.
func (r RiskTier) Escalate(other RiskTier) RiskTier {
	if other.rank() > r.rank() {
		return other
	}
	return r
}

type PriceDelta struct {
	ProductID     int64   `json:"product_id"`
	OldPrice      float64 `json:"old_price"`
	NewPrice      float64 `json:"new_price"`
	Delta         float64 `json:"delta"`
	PercentChange float64 `json:"percent_change"`
}

type StockWarning struct {
	ProductID int64 `json:"product_id"`
	Requested int32 `json:"requested"`
	InStock   int32 `json:"in_stock"`
}

// ValidationOutcome is the result of one price/stock validation pass. It is
// created fresh per pass and replaced, never mutated.
//
// Invariant: IsValid is true iff there are no changes, no unavailable lines
// and no stock warnings.
type ValidationOutcome struct {
	IsValid          bool               `json:"is_valid"`
	HasChanges       bool               `json:"has_changes"`
	CorrectedLines   []CorrectedLine    `json:"corrected_lines"`
	PriceDeltas      []PriceDelta       `json:"price_deltas,omitempty"`
	UnavailableLines []CartLineSnapshot `json:"unavailable_lines,omitempty"`
	StockWarnings    []StockWarning     `json:"stock_warnings,omitempty"`
	RiskTier         RiskTier           `json:"risk_tier"`
	FailureReason    string             `json:"failure_reason,omitempty"` // set when authoritative data was unreachable
	EvaluatedAt      time.Time          `json:"evaluated_at"`
}
