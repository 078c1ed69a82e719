package domain

import "time"

// Market represents a Polymarket prediction market mirrored locally.
// The slug is the natural key: the mirror enforces a unique index on it
// and all upserts resolve conflicts against it.
type Market struct {
	ID              string // remote ID
	Slug            string // natural key
	EventID         string
	Question        string
	ConditionID     string
	Outcomes        []string // e.g. ["Yes","No"]
	OutcomePrices   []float64
	TokenIDs        []string // ERC-1155 token IDs (76-digit strings)
	Liquidity       float64
	Volume          float64
	Active          bool
	Closed          bool
	Archived        bool
	AcceptingOrders bool
	NegRisk         bool
	StartDate       *time.Time
	EndDate         *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NaturalKey returns the identity used for idempotent upserts.
func (m Market) NaturalKey() string { return m.Slug }

// Validate reports whether the market carries the fields the mirror
// requires. Records missing question or slug are rejected individually
// without failing the batch they arrived in.
func (m Market) Validate() error {
	var missing []string
	if m.Question == "" {
		missing = append(missing, "question")
	}
	if m.Slug == "" {
		missing = append(missing, "slug")
	}
	if len(missing) > 0 {
		return &ValidationError{Entity: "market", Missing: missing}
	}
	return nil
}

// TokenForOutcome returns the CLOB token ID for the given outcome label,
// or the empty string when the outcome is unknown.
func (m Market) TokenForOutcome(outcome string) string {
	for i, o := range m.Outcomes {
		if o == outcome && i < len(m.TokenIDs) {
			return m.TokenIDs[i]
		}
	}
	return ""
}
