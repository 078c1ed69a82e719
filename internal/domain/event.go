package domain

import "time"

// Event represents a Polymarket event, the grouping level above markets.
// Events are mirrored locally and keyed by their remote Gamma ID.
type Event struct {
	ID          string // remote Gamma ID, natural key
	Ticker      string
	Slug        string
	Title       string
	Description string
	Active      bool
	Closed      bool
	Archived    bool
	Liquidity   float64
	Volume      float64
	Tags        []string
	StartDate   *time.Time
	EndDate     *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NaturalKey returns the identity used for idempotent upserts.
func (e Event) NaturalKey() string { return e.ID }

// Validate reports whether the event carries the fields the mirror requires.
func (e Event) Validate() error {
	if e.ID == "" {
		return &ValidationError{Entity: "event", Missing: []string{"id"}}
	}
	return nil
}
