package domain

import "time"

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderbookSnapshot is a full snapshot of bids and asks for an asset.
type OrderbookSnapshot struct {
	AssetID   string
	Bids      []PriceLevel
	Asks      []PriceLevel
	BestBid   float64
	BestAsk   float64
	MidPrice  float64
	Timestamp time.Time
}

// Depth returns the total size resting on both sides of the book. The
// liquidity watcher uses it as the level it compares across snapshots.
func (s OrderbookSnapshot) Depth() float64 {
	var total float64
	for _, l := range s.Bids {
		total += l.Size
	}
	for _, l := range s.Asks {
		total += l.Size
	}
	return total
}
