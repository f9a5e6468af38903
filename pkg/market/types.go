package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side of a trade reported by the feed
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Event is a validated trade notification from the activity feed.
// Produced only by ParseTrade; fields are guaranteed present.
type Event struct {
	AssetID         string          `json:"asset"`
	ConditionID     string          `json:"conditionId"`
	Outcome         string          `json:"outcome"`
	Price           decimal.Decimal `json:"price"`
	Size            decimal.Decimal `json:"size"`
	Side            Side            `json:"side"`
	Timestamp       int64           `json:"timestamp"` // unix seconds
	Title           string          `json:"title"`
	Slug            string          `json:"slug"`
	EventSlug       string          `json:"eventSlug"`
	TransactionHash string          `json:"transactionHash"`
}

// Opportunity is the unit of decision derived from an Event
type Opportunity struct {
	AssetID     string
	ConditionID string
	Outcome     string
	Price       decimal.Decimal
	ObservedAt  time.Time
}

// Key identifies the opportunity for claim and cache purposes.
func (o Opportunity) Key() string {
	return o.ConditionID + ":" + o.AssetID
}

func (e Event) Opportunity(observedAt time.Time) Opportunity {
	return Opportunity{
		AssetID:     e.AssetID,
		ConditionID: e.ConditionID,
		Outcome:     e.Outcome,
		Price:       e.Price,
		ObservedAt:  observedAt,
	}
}

// ID returns a stable identifier for audit records. Falls back to the asset
// and timestamp when the feed omits the transaction hash.
func (e Event) ID() string {
	if e.TransactionHash != "" {
		return e.TransactionHash
	}
	return e.AssetID + "@" + time.Unix(e.Timestamp, 0).UTC().Format(time.RFC3339)
}

// Level is one price level of an order book
type Level struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// Book is an order book snapshot for a single asset.
// Level ordering is venue-defined; consumers must not assume best-first.
type Book struct {
	AssetID string  `json:"asset_id"`
	Bids    []Level `json:"bids"`
	Asks    []Level `json:"asks"`
}

// Empty reports whether either side has no levels.
func (b Book) Empty() bool {
	return len(b.Bids) == 0 || len(b.Asks) == 0
}

// BestBid returns the highest bid price, or false if there are no bids.
func (b Book) BestBid() (decimal.Decimal, bool) {
	if len(b.Bids) == 0 {
		return decimal.Zero, false
	}
	best := b.Bids[0].Price
	for _, l := range b.Bids[1:] {
		if l.Price.GreaterThan(best) {
			best = l.Price
		}
	}
	return best, true
}

// BestAsk returns the lowest ask price, or false if there are no asks.
func (b Book) BestAsk() (decimal.Decimal, bool) {
	if len(b.Asks) == 0 {
		return decimal.Zero, false
	}
	best := b.Asks[0].Price
	for _, l := range b.Asks[1:] {
		if l.Price.LessThan(best) {
			best = l.Price
		}
	}
	return best, true
}
