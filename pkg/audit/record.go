package audit

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/updownbot/pkg/market"
)

// Decision labels what the pipeline did with an event
type Decision string

const (
	BuyAttempted  Decision = "buy_attempted"
	BuyPlaced     Decision = "buy_placed"
	BuyFailed     Decision = "buy_failed"
	BuySkipped    Decision = "buy_skipped"
	SellAttempted Decision = "sell_attempted"
	SellPlaced    Decision = "sell_placed"
	SellFailed    Decision = "sell_failed"
	StatusChanged Decision = "status_changed"
)

// Record is one audit entry. Field names follow the trade sheet schema.
type Record struct {
	ID        string          `json:"id"`
	EventID   string          `json:"eventId"`
	Asset     string          `json:"asset"`
	Coin      string          `json:"coin"`
	Price     decimal.Decimal `json:"price"`
	Event     string          `json:"event"`
	Outcome   string          `json:"outcome"`
	URL       string          `json:"url"`
	Decision  Decision        `json:"decision"`
	Reason    string          `json:"reason,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// FromEvent builds a record for ev with a fresh id. Event is the formatted
// market title, or the event slug when the feed sent no title.
func FromEvent(ev market.Event, d Decision, reason string, at time.Time) Record {
	event := market.FormatTitle(ev.Title)
	if event == "" {
		event = ev.EventSlug
	}
	return Record{
		ID:        uuid.NewString(),
		EventID:   ev.ID(),
		Asset:     ev.AssetID,
		Coin:      market.CoinFromSlug(ev.EventSlug),
		Price:     ev.Price,
		Event:     event,
		Outcome:   ev.Outcome,
		URL:       market.EventURL(ev.EventSlug),
		Decision:  d,
		Reason:    reason,
		Timestamp: at,
	}
}
