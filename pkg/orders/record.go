package orders

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrExists            = errors.New("order record already exists")
	ErrNotFound          = errors.New("order record not found")
	ErrInvalidTransition = errors.New("invalid order status transition")
)

// Status is the lifecycle state of an OrderRecord
type Status string

const (
	StatusProcessing Status = "processing" // claimed, exchange call in flight
	StatusPlaced     Status = "placed"     // accepted by the venue, not yet filled
	StatusMatched    Status = "matched"    // filled
	StatusSold       Status = "sold"       // exit order placed against a fill
	StatusFailed     Status = "failed"     // rejected or errored; record is removed
)

// NonTerminal reports whether the record still blocks a new buy on its asset.
func (s Status) NonTerminal() bool {
	return s == StatusProcessing || s == StatusPlaced
}

func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusPlaced, StatusMatched, StatusSold, StatusFailed:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusProcessing: {StatusPlaced, StatusMatched, StatusFailed},
	StatusPlaced:     {StatusMatched, StatusFailed},
	StatusMatched:    {StatusSold},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
// processing -> matched covers venues that fill on submission.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Record is the lifecycle entity for one asset
type Record struct {
	OrderID     string          `json:"orderId,omitempty"`
	AssetID     string          `json:"assetId"`
	ConditionID string          `json:"conditionId"`
	Outcome     string          `json:"outcome"`
	EventSlug   string          `json:"eventSlug,omitempty"`
	Status      Status          `json:"status"`
	Price       decimal.Decimal `json:"price"`
	Size        decimal.Decimal `json:"size"`
	SellOrderID string          `json:"sellOrderId,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Key is the opportunity key the record was claimed under.
func (r Record) Key() string {
	return r.ConditionID + ":" + r.AssetID
}

// Transition returns a copy of r moved to status to, stamped at now.
func (r Record) Transition(to Status, now time.Time) (Record, error) {
	if !CanTransition(r.Status, to) {
		return r, fmt.Errorf("%w: %s -> %s (asset %s)", ErrInvalidTransition, r.Status, to, r.AssetID)
	}
	r.Status = to
	r.UpdatedAt = now
	return r, nil
}

// Store is the single writer of OrderRecord state, keyed by asset.
//
// The store does not enforce lifecycle transitions; Create only refuses to
// overwrite an existing record. Callers hold a guard claim around Create.
type Store interface {
	Create(rec Record) error
	Get(assetID string) (*Record, error) // nil, nil if absent
	Update(rec Record) error
	Delete(assetID string) error
	ExistsNonTerminal(assetID string) (bool, error)
	All() ([]Record, error)
	Close() error
}
