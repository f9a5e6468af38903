package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/updownbot/pkg/market"
	"github.com/uhyunpark/updownbot/pkg/orders"
)

var (
	ErrInvalidPrice = errors.New("price outside tradable range")
	ErrRejected     = errors.New("order rejected by venue")
)

var (
	MinPrice = decimal.RequireFromString("0.01")
	MaxPrice = decimal.RequireFromString("0.99") // exclusive
)

// PlaceResult is the venue's answer to an order submission.
// OrderID is opaque to the caller.
type PlaceResult struct {
	Success  bool   `json:"success"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"`
	ErrorMsg string `json:"errorMsg"`
}

// Exchange is everything the coordinator needs from the venue
type Exchange interface {
	PlaceOrder(ctx context.Context, assetID string, price, size decimal.Decimal) (PlaceResult, error)
	Sell(ctx context.Context, assetID string, price, size decimal.Decimal) (PlaceResult, error)
	OrderStatus(ctx context.Context, orderID string) (string, error)
	Book(ctx context.Context, assetID string) (market.Book, error)
}

// ValidatePrice rejects prices the venue would refuse: below 0.01 or at or
// above 0.99. This also excludes anything outside (0, 1).
func ValidatePrice(p decimal.Decimal) error {
	if p.LessThan(MinPrice) || p.GreaterThanOrEqual(MaxPrice) {
		return fmt.Errorf("%w: %s not in [%s, %s)", ErrInvalidPrice, p, MinPrice, MaxPrice)
	}
	return nil
}

// MapStatus translates the venue's order status vocabulary. Unknown values
// map to placed so an unrecognized state never frees the asset for a rebuy.
func MapStatus(venue string) orders.Status {
	switch strings.ToUpper(strings.TrimSpace(venue)) {
	case "MATCHED", "FILLED", "MINED", "CONFIRMED":
		return orders.StatusMatched
	case "CANCELED", "CANCELLED", "EXPIRED", "REJECTED", "FAILED", "INVALID":
		return orders.StatusFailed
	default:
		return orders.StatusPlaced
	}
}
