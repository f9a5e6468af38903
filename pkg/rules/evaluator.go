package rules

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/updownbot/pkg/market"
	"github.com/uhyunpark/updownbot/pkg/orders"
)

// Action is what the pipeline should do with an opportunity
type Action string

const (
	ActionNone Action = "none"
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// Reason explains a decision; every skip carries a distinct one
type Reason string

const (
	ReasonOK              Reason = "ok"
	ReasonNoInstruction   Reason = "no_instruction"
	ReasonNotCurrentHour  Reason = "not_current_hour"
	ReasonBelowThreshold  Reason = "below_threshold"
	ReasonOutsideWindow   Reason = "outside_window"
	ReasonActiveOrder     Reason = "active_order"
	ReasonNoLiquidity     Reason = "no_liquidity"
	ReasonBidBelowFloor   Reason = "bid_below_floor"
	ReasonBookUnavailable Reason = "book_unavailable"
	ReasonNotMatched      Reason = "not_matched"
	ReasonAboveStopLoss   Reason = "above_stop_loss"
	ReasonBeforeStopLoss  Reason = "before_stop_loss_minute"
)

// Decision is the evaluator's output
type Decision struct {
	Action  Action
	Price   decimal.Decimal // price to submit
	Size    decimal.Decimal
	Reason  Reason
	BestBid decimal.Decimal // set when the book was consulted
}

func none(r Reason) Decision { return Decision{Action: ActionNone, Reason: r} }

var (
	clampHighLo = decimal.RequireFromString("0.96")
	clampHighHi = decimal.RequireFromString("0.99")
	clampHighTo = decimal.RequireFromString("0.95")
	clampMidLo  = decimal.RequireFromString("0.90")
	clampMidHi  = decimal.RequireFromString("0.95") // exclusive
	clampMidTo  = decimal.RequireFromString("0.90")
)

// ClampPrice snaps prices near the top of the book down so a buy does not
// cross the spread: [0.96, 0.99] -> 0.95, [0.90, 0.95) -> 0.90.
func ClampPrice(p decimal.Decimal) decimal.Decimal {
	switch {
	case p.GreaterThanOrEqual(clampHighLo) && p.LessThanOrEqual(clampHighHi):
		return clampHighTo
	case p.GreaterThanOrEqual(clampMidLo) && p.LessThan(clampMidHi):
		return clampMidTo
	default:
		return p
	}
}

// Evaluate applies the buy rule without consulting the book.
// Threshold equality qualifies; the minute must be strictly after the offset.
func Evaluate(op market.Opportunity, in Instruction, clockMinutes int, hasActive bool) Decision {
	if op.Price.LessThan(in.BuyPriceThreshold) {
		return none(ReasonBelowThreshold)
	}
	if clockMinutes <= in.MinutesOffset {
		return none(ReasonOutsideWindow)
	}
	if hasActive {
		return none(ReasonActiveOrder)
	}
	return Decision{
		Action: ActionBuy,
		Price:  ClampPrice(op.Price),
		Size:   in.OrderSize,
		Reason: ReasonOK,
	}
}

// BookSource fetches an order book snapshot
type BookSource interface {
	Book(ctx context.Context, assetID string) (market.Book, error)
}

// Evaluator combines the pure rules with the venue's book and the stop-loss
// parameters.
type Evaluator struct {
	Books          BookSource
	BidFloor       decimal.Decimal
	SellThreshold  decimal.Decimal
	StopLossMinute int
	Logger         *zap.SugaredLogger
}

// EvaluateBuy runs Evaluate and, if it says buy, requires a two-sided book
// whose best bid is at or above BidFloor.
func (e *Evaluator) EvaluateBuy(ctx context.Context, op market.Opportunity, in Instruction, clockMinutes int, hasActive bool) (Decision, error) {
	d := Evaluate(op, in, clockMinutes, hasActive)
	if d.Action != ActionBuy {
		return d, nil
	}

	book, err := e.Books.Book(ctx, op.AssetID)
	if err != nil {
		return none(ReasonBookUnavailable), fmt.Errorf("failed to fetch book for %s: %w", op.AssetID, err)
	}
	if book.Empty() {
		e.Logger.Warnw("book_empty",
			"asset", op.AssetID,
			"condition", op.ConditionID,
			"bids", len(book.Bids),
			"asks", len(book.Asks))
		return none(ReasonNoLiquidity), nil
	}

	bid, _ := book.BestBid()
	d.BestBid = bid
	if bid.LessThan(e.BidFloor) {
		return Decision{Action: ActionNone, Reason: ReasonBidBelowFloor, BestBid: bid}, nil
	}
	return d, nil
}

// EvaluateSell applies the stop-loss: only a matched position, priced below
// SellThreshold, after StopLossMinute.
func (e *Evaluator) EvaluateSell(op market.Opportunity, rec *orders.Record, clockMinutes int) Decision {
	if rec == nil || rec.Status != orders.StatusMatched {
		return none(ReasonNotMatched)
	}
	if !op.Price.LessThan(e.SellThreshold) {
		return none(ReasonAboveStopLoss)
	}
	if clockMinutes <= e.StopLossMinute {
		return none(ReasonBeforeStopLoss)
	}
	return Decision{
		Action: ActionSell,
		Price:  op.Price.Round(2),
		Size:   rec.Size,
		Reason: ReasonOK,
	}
}
