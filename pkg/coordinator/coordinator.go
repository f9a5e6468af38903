package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/updownbot/pkg/audit"
	"github.com/uhyunpark/updownbot/pkg/dedup"
	"github.com/uhyunpark/updownbot/pkg/exchange"
	"github.com/uhyunpark/updownbot/pkg/guard"
	"github.com/uhyunpark/updownbot/pkg/market"
	"github.com/uhyunpark/updownbot/pkg/orders"
	"github.com/uhyunpark/updownbot/pkg/rules"
	"github.com/uhyunpark/updownbot/pkg/stream"
	"github.com/uhyunpark/updownbot/pkg/util"
)

// Skip reasons produced by the pipeline itself rather than the evaluator
const (
	reasonDuplicate  = "duplicate"
	reasonClaimed    = "claimed"
	reasonUntradable = "untradable_price"
)

type Config struct {
	// Processing records older than this are treated as abandoned
	ProcessingGrace    time.Duration
	CleanupInterval    time.Duration
	StatusPollInterval time.Duration
	HourlyRollover     bool
}

// Deps is the coordination context. Each Coordinator owns its own cache and
// guard; nothing here is a package-level global.
type Deps struct {
	Cache     *dedup.Cache
	Guard     *guard.Guard
	Store     orders.Store
	Evaluator *rules.Evaluator
	Matcher   *rules.Matcher
	Exchange  exchange.Exchange
	Sink      audit.Sink
	Clock     util.Clock
	Logger    *zap.SugaredLogger
}

// Coordinator runs the per-event pipeline: normalize, match, dedup,
// evaluate, claim, place, record, release.
type Coordinator struct {
	cache    *dedup.Cache
	guard    *guard.Guard
	store    orders.Store
	eval     *rules.Evaluator
	matcher  *rules.Matcher
	exchange exchange.Exchange
	sink     audit.Sink
	clock    util.Clock
	logger   *zap.SugaredLogger
	cfg      Config

	// OnRollover runs after the hourly reset, e.g. to reconnect the feed
	OnRollover func()

	wg sync.WaitGroup
}

func New(deps Deps, cfg Config) *Coordinator {
	if deps.Cache == nil {
		deps.Cache = dedup.New(dedup.DefaultCapacity)
	}
	if deps.Guard == nil {
		deps.Guard = guard.New()
	}
	if deps.Sink == nil {
		deps.Sink = audit.NopSink{}
	}
	if deps.Clock == nil {
		deps.Clock = util.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if cfg.ProcessingGrace <= 0 {
		cfg.ProcessingGrace = 2 * time.Minute
	}
	return &Coordinator{
		cache:    deps.Cache,
		guard:    deps.Guard,
		store:    deps.Store,
		eval:     deps.Evaluator,
		matcher:  deps.Matcher,
		exchange: deps.Exchange,
		sink:     deps.Sink,
		clock:    deps.Clock,
		logger:   deps.Logger,
		cfg:      cfg,
	}
}

// HandleMessage is the stream entry point. Malformed payloads are logged and
// dropped.
func (c *Coordinator) HandleMessage(ctx context.Context, msg stream.Message) {
	ev, err := market.ParseTrade(msg.Payload)
	if err != nil {
		c.logger.Debugw("event_dropped", "topic", msg.Topic, "type", msg.Type, "err", err)
		return
	}
	c.Handle(ctx, ev)
}

// Dispatch runs HandleMessage on its own goroutine. The pipeline is detached
// from ctx cancellation so a submission in flight always records its outcome.
func (c *Coordinator) Dispatch(ctx context.Context, msg stream.Message) {
	ctx = context.WithoutCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.HandleMessage(ctx, msg)
	}()
}

// Wait blocks until every dispatched pipeline has finished
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Handle runs the pipeline for one validated event
func (c *Coordinator) Handle(ctx context.Context, ev market.Event) {
	now := c.clock.Now()
	op := ev.Opportunity(now)

	instr, reason := c.matcher.Match(ev, now)
	if reason != rules.ReasonOK {
		c.logger.Debugw("event_ignored",
			"asset", ev.AssetID,
			"slug", ev.EventSlug,
			"reason", reason)
		return
	}

	rec, err := c.store.Get(op.AssetID)
	if err != nil {
		c.logger.Errorw("store_get_failed", "asset", op.AssetID, "err", err)
		return
	}
	if rec != nil {
		c.handleExisting(ctx, ev, op, instr, rec)
		return
	}

	c.buy(ctx, ev, op, instr)
}

func (c *Coordinator) minute(now time.Time) int {
	return now.In(c.matcher.Location()).Minute()
}

func (c *Coordinator) buy(ctx context.Context, ev market.Event, op market.Opportunity, instr rules.Instruction) {
	key := op.Key()
	if c.cache.Has(key) {
		c.logger.Debugw("buy_skipped", "asset", op.AssetID, "reason", reasonDuplicate)
		return
	}

	if err := exchange.ValidatePrice(rules.ClampPrice(op.Price)); err != nil {
		c.logger.Debugw("buy_skipped", "asset", op.AssetID, "price", op.Price, "reason", reasonUntradable)
		return
	}

	hasActive, err := c.store.ExistsNonTerminal(op.AssetID)
	if err != nil {
		c.logger.Errorw("store_check_failed", "asset", op.AssetID, "err", err)
		return
	}

	d, err := c.eval.EvaluateBuy(ctx, op, instr, c.minute(op.ObservedAt), hasActive)
	if err != nil {
		c.logger.Warnw("buy_skipped",
			"asset", op.AssetID,
			"condition", op.ConditionID,
			"price", op.Price,
			"reason", d.Reason,
			"err", err)
		c.emit(ev, audit.BuySkipped, string(d.Reason))
		return
	}
	if d.Action != rules.ActionBuy {
		c.logger.Debugw("buy_skipped",
			"asset", op.AssetID,
			"price", op.Price,
			"reason", d.Reason)
		if d.Reason != rules.ReasonBelowThreshold && d.Reason != rules.ReasonOutsideWindow {
			c.emit(ev, audit.BuySkipped, string(d.Reason))
		}
		return
	}

	if !c.guard.Claim(key) {
		c.logger.Infow("buy_skipped", "asset", op.AssetID, "reason", reasonClaimed)
		c.emit(ev, audit.BuySkipped, reasonClaimed)
		return
	}
	success := false
	defer func() { c.guard.Release(key, success) }()

	now := c.clock.Now()
	rec := orders.Record{
		AssetID:     op.AssetID,
		ConditionID: op.ConditionID,
		Outcome:     op.Outcome,
		EventSlug:   ev.EventSlug,
		Status:      orders.StatusProcessing,
		Price:       d.Price,
		Size:        d.Size,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.store.Create(rec); err != nil {
		if errors.Is(err, orders.ErrExists) {
			c.logger.Infow("buy_skipped", "asset", op.AssetID, "reason", rules.ReasonActiveOrder)
			return
		}
		c.logger.Errorw("store_create_failed", "asset", op.AssetID, "err", err)
		return
	}

	c.logger.Infow("buy_attempted",
		"asset", op.AssetID,
		"condition", op.ConditionID,
		"outcome", op.Outcome,
		"observed", op.Price,
		"price", d.Price,
		"size", d.Size,
		"best_bid", d.BestBid)
	c.emit(ev, audit.BuyAttempted, "")

	res, err := c.exchange.PlaceOrder(ctx, op.AssetID, d.Price, d.Size)
	status := exchange.MapStatus(res.Status)
	if err == nil && (!res.Success || status == orders.StatusFailed) {
		err = exchange.ErrRejected
	}
	if err != nil {
		c.logger.Errorw("buy_failed",
			"asset", op.AssetID,
			"condition", op.ConditionID,
			"price", d.Price,
			"size", d.Size,
			"err", err)
		if derr := c.store.Delete(op.AssetID); derr != nil {
			c.logger.Errorw("store_delete_failed", "asset", op.AssetID, "err", derr)
		}
		c.emit(ev, audit.BuyFailed, err.Error())
		return
	}

	rec.OrderID = res.OrderID
	next, err := rec.Transition(status, c.clock.Now())
	if err != nil {
		// The order is live at the venue; the key stays processed
		c.logger.Errorw("transition_failed", "asset", op.AssetID, "order", res.OrderID, "to", status, "err", err)
		success = true
		return
	}
	if err := c.store.Update(next); err != nil {
		c.logger.Errorw("store_update_failed", "asset", op.AssetID, "order", res.OrderID, "err", err)
	}
	success = true

	if !c.cache.CheckAndAdd(key) {
		c.logger.Warnw("cache_already_present", "key", key)
	}

	c.logger.Infow("buy_placed",
		"asset", op.AssetID,
		"order", res.OrderID,
		"status", next.Status,
		"price", d.Price)
	c.emit(ev, audit.BuyPlaced, string(next.Status))
}

// handleExisting routes an event for an asset that already has a record:
// placed orders get a status refresh, matched positions a stop-loss check,
// and an abandoned processing record is cleared so the event can buy.
func (c *Coordinator) handleExisting(ctx context.Context, ev market.Event, op market.Opportunity, instr rules.Instruction, rec *orders.Record) {
	switch rec.Status {
	case orders.StatusProcessing:
		age := c.clock.Now().Sub(rec.UpdatedAt)
		if age < c.cfg.ProcessingGrace || c.guard.IsInFlight(rec.Key()) {
			c.logger.Debugw("buy_skipped", "asset", op.AssetID, "reason", rules.ReasonActiveOrder)
			return
		}
		if err := c.store.Delete(rec.AssetID); err != nil {
			c.logger.Errorw("store_delete_failed", "asset", rec.AssetID, "err", err)
			return
		}
		c.logger.Warnw("stale_processing_cleared", "asset", rec.AssetID, "age", age)
		c.buy(ctx, ev, op, instr)
		return
	case orders.StatusSold:
		return
	case orders.StatusPlaced:
		refreshed, err := c.refresh(ctx, *rec)
		if err != nil {
			c.logger.Warnw("status_refresh_failed", "asset", rec.AssetID, "order", rec.OrderID, "err", err)
			return
		}
		if refreshed == nil || refreshed.Status != orders.StatusMatched {
			return
		}
		rec = refreshed
	case orders.StatusFailed:
		if err := c.store.Delete(rec.AssetID); err != nil {
			c.logger.Errorw("store_delete_failed", "asset", rec.AssetID, "err", err)
		}
		return
	}

	c.sell(ctx, ev, op, rec)
}

// refresh polls the venue for a placed order. It returns the updated
// record, or nil if the order failed and its record was removed.
func (c *Coordinator) refresh(ctx context.Context, rec orders.Record) (*orders.Record, error) {
	if rec.OrderID == "" {
		return &rec, nil
	}
	key := "refresh:" + rec.Key()
	if !c.guard.Claim(key) {
		return &rec, nil
	}
	defer c.guard.Release(key, false)

	venue, err := c.exchange.OrderStatus(ctx, rec.OrderID)
	if err != nil {
		return nil, err
	}
	status := exchange.MapStatus(venue)
	if status == rec.Status {
		return &rec, nil
	}

	c.logger.Infow("status_changed",
		"asset", rec.AssetID,
		"order", rec.OrderID,
		"from", rec.Status,
		"to", status,
		"venue", venue)

	if status == orders.StatusFailed {
		if err := c.store.Delete(rec.AssetID); err != nil {
			return nil, err
		}
		c.sink.Emit(c.recordFor(rec, audit.StatusChanged, string(status)))
		return nil, nil
	}

	next, err := rec.Transition(status, c.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := c.store.Update(next); err != nil {
		return nil, err
	}
	c.sink.Emit(c.recordFor(next, audit.StatusChanged, string(status)))
	return &next, nil
}

func (c *Coordinator) sell(ctx context.Context, ev market.Event, op market.Opportunity, rec *orders.Record) {
	d := c.eval.EvaluateSell(op, rec, c.minute(op.ObservedAt))
	if d.Action != rules.ActionSell {
		c.logger.Debugw("sell_skipped", "asset", op.AssetID, "price", op.Price, "reason", d.Reason)
		return
	}

	key := "sell:" + op.Key()
	if !c.guard.Claim(key) {
		return
	}
	success := false
	defer func() { c.guard.Release(key, success) }()

	c.logger.Infow("sell_attempted",
		"asset", op.AssetID,
		"condition", op.ConditionID,
		"price", d.Price,
		"size", d.Size)
	c.emit(ev, audit.SellAttempted, "")

	res, err := c.exchange.Sell(ctx, op.AssetID, d.Price, d.Size)
	if err == nil && !res.Success {
		err = exchange.ErrRejected
	}
	if err != nil {
		c.logger.Errorw("sell_failed",
			"asset", op.AssetID,
			"condition", op.ConditionID,
			"price", d.Price,
			"err", err)
		c.emit(ev, audit.SellFailed, err.Error())
		return
	}

	next, err := rec.Transition(orders.StatusSold, c.clock.Now())
	if err != nil {
		c.logger.Errorw("transition_failed", "asset", op.AssetID, "err", err)
		return
	}
	next.SellOrderID = res.OrderID
	if err := c.store.Update(next); err != nil {
		c.logger.Errorw("store_update_failed", "asset", op.AssetID, "err", err)
		return
	}
	success = true

	c.logger.Infow("sell_placed", "asset", op.AssetID, "order", res.OrderID, "price", d.Price)
	c.emit(ev, audit.SellPlaced, "")
}

func (c *Coordinator) emit(ev market.Event, d audit.Decision, reason string) {
	c.sink.Emit(audit.FromEvent(ev, d, reason, c.clock.Now()))
}

func (c *Coordinator) recordFor(rec orders.Record, d audit.Decision, reason string) audit.Record {
	ev := market.Event{
		AssetID:     rec.AssetID,
		ConditionID: rec.ConditionID,
		Outcome:     rec.Outcome,
		Price:       rec.Price,
		EventSlug:   rec.EventSlug,
		Timestamp:   rec.UpdatedAt.Unix(),
	}
	return audit.FromEvent(ev, d, reason, c.clock.Now())
}
