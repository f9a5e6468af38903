package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/uhyunpark/updownbot/pkg/orders"
	"github.com/uhyunpark/updownbot/pkg/rules"
)

// ReloadResult counts what Reload did with each persisted record
type ReloadResult struct {
	Restored  int `json:"restored"`
	Abandoned int `json:"abandoned"`
	Pending   int `json:"pending"`
}

// Reload rebuilds guard and cache state from the store after a restart.
// Processing records past the grace window are abandoned and removed so the
// asset can be retried; placed, matched and sold records mark their key
// processed.
func (c *Coordinator) Reload(ctx context.Context) (ReloadResult, error) {
	var res ReloadResult

	recs, err := c.store.All()
	if err != nil {
		return res, fmt.Errorf("failed to load order records: %w", err)
	}

	now := c.clock.Now()
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		switch rec.Status {
		case orders.StatusProcessing:
			if now.Sub(rec.UpdatedAt) < c.cfg.ProcessingGrace {
				res.Pending++
				continue
			}
			if err := c.store.Delete(rec.AssetID); err != nil {
				return res, fmt.Errorf("failed to clear abandoned record %s: %w", rec.AssetID, err)
			}
			res.Abandoned++
			c.logger.Warnw("abandoned_processing_cleared",
				"asset", rec.AssetID,
				"condition", rec.ConditionID,
				"age", now.Sub(rec.UpdatedAt))
		case orders.StatusFailed:
			if err := c.store.Delete(rec.AssetID); err != nil {
				return res, err
			}
		default:
			c.guard.MarkProcessed(rec.Key())
			c.cache.Add(rec.Key())
			res.Restored++
		}
	}

	c.logger.Infow("state_reloaded",
		"records", len(recs),
		"restored", res.Restored,
		"abandoned", res.Abandoned,
		"pending", res.Pending)
	return res, nil
}

// CleanupStale removes processing records older than the grace window whose
// claim is no longer held. It returns the number removed.
func (c *Coordinator) CleanupStale() (int, error) {
	recs, err := c.store.All()
	if err != nil {
		return 0, err
	}

	now := c.clock.Now()
	removed := 0
	for _, rec := range recs {
		if rec.Status != orders.StatusProcessing || now.Sub(rec.UpdatedAt) < c.cfg.ProcessingGrace {
			continue
		}
		if c.guard.IsInFlight(rec.Key()) {
			continue
		}
		if err := c.store.Delete(rec.AssetID); err != nil {
			return removed, err
		}
		removed++
		c.logger.Warnw("stale_processing_cleared", "asset", rec.AssetID, "age", now.Sub(rec.UpdatedAt))
	}
	return removed, nil
}

// RefreshStatuses polls the venue for every placed order
func (c *Coordinator) RefreshStatuses(ctx context.Context) error {
	recs, err := c.store.All()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if rec.Status != orders.StatusPlaced {
			continue
		}
		if _, err := c.refresh(ctx, rec); err != nil {
			c.logger.Warnw("status_refresh_failed", "asset", rec.AssetID, "order", rec.OrderID, "err", err)
		}
	}
	return nil
}

// Rollover forgets processed keys and cached ids at the top of the hour,
// restores the ones still backed by a record, and calls OnRollover.
func (c *Coordinator) Rollover(ctx context.Context) error {
	c.guard.ResetProcessed()
	c.cache.Reset()
	if _, err := c.Reload(ctx); err != nil {
		return err
	}
	c.logger.Infow("hourly_rollover")
	if c.OnRollover != nil {
		c.OnRollover()
	}
	return nil
}

// RunMaintenance runs cache cleanup, stale-record cleanup, status polling and
// the hourly rollover until ctx is done.
func (c *Coordinator) RunMaintenance(ctx context.Context) error {
	cleanup := time.NewTicker(interval(c.cfg.CleanupInterval, time.Minute))
	defer cleanup.Stop()
	poll := time.NewTicker(interval(c.cfg.StatusPollInterval, 10*time.Second))
	defer poll.Stop()

	var hour <-chan time.Time
	if c.cfg.HourlyRollover {
		hour = c.clock.After(untilNextHour(c.clock.Now()))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-cleanup.C:
			if c.cache.Cleanup() {
				c.logger.Infow("cache_cleared", "capacity", c.cache.Cap())
			}
			if _, err := c.CleanupStale(); err != nil {
				c.logger.Errorw("stale_cleanup_failed", "err", err)
			}
		case <-poll.C:
			if err := c.RefreshStatuses(ctx); err != nil {
				c.logger.Errorw("status_poll_failed", "err", err)
			}
		case <-hour:
			if err := c.Rollover(ctx); err != nil {
				c.logger.Errorw("rollover_failed", "err", err)
			}
			hour = c.clock.After(untilNextHour(c.clock.Now()))
		}
	}
}

func interval(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func untilNextHour(now time.Time) time.Duration {
	return now.Truncate(time.Hour).Add(time.Hour).Sub(now)
}

// Stats is a snapshot of coordinator state
type Stats struct {
	CacheSize     int                   `json:"cacheSize"`
	CacheCapacity int                   `json:"cacheCapacity"`
	Processed     int                   `json:"processed"`
	InFlight      int                   `json:"inFlight"`
	Orders        map[orders.Status]int `json:"orders"`
}

func (c *Coordinator) Stats() (Stats, error) {
	processed, inFlight := c.guard.Stats()
	s := Stats{
		CacheSize:     c.cache.Len(),
		CacheCapacity: c.cache.Cap(),
		Processed:     processed,
		InFlight:      inFlight,
		Orders:        make(map[orders.Status]int),
	}
	recs, err := c.store.All()
	if err != nil {
		return s, err
	}
	for _, rec := range recs {
		s.Orders[rec.Status]++
	}
	return s, nil
}

// Orders returns every persisted record
func (c *Coordinator) Orders() ([]orders.Record, error) {
	return c.store.All()
}

// Order returns the record for one asset, or nil
func (c *Coordinator) Order(assetID string) (*orders.Record, error) {
	return c.store.Get(assetID)
}

// Instructions returns the loaded trading instructions
func (c *Coordinator) Instructions() []rules.Instruction {
	return c.matcher.Instructions()
}
