package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/updownbot/pkg/audit"
	"github.com/uhyunpark/updownbot/pkg/orders"
)

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// ============================================================================
// Order Records
// ============================================================================

// SaveOrder persists an order record. Lifecycle writes are synced so a crash
// right after the exchange call cannot lose the processing row.
func (s *PebbleStore) SaveOrder(owner common.Address, rec orders.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}

	if err := s.db.Set(orderKey(owner, rec.AssetID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// LoadOrder loads the record for an asset
// Returns nil if it doesn't exist
func (s *PebbleStore) LoadOrder(owner common.Address, assetID string) (*orders.Record, error) {
	data, closer, err := s.db.Get(orderKey(owner, assetID))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	defer closer.Close()

	var rec orders.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order: %w", err)
	}
	return &rec, nil
}

func (s *PebbleStore) DeleteOrder(owner common.Address, assetID string) error {
	if err := s.db.Delete(orderKey(owner, assetID), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	return nil
}

// LoadOrders loads every record of a wallet in key order
func (s *PebbleStore) LoadOrders(owner common.Address) ([]orders.Record, error) {
	prefix := orderPrefix(owner)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open order iterator: %w", err)
	}
	defer iter.Close()

	var out []orders.Record
	for iter.First(); iter.Valid(); iter.Next() {
		var rec orders.Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue // Skip invalid entries
		}
		out = append(out, rec)
	}
	return out, nil
}

// ============================================================================
// Decision Log
// ============================================================================

// SaveDecision persists an audit record
func (s *PebbleStore) SaveDecision(rec audit.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}

	key := decisionKey(rec.Timestamp.UnixNano(), rec.ID)
	if err := s.db.Set(key, data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save decision: %w", err)
	}
	return nil
}

// LoadRecentDecisions loads the most recent N decisions, newest first
func (s *PebbleStore) LoadRecentDecisions(limit int) ([]audit.Record, error) {
	prefix := decisionPrefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open decision iterator: %w", err)
	}
	defer iter.Close()

	var out []audit.Record
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		var rec audit.Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
