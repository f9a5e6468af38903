package storage

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/updownbot/pkg/audit"
	"github.com/uhyunpark/updownbot/pkg/orders"
)

// OrderStore implements orders.Store on Pebble for one wallet.
// The mutex makes Create a check-and-set; Pebble has no conditional put.
type OrderStore struct {
	mu    sync.Mutex
	db    *PebbleStore
	owner common.Address
}

func NewOrderStore(db *PebbleStore, owner common.Address) *OrderStore {
	return &OrderStore{db: db, owner: owner}
}

func (s *OrderStore) Create(rec orders.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.db.LoadOrder(s.owner, rec.AssetID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: asset %s", orders.ErrExists, rec.AssetID)
	}
	return s.db.SaveOrder(s.owner, rec)
}

func (s *OrderStore) Get(assetID string) (*orders.Record, error) {
	return s.db.LoadOrder(s.owner, assetID)
}

func (s *OrderStore) Update(rec orders.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.db.LoadOrder(s.owner, rec.AssetID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%w: asset %s", orders.ErrNotFound, rec.AssetID)
	}
	return s.db.SaveOrder(s.owner, rec)
}

func (s *OrderStore) Delete(assetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.DeleteOrder(s.owner, assetID)
}

func (s *OrderStore) ExistsNonTerminal(assetID string) (bool, error) {
	rec, err := s.db.LoadOrder(s.owner, assetID)
	if err != nil {
		return false, err
	}
	return rec != nil && rec.Status.NonTerminal(), nil
}

func (s *OrderStore) All() ([]orders.Record, error) {
	return s.db.LoadOrders(s.owner)
}

// Close is a no-op; the underlying PebbleStore is owned by the caller.
func (s *OrderStore) Close() error { return nil }

var _ orders.Store = (*OrderStore)(nil)

// DecisionLog is an audit.Sink backed by Pebble
type DecisionLog struct {
	DB     *PebbleStore
	Logger *zap.SugaredLogger
}

func (d DecisionLog) Emit(rec audit.Record) {
	if err := d.DB.SaveDecision(rec); err != nil {
		d.Logger.Warnw("decision_persist_failed", "id", rec.ID, "err", err)
	}
}

// Recent returns up to limit decisions, newest first
func (d DecisionLog) Recent(limit int) ([]audit.Record, error) {
	return d.DB.LoadRecentDecisions(limit)
}

var _ audit.Sink = DecisionLog{}
