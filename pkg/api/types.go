package api

import (
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/updownbot/pkg/audit"
	"github.com/uhyunpark/updownbot/pkg/coordinator"
	"github.com/uhyunpark/updownbot/pkg/orders"
)

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// AgentStatus is returned by GET /api/v1/status
type AgentStatus struct {
	Mode      string            `json:"mode"`   // "paper" or "live"
	Feed      string            `json:"feed"`   // stream connection status
	Wallet    string            `json:"wallet"` // funder address
	Uptime    int64             `json:"uptime"` // seconds
	Pipeline  coordinator.Stats `json:"pipeline"`
	Timestamp int64             `json:"timestamp"` // Unix milliseconds
}

// OrderInfo is an order lifecycle record as exposed over HTTP
type OrderInfo struct {
	OrderID     string          `json:"orderId,omitempty"`
	AssetID     string          `json:"assetId"`
	ConditionID string          `json:"conditionId"`
	Outcome     string          `json:"outcome"`
	Event       string          `json:"event,omitempty"`
	Status      string          `json:"status"`
	Price       decimal.Decimal `json:"price"`
	Size        decimal.Decimal `json:"size"`
	SellOrderID string          `json:"sellOrderId,omitempty"`
	CreatedAt   int64           `json:"createdAt"` // Unix milliseconds
	UpdatedAt   int64           `json:"updatedAt"`
}

func orderInfo(rec orders.Record) OrderInfo {
	return OrderInfo{
		OrderID:     rec.OrderID,
		AssetID:     rec.AssetID,
		ConditionID: rec.ConditionID,
		Outcome:     rec.Outcome,
		Event:       rec.EventSlug,
		Status:      string(rec.Status),
		Price:       rec.Price,
		Size:        rec.Size,
		SellOrderID: rec.SellOrderID,
		CreatedAt:   rec.CreatedAt.UnixMilli(),
		UpdatedAt:   rec.UpdatedAt.UnixMilli(),
	}
}

// InstructionInfo is a configured trading instruction
type InstructionInfo struct {
	Title             string          `json:"title"`
	MatchSlug         string          `json:"matchSlug"`
	OrderSize         decimal.Decimal `json:"orderSize"`
	BuyPriceThreshold decimal.Decimal `json:"buyPriceThreshold"`
	MinutesOffset     int             `json:"minutesOffset"`
	CurrentHourOnly   bool            `json:"currentHourOnly"`
	Disabled          bool            `json:"disabled"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // "decisions", "feed"
}

// DecisionUpdate is broadcast for every audit record
type DecisionUpdate struct {
	Type     string       `json:"type"` // "decision"
	Decision audit.Record `json:"data"`
}

// FeedUpdate is broadcast when the stream connection changes state
type FeedUpdate struct {
	Type      string `json:"type"` // "feed"
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
