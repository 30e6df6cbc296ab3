package domain

import "time"

// Signal bus channels on which ledger events are published.
const (
	ChannelSettlements = "ch:settlements"
	ChannelCancels     = "ch:cancels"
)

// EventType identifies a ledger event published on the signal bus.
type EventType string

const (
	EventSettled        EventType = "settled"
	EventOrderCancelled EventType = "order_cancelled"
	EventTradeCancelled EventType = "trade_cancelled"
)

// Event is the JSON payload broadcast after every successful ledger
// mutation. Hashes and addresses are hex strings; amounts are decimal
// strings to preserve precision across JSON boundaries.
type Event struct {
	Type        EventType `json:"type"`
	OrderHash   string    `json:"order_hash"`
	TradeHash   string    `json:"trade_hash,omitempty"`
	Maker       string    `json:"maker,omitempty"`
	Taker       string    `json:"taker,omitempty"`
	Amount      string    `json:"amount,omitempty"`
	SellAmount  string    `json:"sell_amount,omitempty"`
	FeeMake     string    `json:"fee_make,omitempty"`
	FeeTake     string    `json:"fee_take,omitempty"`
	BlockHeight uint64    `json:"block_height"`
	Timestamp   time.Time `json:"timestamp"`
}
