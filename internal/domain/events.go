package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeEvent is one executed trade received from the market stream.
// Symbol is always lower-case. Notional is price * quantity in the
// quote asset (USD-pegged for every tracked pair).
type TradeEvent struct {
	Symbol   string
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Notional decimal.Decimal
	Time     time.Time
}

// TriggerKind distinguishes the two alert families the worker produces.
type TriggerKind string

const (
	TriggerVolume TriggerKind = "volume"
	TriggerRule   TriggerKind = "rule"
)

// Notification is the payload handed to the dispatch sink after a
// trigger fired and its cooldown slot was acquired.
type Notification struct {
	Kind        TriggerKind
	Symbol      string
	Value       decimal.Decimal
	RuleID      string        // empty for volume triggers
	Window      time.Duration // zero for rule triggers
	TriggeredAt time.Time
}
