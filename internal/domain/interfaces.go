package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// MarketStreamer is one logical subscription to the market-data feed.
type MarketStreamer interface {
	// Subscribe starts the connection lifecycle for the given symbol
	// set and returns the event channel. An empty set is allowed; the
	// stream stays idle until Resubscribe supplies symbols.
	Subscribe(symbols []string) (<-chan TradeEvent, error)

	// Resubscribe replaces the active symbol set and rebuilds the
	// connection. Owner-initiated: the reconnect backoff counter is
	// reset before the rebuild.
	Resubscribe(symbols []string)

	// Close shuts the stream down for good.
	Close()
}

// SymbolSource supplies the desired tracked-symbol set.
type SymbolSource interface {
	FetchSymbols(ctx context.Context) ([]string, error)
}

// RuleSource supplies the current alert rule definitions.
type RuleSource interface {
	FetchRules(ctx context.Context) ([]Rule, error)
}

// Settings are the worker-wide volume alert parameters. UpdatedAt is a
// monotonic marker; a fetched value is applied only when the marker
// differs from the last applied one.
type Settings struct {
	VolumeThreshold decimal.Decimal
	Window          time.Duration
	Cooldown        time.Duration
	UpdatedAt       string
}

// SettingsSource supplies the current Settings.
type SettingsSource interface {
	FetchSettings(ctx context.Context) (Settings, error)
}

// Notifier delivers a fired trigger. Dedup is the caller's job; a
// Notifier call means the cooldown slot is already committed.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// AuditSink records dispatched notifications. Write-only; failures are
// logged and never affect dispatch.
type AuditSink interface {
	Record(ctx context.Context, n Notification, delivered bool) error
}
