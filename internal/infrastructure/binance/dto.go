package binance

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vpetrenko/market-sentry/internal/domain"
)

// combinedEnvelope wraps per-symbol payloads on the multi-stream
// endpoint: {"stream":"solusdt@trade","data":{...}}.
type combinedEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// wsTradeEvent mirrors the @trade payload on both spot and futures.
type wsTradeEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
}

// parseTrade extracts one TradeEvent from a raw stream message.
// Returns ok=false for anything that is not a well-formed trade:
// subscription acks, envelope-only frames, unknown event types and
// unparseable numbers are all dropped by the caller without logging.
func parseTrade(message []byte, ingestedAt time.Time) (domain.TradeEvent, bool) {
	payload := message

	var env combinedEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return domain.TradeEvent{}, false
	}
	if env.Stream != "" && len(env.Data) > 0 {
		payload = env.Data
	}

	var ev wsTradeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return domain.TradeEvent{}, false
	}
	if ev.EventType != "trade" || ev.Symbol == "" {
		return domain.TradeEvent{}, false
	}

	price, err := decimal.NewFromString(ev.Price)
	if err != nil || price.IsNegative() {
		return domain.TradeEvent{}, false
	}
	qty, err := decimal.NewFromString(ev.Quantity)
	if err != nil || qty.IsNegative() {
		return domain.TradeEvent{}, false
	}

	// Missing or bogus exchange timestamps fall back to ingestion time.
	at := ingestedAt
	if ev.TradeTime > 0 {
		at = time.UnixMilli(ev.TradeTime)
	} else if ev.EventTime > 0 {
		at = time.UnixMilli(ev.EventTime)
	}

	return domain.TradeEvent{
		Symbol:   strings.ToLower(ev.Symbol),
		Price:    price,
		Quantity: qty,
		Notional: price.Mul(qty),
		Time:     at,
	}, true
}
