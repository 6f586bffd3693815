package binance

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vpetrenko/market-sentry/internal/domain"
)

const (
	SpotStreamURL    = "wss://stream.binance.com:9443"
	FuturesStreamURL = "wss://fstream.binance.com"

	defaultBaseDelay = 5 * time.Second
	defaultMaxDelay  = 60 * time.Second

	handshakeTimeout = 10 * time.Second
	pingInterval     = 3 * time.Minute
	eventBuffer      = 256
)

// errSuperseded marks a connection that was established for a symbol
// set replaced while the dial was in flight.
var errSuperseded = errors.New("subscription superseded during dial")

// ConnState is the observable connection lifecycle state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// MarketStream keeps one logical trade subscription alive across
// reconnects. Failures reconnect with capped exponential backoff and
// never give up; an owner-initiated rebuild (symbol-set change) resets
// the attempt counter first so it does not inherit backoff from prior
// failures.
type MarketStream struct {
	baseURL string
	logger  *slog.Logger

	mu   sync.Mutex // guards conn
	conn *websocket.Conn

	subsMu     sync.RWMutex
	activeSubs []string
	attempts   int
	rebuild    bool

	state    atomic.Int32
	stopChan chan struct{}
	wakeChan chan struct{}
	stopOnce sync.Once

	baseDelay time.Duration
	maxDelay  time.Duration
}

func NewMarketStream(baseURL string) *MarketStream {
	return &MarketStream{
		baseURL:   strings.TrimRight(baseURL, "/"),
		logger:    slog.Default().With("component", "market_stream", "feed", baseURL),
		stopChan:  make(chan struct{}),
		wakeChan:  make(chan struct{}, 1),
		baseDelay: defaultBaseDelay,
		maxDelay:  defaultMaxDelay,
	}
}

// State returns the current lifecycle state for health reporting.
func (s *MarketStream) State() ConnState {
	return ConnState(s.state.Load())
}

// Subscribe starts the connection lifecycle and returns the event
// channel. An empty symbol set is not an error: the stream idles until
// Resubscribe supplies symbols.
func (s *MarketStream) Subscribe(symbols []string) (<-chan domain.TradeEvent, error) {
	s.subsMu.Lock()
	s.activeSubs = append([]string(nil), symbols...)
	s.subsMu.Unlock()

	out := make(chan domain.TradeEvent, eventBuffer)
	go s.maintainConnection(out)
	return out, nil
}

// Resubscribe replaces the symbol set and forces a close-then-reconnect
// cycle. The attempt counter is pre-reset: a deliberate rebuild must
// not wait out a backoff earned by earlier failures.
func (s *MarketStream) Resubscribe(symbols []string) {
	s.subsMu.Lock()
	s.activeSubs = append([]string(nil), symbols...)
	s.attempts = 0
	s.rebuild = true
	s.subsMu.Unlock()

	s.closeConn()

	// Wake the loop in case it is idling or sleeping out a delay.
	select {
	case s.wakeChan <- struct{}{}:
	default:
	}
}

// Close shuts the stream down permanently.
func (s *MarketStream) Close() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.closeConn()
	})
}

func (s *MarketStream) stopped() bool {
	select {
	case <-s.stopChan:
		return true
	default:
		return false
	}
}

func (s *MarketStream) closeConn() {
	s.mu.Lock()
	if s.conn != nil {
		// Abrupt close: the read loop surfaces the error and the
		// maintain loop decides what happens next.
		_ = s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()
}

func (s *MarketStream) maintainConnection(out chan<- domain.TradeEvent) {
	defer s.state.Store(int32(StateDisconnected))

	for {
		if s.stopped() {
			return
		}

		s.subsMu.Lock()
		s.rebuild = false
		subs := append([]string(nil), s.activeSubs...)
		s.subsMu.Unlock()

		if len(subs) == 0 {
			s.state.Store(int32(StateDisconnected))
			select {
			case <-s.stopChan:
				return
			case <-s.wakeChan:
			}
			continue
		}

		err := s.connectAndListen(subs, out)
		s.state.Store(int32(StateDisconnected))
		if s.stopped() {
			return
		}

		s.subsMu.Lock()
		if s.rebuild {
			// Owner-initiated teardown, reconnect immediately.
			s.subsMu.Unlock()
			continue
		}
		s.attempts++
		delay := backoffDelay(s.baseDelay, s.maxDelay, s.attempts)
		attempts := s.attempts
		s.subsMu.Unlock()

		s.logger.Warn("stream connection lost, reconnecting",
			"err", err, "attempt", attempts, "delay", delay)

		select {
		case <-s.stopChan:
			return
		case <-s.wakeChan:
		case <-time.After(delay):
		}
	}
}

func (s *MarketStream) connectAndListen(symbols []string, out chan<- domain.TradeEvent) error {
	url := streamURL(s.baseURL, symbols)
	s.state.Store(int32(StateConnecting))
	s.logger.Info("connecting to trade stream", "symbols", len(symbols))

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer s.closeConn()

	// A rebuild issued while the dial was in flight closed a nil
	// handle and went unnoticed. Honor it before reading: this
	// connection carries the old symbol set.
	s.subsMu.Lock()
	if s.rebuild {
		s.subsMu.Unlock()
		return errSuperseded
	}
	// Handshake done: the failure streak is over.
	s.attempts = 0
	s.subsMu.Unlock()
	s.state.Store(int32(StateConnected))
	s.logger.Info("trade stream connected")

	pingDone := make(chan struct{})
	defer close(pingDone)
	go s.heartbeat(conn, pingDone)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		ev, ok := parseTrade(message, time.Now())
		if !ok {
			// Malformed or unrecognized payloads are expected noise
			// on a shared transport, not a connection error.
			continue
		}
		select {
		case out <- ev:
		default:
			// Consumer is behind; drop the stale tick.
		}
	}
}

func (s *MarketStream) heartbeat(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// streamURL builds the subscription address. A single symbol uses the
// bare /ws endpoint (payloads arrive unwrapped); multiple symbols use
// the combined endpoint (payloads arrive under a stream-name envelope).
func streamURL(baseURL string, symbols []string) string {
	if len(symbols) == 1 {
		return baseURL + "/ws/" + symbols[0] + "@trade"
	}
	parts := make([]string, len(symbols))
	for i, sym := range symbols {
		parts[i] = sym + "@trade"
	}
	return baseURL + "/stream?streams=" + strings.Join(parts, "/")
}

// backoffDelay is min(base * 2^(attempts-1), max).
func backoffDelay(base, max time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
