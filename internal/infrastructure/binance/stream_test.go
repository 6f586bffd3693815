package binance

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestBackoffDelaySequence(t *testing.T) {
	base := 5 * time.Second
	max := 60 * time.Second
	want := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		60 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}
	for i, w := range want {
		got := backoffDelay(base, max, i+1)
		if got != w {
			t.Errorf("backoffDelay(attempt=%d) = %s, want %s", i+1, got, w)
		}
	}
}

func TestBackoffDelayClampsBadAttempts(t *testing.T) {
	if got := backoffDelay(time.Second, time.Minute, 0); got != time.Second {
		t.Errorf("attempt 0 = %s, want 1s", got)
	}
	if got := backoffDelay(time.Second, time.Minute, -3); got != time.Second {
		t.Errorf("negative attempt = %s, want 1s", got)
	}
	// Large attempt counts must not overflow past the cap.
	if got := backoffDelay(time.Second, time.Minute, 500); got != time.Minute {
		t.Errorf("attempt 500 = %s, want 1m", got)
	}
}

func TestStreamURLAddressing(t *testing.T) {
	single := streamURL(SpotStreamURL, []string{"solusdt"})
	if single != "wss://stream.binance.com:9443/ws/solusdt@trade" {
		t.Errorf("single-symbol url = %s", single)
	}

	multi := streamURL(FuturesStreamURL, []string{"solusdt", "dogeusdt"})
	if multi != "wss://fstream.binance.com/stream?streams=solusdt@trade/dogeusdt@trade" {
		t.Errorf("multi-symbol url = %s", multi)
	}
}

func TestParseTradeBarePayload(t *testing.T) {
	now := time.Now()
	msg := []byte(`{"e":"trade","E":1718000000123,"s":"SOLUSDT","p":"150.50","q":"2","T":1718000000100}`)

	ev, ok := parseTrade(msg, now)
	if !ok {
		t.Fatal("expected trade to parse")
	}
	if ev.Symbol != "solusdt" {
		t.Errorf("Symbol = %q, want solusdt", ev.Symbol)
	}
	if ev.Notional.String() != "301" {
		t.Errorf("Notional = %s, want 301", ev.Notional)
	}
	if ev.Time.UnixMilli() != 1718000000100 {
		t.Errorf("Time = %d, want trade time", ev.Time.UnixMilli())
	}
}

func TestParseTradeCombinedEnvelope(t *testing.T) {
	msg := []byte(`{"stream":"dogeusdt@trade","data":{"e":"trade","s":"DOGEUSDT","p":"0.2","q":"1000","T":1718000000100}}`)
	ev, ok := parseTrade(msg, time.Now())
	if !ok {
		t.Fatal("expected enveloped trade to parse")
	}
	if ev.Symbol != "dogeusdt" {
		t.Errorf("Symbol = %q, want dogeusdt", ev.Symbol)
	}
	if ev.Notional.String() != "200" {
		t.Errorf("Notional = %s, want 200", ev.Notional)
	}
}

func TestParseTradeFallsBackToIngestionTime(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	msg := []byte(`{"e":"trade","s":"SOLUSDT","p":"1","q":"1"}`)
	ev, ok := parseTrade(msg, now)
	if !ok {
		t.Fatal("expected trade to parse")
	}
	if !ev.Time.Equal(now) {
		t.Errorf("Time = %s, want ingestion time %s", ev.Time, now)
	}
}

func TestParseTradeDropsNoise(t *testing.T) {
	now := time.Now()
	noise := []string{
		`not json at all`,
		`{"result":null,"id":1}`,
		`{"e":"aggTrade","s":"SOLUSDT","p":"1","q":"1"}`,
		`{"e":"trade","s":"SOLUSDT","p":"abc","q":"1"}`,
		`{"e":"trade","s":"SOLUSDT","p":"1","q":"-5"}`,
		`{"e":"trade","p":"1","q":"1"}`,
		`{"stream":"x@trade","data":{"e":"trade","s":"X","p":"oops","q":"1"}}`,
	}
	for _, msg := range noise {
		if _, ok := parseTrade([]byte(msg), now); ok {
			t.Errorf("message should be dropped: %s", msg)
		}
	}
}

// subscriptionServer accepts websocket upgrades and records the paths
// the stream dialed. Holding first open delays the initial handshake.
type subscriptionServer struct {
	mu    sync.Mutex
	paths []string
	first chan struct{}
	srv   *httptest.Server
}

func newSubscriptionServer() *subscriptionServer {
	s := &subscriptionServer{first: make(chan struct{})}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.paths = append(s.paths, r.URL.Path)
		holdOpen := len(s.paths) == 1
		s.mu.Unlock()
		if holdOpen {
			<-s.first
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	return s
}

func (s *subscriptionServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *subscriptionServer) sawPath(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.paths {
		if p == path {
			return true
		}
	}
	return false
}

func (s *subscriptionServer) dialCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.paths)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestResubscribeDuringDialRebuildsOntoNewSet(t *testing.T) {
	server := newSubscriptionServer()
	defer server.srv.Close()

	s := NewMarketStream(server.url())
	s.baseDelay = 10 * time.Millisecond
	defer s.Close()

	if _, err := s.Subscribe([]string{"aaausdt"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Swap the symbol set while the first handshake is still pending;
	// there is no handle to close yet, only the rebuild flag.
	waitFor(t, "first dial to reach server", func() bool { return server.dialCount() >= 1 })
	s.Resubscribe([]string{"bbbusdt"})
	close(server.first)

	// The connection that completes for the old set must be torn down
	// and the stream redialed onto the new set without a backoff wait.
	waitFor(t, "redial onto new symbol set", func() bool {
		return server.sawPath("/ws/bbbusdt@trade")
	})
}

func TestResubscribeOnLiveConnectionRebuilds(t *testing.T) {
	server := newSubscriptionServer()
	defer server.srv.Close()
	close(server.first) // no handshake hold in this test

	s := NewMarketStream(server.url())
	s.baseDelay = 10 * time.Millisecond
	defer s.Close()

	if _, err := s.Subscribe([]string{"aaausdt"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	waitFor(t, "initial connect", func() bool { return s.State() == StateConnected })

	s.Resubscribe([]string{"aaausdt", "bbbusdt"})
	waitFor(t, "redial with combined addressing", func() bool {
		return server.sawPath("/stream") || server.sawPath("/stream/")
	})
}

func TestResubscribeWakesIdleStream(t *testing.T) {
	s := NewMarketStream(SpotStreamURL)
	if s.State() != StateDisconnected {
		t.Fatalf("initial state = %s, want disconnected", s.State())
	}

	// Idle stream (no symbols) must accept a rebuild signal without
	// blocking even before the maintain loop runs.
	s.Resubscribe([]string{"solusdt"})
	s.Resubscribe([]string{"solusdt", "dogeusdt"})

	s.subsMu.RLock()
	n := len(s.activeSubs)
	rebuild := s.rebuild
	s.subsMu.RUnlock()
	if n != 2 || !rebuild {
		t.Fatalf("activeSubs = %d rebuild = %v, want 2 and true", n, rebuild)
	}
	s.Close()
}
