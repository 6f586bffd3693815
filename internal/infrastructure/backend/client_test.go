package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vpetrenko/market-sentry/internal/domain"
)

func TestFetchSymbolsSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"symbols":["SOLUSDT","DOGEUSDT"]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret-token", 5*time.Second)
	symbols, err := c.FetchSymbols(context.Background())
	if err != nil {
		t.Fatalf("FetchSymbols: %v", err)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if len(symbols) != 2 || symbols[0] != "SOLUSDT" {
		t.Errorf("symbols = %v", symbols)
	}
}

func TestFetchRulesResolvesFlexibleObjects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"alerts":[
			{"id":"r1","symbol":"SOLUSDT","threshold":"200","operator":"crosses_above","cooldownSec":600},
			{"alertId":"r2","ticker":"dogeusdt","value":0.5,"op":">="},
			{"id":"r3","symbol":"opusdt","operator":"lte"}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "t", 5*time.Second)
	rules, err := c.FetchRules(context.Background())
	if err != nil {
		t.Fatalf("FetchRules: %v", err)
	}
	if len(rules) != 3 {
		t.Fatalf("got %d rules, want 3", len(rules))
	}
	if rules[0].Op != domain.OpCrossesAbove || rules[0].Cooldown != 10*time.Minute {
		t.Errorf("rule r1 resolved wrong: %+v", rules[0])
	}
	if rules[1].ID != "r2" || rules[1].Symbol != "dogeusdt" || !rules[1].Threshold.Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("rule r2 resolved wrong: %+v", rules[1])
	}
	if !rules[2].Skip {
		t.Error("rule r3 has no threshold and must be skipped")
	}
}

func TestFetchSettings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"volumeThreshold":"400000","windowSec":900,"cooldownSec":900,"updatedAt":"2025-06-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "t", 5*time.Second)
	s, err := c.FetchSettings(context.Background())
	if err != nil {
		t.Fatalf("FetchSettings: %v", err)
	}
	if s.VolumeThreshold.String() != "400000" {
		t.Errorf("VolumeThreshold = %s", s.VolumeThreshold)
	}
	if s.Window != 15*time.Minute || s.Cooldown != 15*time.Minute {
		t.Errorf("Window = %s Cooldown = %s", s.Window, s.Cooldown)
	}
	if s.UpdatedAt != "2025-06-01T00:00:00Z" {
		t.Errorf("UpdatedAt = %q", s.UpdatedAt)
	}
}

func TestSendNon2xxIsTypedDispatchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "t", 5*time.Second)
	err := c.Send(context.Background(), domain.Notification{
		Kind:        domain.TriggerVolume,
		Symbol:      "solusdt",
		Value:       decimal.NewFromInt(450000),
		Window:      15 * time.Minute,
		TriggeredAt: time.Now(),
	})

	var de *DispatchError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want *DispatchError", err)
	}
	if de.Status != http.StatusTooManyRequests {
		t.Errorf("Status = %d", de.Status)
	}
}

func TestSendPostsExpectedBody(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`{"delivered":3}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "t", 5*time.Second)
	err := c.Send(context.Background(), domain.Notification{
		Kind:        domain.TriggerRule,
		Symbol:      "solusdt",
		Value:       decimal.RequireFromString("215.5"),
		RuleID:      "r-9",
		TriggeredAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotBody["symbol"] != "solusdt" || gotBody["value"] != "215.5" || gotBody["ruleId"] != "r-9" {
		t.Errorf("body = %v", gotBody)
	}
	if gotBody["kind"] != "rule" {
		t.Errorf("kind = %v", gotBody["kind"])
	}
}
