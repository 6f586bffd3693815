// Package backend talks to the control-plane API: symbol discovery,
// alert rules, worker settings and the notification sink. All calls
// carry bearer auth.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vpetrenko/market-sentry/internal/domain"
)

// DispatchError is a non-2xx response from the notification sink.
type DispatchError struct {
	Status int
	Body   string
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch rejected: status %d: %s", e.Status, e.Body)
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default().With("component", "backend_client"),
	}
}

// --- SymbolSource ---

func (c *Client) FetchSymbols(ctx context.Context) ([]string, error) {
	var resp struct {
		Symbols []string `json:"symbols"`
	}
	if err := c.get(ctx, "/api/v1/symbols", &resp); err != nil {
		return nil, err
	}
	return resp.Symbols, nil
}

// --- RuleSource ---

func (c *Client) FetchRules(ctx context.Context) ([]domain.Rule, error) {
	var resp struct {
		Alerts []json.RawMessage `json:"alerts"`
	}
	if err := c.get(ctx, "/api/v1/alerts", &resp); err != nil {
		return nil, err
	}

	rules := make([]domain.Rule, 0, len(resp.Alerts))
	for _, raw := range resp.Alerts {
		rule, err := domain.ResolveRule(raw)
		if err != nil {
			c.logger.Warn("unparseable alert object dropped", "err", err)
			continue
		}
		if rule.Skip {
			c.logger.Warn("alert has no usable threshold, skipped until next refresh",
				"rule_id", rule.ID, "symbol", rule.Symbol)
		}
		if rule.OpFallback {
			c.logger.Warn("alert operator unrecognized, assuming greater-or-equal",
				"rule_id", rule.ID)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// --- SettingsSource ---

type settingsDTO struct {
	VolumeThreshold json.Number `json:"volumeThreshold"`
	WindowSec       int64       `json:"windowSec"`
	CooldownSec     int64       `json:"cooldownSec"`
	UpdatedAt       string      `json:"updatedAt"`
}

func (c *Client) FetchSettings(ctx context.Context) (domain.Settings, error) {
	var dto settingsDTO
	if err := c.get(ctx, "/api/v1/settings", &dto); err != nil {
		return domain.Settings{}, err
	}

	threshold, err := decimal.NewFromString(dto.VolumeThreshold.String())
	if err != nil {
		return domain.Settings{}, fmt.Errorf("settings volume threshold %q: %w", dto.VolumeThreshold, err)
	}
	return domain.Settings{
		VolumeThreshold: threshold,
		Window:          time.Duration(dto.WindowSec) * time.Second,
		Cooldown:        time.Duration(dto.CooldownSec) * time.Second,
		UpdatedAt:       dto.UpdatedAt,
	}, nil
}

// --- Notifier ---

type notifyDTO struct {
	Symbol      string `json:"symbol"`
	Value       string `json:"value"`
	Kind        string `json:"kind"`
	RuleID      string `json:"ruleId,omitempty"`
	WindowSec   int64  `json:"windowSec,omitempty"`
	TriggeredAt string `json:"triggeredAt"`
}

// Send posts one notification. The caller already committed the
// cooldown slot; a failure here is terminal for the event.
func (c *Client) Send(ctx context.Context, n domain.Notification) error {
	body, err := json.Marshal(notifyDTO{
		Symbol:      n.Symbol,
		Value:       n.Value.String(),
		Kind:        string(n.Kind),
		RuleID:      n.RuleID,
		WindowSec:   int64(n.Window / time.Second),
		TriggeredAt: n.TriggeredAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/notify", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &DispatchError{Status: resp.StatusCode, Body: string(raw)}
	}

	var result struct {
		Delivered int `json:"delivered"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		c.logger.Debug("notification dispatched", "symbol", n.Symbol, "delivered", result.Delivered)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("backend %s: status %d: %s", path, resp.StatusCode, string(raw))
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	return dec.Decode(result)
}
