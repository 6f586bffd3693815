package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vpetrenko/market-sentry/internal/aggregate"
	"github.com/vpetrenko/market-sentry/internal/alert"
	"github.com/vpetrenko/market-sentry/internal/domain"
)

// Manager owns all mutable alert state for one stream type (spot or
// futures) and drives the pipeline: trade event -> rolling window ->
// evaluation -> cooldown -> dispatch. Event handling is sequential;
// only the dispatch I/O leaves the loop, and only after its cooldown
// slot is committed.
type Manager struct {
	name        string
	stream      domain.MarketStreamer
	reconciler  *Reconciler
	ruleSource  domain.RuleSource
	settingsSrc domain.SettingsSource
	notifier    domain.Notifier
	fanout      domain.Notifier  // optional secondary channel
	audit       domain.AuditSink // optional write-only log
	logger      *slog.Logger

	book *aggregate.Book
	gate *alert.CooldownGate

	mu            sync.RWMutex
	rulesBySymbol map[string][]domain.Rule
	lastPrice     map[string]decimal.Decimal
	settings      domain.Settings
	appliedMarker string

	reconcileEvery time.Duration
	refreshEvery   time.Duration

	dispatchWG sync.WaitGroup
}

// ManagerParams wires a Manager. Fanout and Audit may be nil.
type ManagerParams struct {
	Name           string
	Stream         domain.MarketStreamer
	Reconciler     *Reconciler
	Rules          domain.RuleSource
	Settings       domain.SettingsSource
	Notifier       domain.Notifier
	Fanout         domain.Notifier
	Audit          domain.AuditSink
	Defaults       domain.Settings
	ReconcileEvery time.Duration
	RefreshEvery   time.Duration
	Logger         *slog.Logger
}

func NewManager(p ManagerParams) *Manager {
	return &Manager{
		name:           p.Name,
		stream:         p.Stream,
		reconciler:     p.Reconciler,
		ruleSource:     p.Rules,
		settingsSrc:    p.Settings,
		notifier:       p.Notifier,
		fanout:         p.Fanout,
		audit:          p.Audit,
		logger:         p.Logger.With("component", "manager", "stream", p.Name),
		book:           aggregate.NewBook(p.Defaults.Window),
		gate:           alert.NewCooldownGate(),
		rulesBySymbol:  make(map[string][]domain.Rule),
		lastPrice:      make(map[string]decimal.Decimal),
		settings:       p.Defaults,
		reconcileEvery: p.ReconcileEvery,
		refreshEvery:   p.RefreshEvery,
	}
}

// Run blocks until ctx is cancelled. Upstream fetch failures degrade
// to the previous known-good state; nothing recoverable terminates the
// event loop.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.RefreshSettings(ctx); err != nil {
		m.logger.Warn("initial settings fetch failed, using defaults", "err", err)
	}
	if err := m.reloadRules(ctx); err != nil {
		m.logger.Warn("initial rule fetch failed, starting without rules", "err", err)
	}
	if _, err := m.reconciler.Reconcile(ctx); err != nil {
		m.logger.Warn("initial symbol reconcile failed", "err", err)
	}

	events, err := m.stream.Subscribe(m.reconciler.Active())
	if err != nil {
		return err
	}

	reconcileTicker := time.NewTicker(m.reconcileEvery)
	defer reconcileTicker.Stop()
	refreshTicker := time.NewTicker(m.refreshEvery)
	defer refreshTicker.Stop()

	m.logger.Info("manager started", "symbols", len(m.reconciler.Active()))

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				m.logger.Info("event channel closed")
				return nil
			}
			m.handleTrade(ctx, ev)

		case <-reconcileTicker.C:
			m.runReconcile(ctx)

		case <-refreshTicker.C:
			if err := m.RefreshSettings(ctx); err != nil {
				m.logger.Warn("settings refresh failed, previous values retained", "err", err)
			}
			if err := m.reloadRules(ctx); err != nil {
				m.logger.Warn("rule refresh failed, previous rules retained", "err", err)
			}

		case <-ctx.Done():
			m.stream.Close()
			m.dispatchWG.Wait()
			m.logger.Info("manager stopped")
			return nil
		}
	}
}

// handleTrade is the single entry point for inbound market events.
// Called sequentially per connection; the cooldown acquire happens
// synchronously here, before any dispatch I/O starts.
func (m *Manager) handleTrade(ctx context.Context, ev domain.TradeEvent) {
	sum := m.book.Update(ev.Symbol, ev.Time, ev.Notional)

	m.mu.RLock()
	settings := m.settings
	rules := m.rulesBySymbol[ev.Symbol]
	prev, hasPrev := m.lastPrice[ev.Symbol]
	m.mu.RUnlock()

	if settings.VolumeThreshold.IsPositive() && sum.GreaterThanOrEqual(settings.VolumeThreshold) {
		if m.gate.TryAcquire(ev.Symbol, ev.Time, settings.Cooldown) {
			m.dispatch(ctx, domain.Notification{
				Kind:        domain.TriggerVolume,
				Symbol:      ev.Symbol,
				Value:       sum,
				Window:      settings.Window,
				TriggeredAt: ev.Time,
			})
		}
	}

	var prevPtr *decimal.Decimal
	if hasPrev {
		p := prev
		prevPtr = &p
	}
	for _, rule := range rules {
		if !alert.Evaluate(rule, ev.Price, prevPtr) {
			continue
		}
		if !m.gate.TryAcquire(rule.ID, ev.Time, rule.Cooldown) {
			continue
		}
		m.dispatch(ctx, domain.Notification{
			Kind:        domain.TriggerRule,
			Symbol:      ev.Symbol,
			Value:       ev.Price,
			RuleID:      rule.ID,
			TriggeredAt: ev.Time,
		})
	}

	m.mu.Lock()
	m.lastPrice[ev.Symbol] = ev.Price
	m.mu.Unlock()
}

// dispatch performs the outbound I/O off the event loop. The cooldown
// slot is already committed; a failure is terminal for this event and
// is never retried.
func (m *Manager) dispatch(ctx context.Context, n domain.Notification) {
	m.dispatchWG.Add(1)
	go func() {
		defer m.dispatchWG.Done()

		// Detached from the loop context: once the cooldown slot is
		// committed the send gets its chance even during shutdown.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()

		err := m.notifier.Send(ctx, n)
		if err != nil {
			m.logger.Error("dispatch failed, cooldown stands",
				"kind", n.Kind, "symbol", n.Symbol, "rule_id", n.RuleID,
				"value", n.Value, "err", err)
		} else {
			m.logger.Info("notification dispatched",
				"kind", n.Kind, "symbol", n.Symbol, "rule_id", n.RuleID, "value", n.Value)
			if m.fanout != nil {
				if ferr := m.fanout.Send(ctx, n); ferr != nil {
					m.logger.Warn("fanout delivery failed", "err", ferr)
				}
			}
		}

		if m.audit != nil {
			if aerr := m.audit.Record(ctx, n, err == nil); aerr != nil {
				m.logger.Warn("audit record failed", "err", aerr)
			}
		}
	}()
}

func (m *Manager) runReconcile(ctx context.Context) {
	res, err := m.reconciler.Reconcile(ctx)
	if err != nil {
		m.logger.Warn("symbol reconcile failed, previous set retained", "err", err)
		return
	}
	if !res.Changed {
		return
	}

	for _, sym := range res.Removed {
		m.book.Purge(sym)
		m.gate.Purge(sym)
		m.mu.Lock()
		for _, rule := range m.rulesBySymbol[sym] {
			m.gate.Purge(rule.ID)
		}
		delete(m.lastPrice, sym)
		m.mu.Unlock()
	}

	m.stream.Resubscribe(res.Symbols)
}

// RefreshSettings fetches the current settings and applies them when
// the updatedAt marker moved. Applied mid-window: open windows are not
// reset, the next update simply evicts against the new duration.
// Exposed for the admin refresh trigger.
func (m *Manager) RefreshSettings(ctx context.Context) error {
	s, err := m.settingsSrc.FetchSettings(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s.UpdatedAt == m.appliedMarker {
		return nil
	}
	m.settings = s
	m.appliedMarker = s.UpdatedAt
	m.book.SetDuration(s.Window)
	m.logger.Info("settings applied",
		"volume_threshold", s.VolumeThreshold, "window", s.Window,
		"cooldown", s.Cooldown, "updated_at", s.UpdatedAt)
	return nil
}

// ReloadRules refetches alert rules. Exposed for the admin trigger.
func (m *Manager) ReloadRules(ctx context.Context) error {
	return m.reloadRules(ctx)
}

func (m *Manager) reloadRules(ctx context.Context) error {
	rules, err := m.ruleSource.FetchRules(ctx)
	if err != nil {
		return err
	}

	bySymbol := make(map[string][]domain.Rule, len(rules))
	for _, r := range rules {
		bySymbol[r.Symbol] = append(bySymbol[r.Symbol], r)
	}

	m.mu.Lock()
	m.rulesBySymbol = bySymbol
	m.mu.Unlock()
	m.logger.Info("rules reloaded", "count", len(rules))
	return nil
}

// waitDispatches blocks until in-flight dispatch goroutines finish.
func (m *Manager) waitDispatches() {
	m.dispatchWG.Wait()
}
