package worker

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/vpetrenko/market-sentry/internal/domain"
)

// Reconciler recomputes the desired tracked-symbol set and diffs it
// against the set currently subscribed. When the worker was started
// with an explicit override list the set is pinned: discovery never
// runs and reconcile is a no-op.
type Reconciler struct {
	source      domain.SymbolSource
	quoteSuffix string
	pinned      bool
	logger      *slog.Logger

	active []string // sorted, normalized
}

// ReconcileResult is the outcome of one reconcile attempt.
type ReconcileResult struct {
	Changed bool
	Symbols []string
	Added   []string
	Removed []string
}

func NewReconciler(source domain.SymbolSource, override []string, quoteSuffix string, logger *slog.Logger) *Reconciler {
	r := &Reconciler{
		source:      source,
		quoteSuffix: quoteSuffix,
		logger:      logger.With("component", "reconciler"),
	}
	if len(override) > 0 {
		// Explicit configuration wins over discovery. The override is
		// lower-cased and deduped but deliberately not run through the
		// suffix filter or denylist.
		seen := make(map[string]bool, len(override))
		for _, s := range override {
			sym := strings.ToLower(strings.TrimSpace(s))
			if sym == "" || seen[sym] {
				continue
			}
			seen[sym] = true
			r.active = append(r.active, sym)
		}
		sort.Strings(r.active)
		r.pinned = true
	}
	return r
}

// Active returns the currently tracked set.
func (r *Reconciler) Active() []string {
	return append([]string(nil), r.active...)
}

// Pinned reports whether the set was fixed at startup.
func (r *Reconciler) Pinned() bool { return r.pinned }

// Reconcile fetches the desired set and applies it. On fetch failure
// the previous known-good set is retained and the error returned; the
// caller logs it and retries next tick.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileResult, error) {
	if r.pinned {
		return ReconcileResult{Changed: false, Symbols: r.Active()}, nil
	}

	raw, err := r.source.FetchSymbols(ctx)
	if err != nil {
		return ReconcileResult{Changed: false, Symbols: r.Active()}, err
	}

	next := domain.NormalizeSymbols(raw, r.quoteSuffix)
	if domain.SameSymbolSet(r.active, next) {
		return ReconcileResult{Changed: false, Symbols: r.Active()}, nil
	}

	res := ReconcileResult{
		Changed: true,
		Symbols: append([]string(nil), next...),
		Added:   diffSets(next, r.active),
		Removed: diffSets(r.active, next),
	}
	r.active = next
	r.logger.Info("tracked symbol set changed",
		"total", len(next), "added", len(res.Added), "removed", len(res.Removed))
	return res, nil
}

// diffSets returns the elements of a that are not in b.
func diffSets(a, b []string) []string {
	inB := make(map[string]bool, len(b))
	for _, s := range b {
		inB[s] = true
	}
	var out []string
	for _, s := range a {
		if !inB[s] {
			out = append(out, s)
		}
	}
	return out
}
