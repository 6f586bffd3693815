package domain

import (
	"sort"
	"strings"
)

// Major and stable pairs are excluded from discovery: their baseline
// turnover would trip any volume threshold tuned for the long tail.
var symbolDenylist = map[string]bool{
	"btcusdt":   true,
	"ethusdt":   true,
	"usdcusdt":  true,
	"fdusdusdt": true,
	"tusdusdt":  true,
	"busdusdt":  true,
}

// NormalizeSymbols lower-cases, filters to the given quote-asset
// suffix, drops denylisted pairs, dedups and sorts. Sorting keeps the
// set comparable across reconcile runs.
func NormalizeSymbols(raw []string, quoteSuffix string) []string {
	quoteSuffix = strings.ToLower(quoteSuffix)
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		sym := strings.ToLower(strings.TrimSpace(s))
		if sym == "" || seen[sym] {
			continue
		}
		if quoteSuffix != "" && !strings.HasSuffix(sym, quoteSuffix) {
			continue
		}
		if symbolDenylist[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// SameSymbolSet reports unordered equality of two normalized sets.
// Both arguments must already be sorted (NormalizeSymbols output).
func SameSymbolSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
