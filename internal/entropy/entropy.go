// Package entropy scores prompt randomness. High-entropy payloads are
// the cheapest token-stuffing vector: random bytes compress badly and
// bill maximally, so they are classified before any downstream call.
package entropy

import (
	"math"

	"github.com/llmshield/shield-gateway/internal/types"
)

// Shannon returns the Shannon entropy of s in bits per symbol, computed
// over the Unicode code point frequency distribution. An empty string
// scores 0.
func Shannon(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	total := 0
	for _, r := range s {
		counts[r]++
		total++
	}
	h := 0.0
	n := float64(total)
	for _, c := range counts {
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}

// Analyzer maps entropy scores onto threat levels. Thresholds are fixed
// at construction; the analyzer itself is stateless.
type Analyzer struct {
	cleanMax float64
	weirdMin float64
}

// NewAnalyzer creates an analyzer with the given band edges: scores at
// or below cleanMax are CLEAN, scores above weirdMin are WEIRD, and the
// band between is SUSPICIOUS.
func NewAnalyzer(cleanMax, weirdMin float64) *Analyzer {
	return &Analyzer{cleanMax: cleanMax, weirdMin: weirdMin}
}

// Classify scores s and returns both the raw entropy and its band.
func (a *Analyzer) Classify(s string) (float64, types.ThreatLevel) {
	h := Shannon(s)
	switch {
	case h > a.weirdMin:
		return h, types.ThreatWeird
	case h > a.cleanMax:
		return h, types.ThreatSuspicious
	default:
		return h, types.ThreatClean
	}
}
