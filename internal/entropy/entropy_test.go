package entropy

import (
	"math"
	"strings"
	"testing"

	"github.com/llmshield/shield-gateway/internal/types"
)

// printableASCII returns each of the 95 printable ASCII characters
// repeated n times. Uniform over 95 symbols gives H = log2(95) ~ 6.57,
// which sits above the default WEIRD threshold.
func printableASCII(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		for c := byte(32); c < 127; c++ {
			b.WriteByte(c)
		}
	}
	return b.String()
}

func TestShannon_Empty(t *testing.T) {
	if got := Shannon(""); got != 0 {
		t.Errorf("Shannon(\"\") = %f, want 0", got)
	}
}

func TestShannon_SingleSymbol(t *testing.T) {
	if got := Shannon("aaaaaaaa"); got != 0 {
		t.Errorf("Shannon of single repeated symbol = %f, want 0", got)
	}
}

func TestShannon_UniformDistributions(t *testing.T) {
	tests := []struct {
		text string
		want float64
	}{
		{"ab", 1.0},
		{"abcd", 2.0},
		{"abcdabcd", 2.0},
	}
	for _, tt := range tests {
		if got := Shannon(tt.text); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Shannon(%q) = %f, want %f", tt.text, got, tt.want)
		}
	}
}

func TestShannon_SkewedDistribution(t *testing.T) {
	// p(a)=2/3, p(b)=1/3
	want := -(2.0/3.0)*math.Log2(2.0/3.0) - (1.0/3.0)*math.Log2(1.0/3.0)
	if got := Shannon("aab"); math.Abs(got-want) > 1e-9 {
		t.Errorf("Shannon(\"aab\") = %f, want %f", got, want)
	}
}

func TestShannon_CodePoints(t *testing.T) {
	// Two distinct code points, uniform: 1 bit regardless of UTF-8 width.
	if got := Shannon("éè"); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("Shannon over multibyte runes = %f, want 1.0", got)
	}
}

func TestClassify_Bands(t *testing.T) {
	a := NewAnalyzer(5.5, 6.5)

	tests := []struct {
		name string
		text string
		want types.ThreatLevel
	}{
		{"english prose", "What is the capital of France? Please answer briefly.", types.ThreatClean},
		{"alphanumeric alphabet", "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789", types.ThreatSuspicious},
		{"full printable alphabet", printableASCII(3), types.ThreatWeird},
		{"empty", "", types.ThreatClean},
	}
	for _, tt := range tests {
		h, level := a.Classify(tt.text)
		if level != tt.want {
			t.Errorf("%s: Classify gave %s (H=%.3f), want %s", tt.name, level, h, tt.want)
		}
	}
}

func TestClassify_BoundariesAreInclusiveBelow(t *testing.T) {
	// Shannon("ab") is exactly 1.0, which lets the band edges be probed
	// without constructing strings of irrational entropy.
	tests := []struct {
		cleanMax float64
		weirdMin float64
		want     types.ThreatLevel
	}{
		{1.0, 2.0, types.ThreatClean},      // H == cleanMax stays CLEAN
		{0.9, 1.0, types.ThreatSuspicious}, // H == weirdMin stays SUSPICIOUS
		{0.5, 0.9, types.ThreatWeird},
	}
	for _, tt := range tests {
		_, level := NewAnalyzer(tt.cleanMax, tt.weirdMin).Classify("ab")
		if level != tt.want {
			t.Errorf("thresholds (%.1f, %.1f): got %s, want %s", tt.cleanMax, tt.weirdMin, level, tt.want)
		}
	}
}

func BenchmarkShannon_4KB(b *testing.B) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 90)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Shannon(text)
	}
}
