package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	if m.RequestTotal == nil {
		t.Error("RequestTotal should not be nil")
	}
	if m.RequestDurationMs == nil {
		t.Error("RequestDurationMs should not be nil")
	}
	if m.BlockTotal == nil {
		t.Error("BlockTotal should not be nil")
	}
	if m.EntropyScore == nil {
		t.Error("EntropyScore should not be nil")
	}
	if m.TokensTotal == nil {
		t.Error("TokensTotal should not be nil")
	}
	if m.TokensSavedTotal == nil {
		t.Error("TokensSavedTotal should not be nil")
	}
	if m.JudgeVerdictTotal == nil {
		t.Error("JudgeVerdictTotal should not be nil")
	}
	if m.SieveFallbackTotal == nil {
		t.Error("SieveFallbackTotal should not be nil")
	}
	if m.UpstreamErrorTotal == nil {
		t.Error("UpstreamErrorTotal should not be nil")
	}
	if m.RateLimitedTotal == nil {
		t.Error("RateLimitedTotal should not be nil")
	}
}

// testMetrics builds an unregistered Metrics so tests never collide
// with the default registry.
func testMetrics() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		RequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "test_shield_request_total", Help: "Test counter",
		}, []string{"outcome", "threat_level"}),
		RequestDurationMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "test_shield_request_duration_ms", Help: "Test histogram",
			Buckets: []float64{10, 100, 1000},
		}, []string{"outcome"}),
		BlockTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "test_shield_block_total", Help: "Test counter",
		}, []string{"kind"}),
		EntropyScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "test_shield_entropy_score", Help: "Test histogram",
			Buckets: []float64{2, 4, 6, 8},
		}),
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "test_shield_tokens_total", Help: "Test counter",
		}, []string{"direction"}),
		TokensSavedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "test_shield_tokens_saved_total", Help: "Test counter",
		}),
		JudgeVerdictTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "test_shield_judge_verdict_total", Help: "Test counter",
		}, []string{"verdict"}),
		SieveFallbackTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "test_shield_sieve_fallback_total", Help: "Test counter",
		}),
		UpstreamErrorTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "test_shield_upstream_error_total", Help: "Test counter",
		}, []string{"kind"}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "test_shield_rate_limited_total", Help: "Test counter",
		}),
	}
	reg.MustRegister(
		m.RequestTotal, m.RequestDurationMs, m.BlockTotal, m.EntropyScore,
		m.TokensTotal, m.TokensSavedTotal, m.JudgeVerdictTotal,
		m.SieveFallbackTotal, m.UpstreamErrorTotal, m.RateLimitedTotal,
	)
	return m, reg
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return *metric.Counter.Value
}

func TestRecordRequest(t *testing.T) {
	m, _ := testMetrics()

	m.RecordRequest(RequestLabels{
		Outcome:          OutcomeAllowed,
		ThreatLevel:      "CLEAN",
		DurationMs:       150,
		EntropyScore:     4.2,
		TokensSaved:      40,
		PromptTokens:     100,
		CompletionTokens: 50,
	})

	counter, err := m.RequestTotal.GetMetricWithLabelValues(OutcomeAllowed, "CLEAN")
	if err != nil {
		t.Fatalf("failed to get metric: %v", err)
	}
	if v := counterValue(t, counter); v != 1 {
		t.Errorf("request count = %v, want 1", v)
	}

	prompt, _ := m.TokensTotal.GetMetricWithLabelValues("prompt")
	if v := counterValue(t, prompt); v != 100 {
		t.Errorf("prompt tokens = %v, want 100", v)
	}
	completion, _ := m.TokensTotal.GetMetricWithLabelValues("completion")
	if v := counterValue(t, completion); v != 50 {
		t.Errorf("completion tokens = %v, want 50", v)
	}
	if v := counterValue(t, m.TokensSavedTotal); v != 40 {
		t.Errorf("tokens saved = %v, want 40", v)
	}

	var metric dto.Metric
	if err := m.EntropyScore.Write(&metric); err != nil {
		t.Fatalf("write histogram: %v", err)
	}
	if *metric.Histogram.SampleCount != 1 {
		t.Errorf("entropy samples = %v, want 1", *metric.Histogram.SampleCount)
	}
}

func TestRecordRequest_SkipsZeroTokenCounters(t *testing.T) {
	m, _ := testMetrics()

	m.RecordRequest(RequestLabels{Outcome: OutcomeBlocked, ThreatLevel: "WEIRD"})

	if v := counterValue(t, m.TokensSavedTotal); v != 0 {
		t.Errorf("tokens saved = %v, want 0", v)
	}
	prompt, _ := m.TokensTotal.GetMetricWithLabelValues("prompt")
	if v := counterValue(t, prompt); v != 0 {
		t.Errorf("prompt tokens = %v, want 0", v)
	}
}

func TestRecordBlock(t *testing.T) {
	m, _ := testMetrics()

	m.RecordBlock("security_hijack")
	m.RecordBlock("security_hijack")
	m.RecordBlock("entropy_weird")

	hijack, _ := m.BlockTotal.GetMetricWithLabelValues("security_hijack")
	if v := counterValue(t, hijack); v != 2 {
		t.Errorf("hijack blocks = %v, want 2", v)
	}
	weird, _ := m.BlockTotal.GetMetricWithLabelValues("entropy_weird")
	if v := counterValue(t, weird); v != 1 {
		t.Errorf("weird blocks = %v, want 1", v)
	}
}

func TestRecordCollaboratorSignals(t *testing.T) {
	m, _ := testMetrics()

	m.RecordJudgeVerdict("invalid")
	m.RecordSieveFallback()
	m.RecordUpstreamError("rate_limit")
	m.RecordRateLimited()

	invalid, _ := m.JudgeVerdictTotal.GetMetricWithLabelValues("invalid")
	if v := counterValue(t, invalid); v != 1 {
		t.Errorf("judge invalid = %v, want 1", v)
	}
	if v := counterValue(t, m.SieveFallbackTotal); v != 1 {
		t.Errorf("sieve fallbacks = %v, want 1", v)
	}
	rateLimit, _ := m.UpstreamErrorTotal.GetMetricWithLabelValues("rate_limit")
	if v := counterValue(t, rateLimit); v != 1 {
		t.Errorf("upstream rate limit errors = %v, want 1", v)
	}
	if v := counterValue(t, m.RateLimitedTotal); v != 1 {
		t.Errorf("rate limited = %v, want 1", v)
	}
}
