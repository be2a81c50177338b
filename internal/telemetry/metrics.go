package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the shield gateway.
type Metrics struct {
	RequestTotal       *prometheus.CounterVec
	RequestDurationMs  *prometheus.HistogramVec
	BlockTotal         *prometheus.CounterVec
	EntropyScore       prometheus.Histogram
	TokensTotal        *prometheus.CounterVec
	TokensSavedTotal   prometheus.Counter
	JudgeVerdictTotal  *prometheus.CounterVec
	SieveFallbackTotal prometheus.Counter
	UpstreamErrorTotal *prometheus.CounterVec
	RateLimitedTotal   prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shield_request_total",
			Help: "Total number of requests processed by the shield.",
		}, []string{"outcome", "threat_level"}),

		RequestDurationMs: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shield_request_duration_ms",
			Help:    "Total request duration in milliseconds (including upstream latency).",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"outcome"}),

		BlockTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shield_block_total",
			Help: "Total blocked requests by block kind.",
		}, []string{"kind"}),

		EntropyScore: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "shield_entropy_score",
			Help:    "Shannon entropy of target prompts in bits per symbol.",
			Buckets: []float64{1, 2, 3, 4, 4.5, 5, 5.5, 6, 6.5, 7, 7.5},
		}),

		TokensTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shield_tokens_total",
			Help: "Total upstream tokens billed through the shield.",
		}, []string{"direction"}),

		TokensSavedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shield_tokens_saved_total",
			Help: "Total tokens stripped from prompts by the sieve.",
		}),

		JudgeVerdictTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shield_judge_verdict_total",
			Help: "Judge verdicts on suspicious prompts.",
		}, []string{"verdict"}),

		SieveFallbackTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shield_sieve_fallback_total",
			Help: "Requests forwarded uncompressed because the sieve failed.",
		}),

		UpstreamErrorTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shield_upstream_error_total",
			Help: "Upstream completion failures by kind.",
		}, []string{"kind"}),

		RateLimitedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shield_rate_limited_total",
			Help: "Requests rejected by the inbound rate limiter.",
		}),
	}
}

// RegisterPenaltyGauge exposes the penalty store size as a gauge.
func (m *Metrics) RegisterPenaltyGauge(size func() int) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "shield_penalty_records",
		Help: "Live records in the penalty store.",
	}, func() float64 { return float64(size()) })
}

// RecordRequest records metrics for a finished request.
func (m *Metrics) RecordRequest(labels RequestLabels) {
	m.RequestTotal.WithLabelValues(labels.Outcome, labels.ThreatLevel).Inc()
	m.RequestDurationMs.WithLabelValues(labels.Outcome).Observe(labels.DurationMs)
	m.EntropyScore.Observe(labels.EntropyScore)

	if labels.TokensSaved > 0 {
		m.TokensSavedTotal.Add(float64(labels.TokensSaved))
	}
	if labels.PromptTokens > 0 {
		m.TokensTotal.WithLabelValues("prompt").Add(float64(labels.PromptTokens))
	}
	if labels.CompletionTokens > 0 {
		m.TokensTotal.WithLabelValues("completion").Add(float64(labels.CompletionTokens))
	}
}

// RecordBlock records a blocked request by kind.
func (m *Metrics) RecordBlock(kind string) {
	m.BlockTotal.WithLabelValues(kind).Inc()
}

// RecordJudgeVerdict records a judge outcome: valid, invalid or error.
func (m *Metrics) RecordJudgeVerdict(verdict string) {
	m.JudgeVerdictTotal.WithLabelValues(verdict).Inc()
}

// RecordSieveFallback records a compression failure that fell back to
// the original text.
func (m *Metrics) RecordSieveFallback() {
	m.SieveFallbackTotal.Inc()
}

// RecordUpstreamError records an upstream failure by kind.
func (m *Metrics) RecordUpstreamError(kind string) {
	m.UpstreamErrorTotal.WithLabelValues(kind).Inc()
}

// RecordRateLimited records an inbound rate limit rejection.
func (m *Metrics) RecordRateLimited() {
	m.RateLimitedTotal.Inc()
}

// RequestLabels holds the label values for recording a request.
type RequestLabels struct {
	Outcome          string
	ThreatLevel      string
	DurationMs       float64
	EntropyScore     float64
	TokensSaved      int
	PromptTokens     int
	CompletionTokens int
}

// Outcome label values.
const (
	OutcomeAllowed       = "allowed"
	OutcomeBlocked       = "blocked"
	OutcomeUpstreamError = "upstream_error"
)
