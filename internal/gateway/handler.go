// Package gateway is the HTTP surface of the shield: it parses inbound
// chat-completion requests, runs them through the decision pipeline,
// forwards allowed requests upstream, and grafts shield metadata onto
// every payload that leaves.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/llmshield/shield-gateway/internal/audit"
	"github.com/llmshield/shield-gateway/internal/detector"
	"github.com/llmshield/shield-gateway/internal/httputil"
	"github.com/llmshield/shield-gateway/internal/identity"
	"github.com/llmshield/shield-gateway/internal/pipeline"
	"github.com/llmshield/shield-gateway/internal/ratelimit"
	"github.com/llmshield/shield-gateway/internal/telemetry"
	"github.com/llmshield/shield-gateway/internal/types"
	"github.com/llmshield/shield-gateway/internal/upstream"
)

// usageWriteTimeout bounds the fire-and-forget token usage write after
// the response has been sent.
const usageWriteTimeout = 2 * time.Second

// Upstream forwards a rewritten request to the completion provider.
type Upstream interface {
	Complete(ctx context.Context, req *types.ChatRequest) ([]byte, *types.ChatResponse, error)
}

// Handler holds dependencies for the gateway HTTP handlers.
type Handler struct {
	pipe     *pipeline.Pipeline
	scanner  func() *detector.Scanner
	upstream Upstream
	journal  *audit.Journal
	usage    *ratelimit.UsageTracker
	metrics  *telemetry.Metrics
	version  string
}

func NewHandler(
	pipe *pipeline.Pipeline,
	scanner func() *detector.Scanner,
	up Upstream,
	journal *audit.Journal,
	usage *ratelimit.UsageTracker,
	metrics *telemetry.Metrics,
	version string,
) *Handler {
	return &Handler{
		pipe:     pipe,
		scanner:  scanner,
		upstream: up,
		journal:  journal,
		usage:    usage,
		metrics:  metrics,
		version:  version,
	}
}

// Root handles GET /.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "active",
		"service": "shield-gateway",
		"version": h.version,
	})
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	receivedAt := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequest(w, reqID, "Failed to read request body")
		return
	}
	defer r.Body.Close()

	var req types.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.WriteBadRequest(w, reqID, "Invalid JSON: "+err.Error())
		return
	}

	fp := identity.FromRequest(r).Fingerprint()
	decision := h.pipe.Decide(r.Context(), &req, fp, receivedAt)
	if !decision.Allowed() {
		h.writeBlock(w, reqID, fp, decision, receivedAt)
		return
	}

	raw, parsed, err := h.upstream.Complete(r.Context(), decision.Rewritten)
	if err != nil {
		h.writeUpstreamFailure(w, reqID, fp, decision.Metadata, err, receivedAt)
		return
	}

	out, err := AttachMetadata(raw, decision.Metadata)
	if err != nil {
		slog.Error("failed to attach shield metadata", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, "Failed to process upstream response")
		return
	}

	h.recordUsage(fp, parsed.Usage)

	duration := time.Since(receivedAt)
	meta := decision.Metadata
	slog.Info("request completed",
		"request_id", reqID,
		"fingerprint", fp,
		"threat_level", string(meta.ThreatLevel),
		"entropy_score", meta.EntropyScore,
		"attack_probability", string(meta.AttackProbability),
		"compression_level", meta.CompressionLevel,
		"tokens_saved", meta.TokensSaved,
		"prompt_tokens", parsed.Usage.PromptTokens,
		"completion_tokens", parsed.Usage.CompletionTokens,
		"duration_ms", duration.Milliseconds(),
	)
	if h.metrics != nil {
		h.metrics.RecordRequest(telemetry.RequestLabels{
			Outcome:          telemetry.OutcomeAllowed,
			ThreatLevel:      string(meta.ThreatLevel),
			DurationMs:       float64(duration.Milliseconds()),
			EntropyScore:     meta.EntropyScore,
			TokensSaved:      meta.TokensSaved,
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(out)
}

func (h *Handler) writeBlock(w http.ResponseWriter, reqID, fp string, decision pipeline.Decision, receivedAt time.Time) {
	block := decision.Block
	meta := decision.Metadata

	slog.Warn("request blocked",
		"request_id", reqID,
		"fingerprint", fp,
		"kind", string(block.Kind),
		"detail", block.Detail,
		"threat_level", string(meta.ThreatLevel),
		"entropy_score", meta.EntropyScore,
	)
	if h.metrics != nil {
		h.metrics.RecordBlock(string(block.Kind))
		h.metrics.RecordRequest(telemetry.RequestLabels{
			Outcome:      telemetry.OutcomeBlocked,
			ThreatLevel:  string(meta.ThreatLevel),
			DurationMs:   float64(time.Since(receivedAt).Milliseconds()),
			EntropyScore: meta.EntropyScore,
		})
	}
	h.journal.Record(audit.Event{
		RequestID:         reqID,
		Fingerprint:       fp,
		Kind:              string(block.Kind),
		ThreatLevel:       meta.ThreatLevel,
		EntropyScore:      meta.EntropyScore,
		Detail:            block.Detail,
		TrainingCandidate: trainingCandidate(block.Kind),
	})

	httputil.WriteShieldDetail(w, reqID, statusFor(block.Kind), block.Detail, &meta)
}

// trainingCandidate marks the prompts worth folding into the next
// detector iteration: entropy and judge blocks are live adversarial
// traffic, signature blocks are already covered by the rules.
func trainingCandidate(kind pipeline.BlockKind) bool {
	return kind == pipeline.BlockEntropyWeird || kind == pipeline.BlockJudgeRejected
}

func statusFor(kind pipeline.BlockKind) int {
	switch kind {
	case pipeline.BlockBadRequest, pipeline.BlockEntropyWeird:
		return http.StatusBadRequest
	case pipeline.BlockSecurityHijack, pipeline.BlockSecurityOverride, pipeline.BlockJudgeRejected:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeUpstreamFailure(w http.ResponseWriter, reqID, fp string, meta types.ShieldMetadata, err error, receivedAt time.Time) {
	slog.Error("upstream request failed",
		"request_id", reqID,
		"fingerprint", fp,
		"error", err,
	)
	if h.metrics != nil {
		h.metrics.RecordRequest(telemetry.RequestLabels{
			Outcome:      telemetry.OutcomeUpstreamError,
			ThreatLevel:  string(meta.ThreatLevel),
			DurationMs:   float64(time.Since(receivedAt).Milliseconds()),
			EntropyScore: meta.EntropyScore,
		})
	}

	var ue *upstream.Error
	if errors.As(err, &ue) {
		if h.metrics != nil {
			h.metrics.RecordUpstreamError(string(ue.Kind))
		}
		if ue.Kind == upstream.KindRateLimit {
			// The provider's own message passes through verbatim so
			// clients can tell provider throttling from shield blocks.
			httputil.WriteRateLimited(w, reqID, ue.Detail)
			return
		}
		httputil.WriteUpstreamError(w, reqID, ue.Detail)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordUpstreamError(string(upstream.KindUpstream))
	}
	httputil.WriteUpstreamError(w, reqID, "Upstream request failed")
}

// recordUsage adds the billed tokens to the caller's daily counter
// after the response is on the wire.
func (h *Handler) recordUsage(fp string, usage types.Usage) {
	if h.usage == nil || usage.TotalTokens <= 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), usageWriteTimeout)
		defer cancel()
		if err := h.usage.RecordTokens(ctx, fp, int64(usage.TotalTokens)); err != nil {
			slog.Warn("failed to record token usage", "error", err, "fingerprint", fp)
		}
	}()
}

type shieldCheckRequest struct {
	Prompt string `json:"prompt"`
}

// ShieldCheck handles POST /shield, the legacy signature-scan-only
// endpoint kept for callers that predate the full proxy.
func (h *Handler) ShieldCheck(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	var req shieldCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, reqID, "Invalid JSON: "+err.Error())
		return
	}
	defer r.Body.Close()
	if req.Prompt == "" {
		httputil.WriteBadRequest(w, reqID, "prompt is required")
		return
	}

	if match, hit := h.scanner().Scan(req.Prompt); hit {
		if h.metrics != nil {
			h.metrics.RecordBlock(string(pipeline.KindForFamily(match.Family)))
		}
		httputil.WriteForbidden(w, reqID, "Security Block: Malicious Prompt Detected")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":           "Safe",
		"processed_prompt": req.Prompt,
		"note":             "This prompt passed all security filters.",
	})
}
