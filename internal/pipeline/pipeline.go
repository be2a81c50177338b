// Package pipeline chains the shield's analysis stages into a single
// decision per request: extract the target message, scan it for known
// attack signatures, classify its entropy, consult the judge when the
// verdict is borderline, compress it through the sieve, and rewrite
// the request for the upstream model. Every stage that talks to an
// external collaborator fails open; only the shield's own detectors
// block.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/llmshield/shield-gateway/internal/config"
	"github.com/llmshield/shield-gateway/internal/detector"
	"github.com/llmshield/shield-gateway/internal/entropy"
	"github.com/llmshield/shield-gateway/internal/judge"
	"github.com/llmshield/shield-gateway/internal/penalty"
	"github.com/llmshield/shield-gateway/internal/sieve"
	"github.com/llmshield/shield-gateway/internal/telemetry"
	"github.com/llmshield/shield-gateway/internal/types"
)

// Sieve compresses a prompt at the requested aggressiveness. The
// pipeline treats any error as "keep the original text".
type Sieve interface {
	Compress(ctx context.Context, text string, level float64) (sieve.Result, error)
}

// Judge adjudicates a borderline prompt. The pipeline treats any error
// as "allow, unvalidated".
type Judge interface {
	Evaluate(ctx context.Context, prompt string) (judge.Verdict, error)
}

// TokenCounter estimates how many upstream tokens a text would cost.
type TokenCounter interface {
	Count(text string) int
}

// PenaltyStore tracks per-caller offense scores. *penalty.Store is the
// production implementation.
type PenaltyStore interface {
	RecordOffense(fp string, weight float64, now time.Time)
	RecordTokenCost(fp string, tokens int, now time.Time)
	IsPenalised(fp string, now time.Time) bool
}

// Pipeline runs the decision stages. Config and scanner are read
// through accessors so a hot reload takes effect on the next request
// without tearing the pipeline down.
type Pipeline struct {
	cfg       func() *config.Config
	scanner   func() *detector.Scanner
	penalties PenaltyStore
	counter   TokenCounter
	sieve     Sieve
	judge     Judge
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

// New assembles a pipeline. metrics may be nil.
func New(
	cfg func() *config.Config,
	scanner func() *detector.Scanner,
	penalties PenaltyStore,
	counter TokenCounter,
	sv Sieve,
	jd Judge,
	metrics *telemetry.Metrics,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:       cfg,
		scanner:   scanner,
		penalties: penalties,
		counter:   counter,
		sieve:     sv,
		judge:     jd,
		metrics:   metrics,
		logger:    logger,
	}
}

// Decide runs req through all stages and returns either a block or the
// rewritten request to forward. fp is the caller fingerprint used for
// penalty accounting, now the wall-clock instant of the request.
func (p *Pipeline) Decide(ctx context.Context, req *types.ChatRequest, fp string, now time.Time) Decision {
	cfg := p.cfg()

	meta := types.ShieldMetadata{
		ThreatLevel:        types.ThreatClean,
		AttackProbability:  types.AttackLow,
		CompressionLevel:   cfg.Compression.BaseLevel,
		EvaluatorValidated: true,
	}

	idx, ok := targetIndex(req, cfg.Pipeline.ScanLastUser)
	if !ok {
		return blocked(BlockBadRequest, "No messages found", meta)
	}
	target := req.Messages[idx].Content
	if strings.TrimSpace(target) == "" {
		return blocked(BlockBadRequest, "Empty prompt", meta)
	}

	if match, hit := p.scanner().Scan(target); hit {
		p.recordOffense(fp, penalty.WeightSignature, now)
		return blocked(KindForFamily(match.Family),
			"Security Block: "+match.Family.Label()+" Detected", meta)
	}

	score, threat := entropy.NewAnalyzer(cfg.Entropy.CleanMax, cfg.Entropy.WeirdMin).Classify(target)
	meta.EntropyScore = score
	meta.ThreatLevel = threat
	if threat == types.ThreatWeird {
		p.recordOffense(fp, penalty.WeightEntropyWeird, now)
		p.recordTokenCost(fp, p.counter.Count(target), now)
		detail := fmt.Sprintf("WEIRD prompt detected (H > %.1f). Blocked to prevent DDoS.", cfg.Entropy.WeirdMin)
		return blocked(BlockEntropyWeird, detail, meta)
	}

	// Penalised callers get maximum compression regardless of how
	// innocuous this particular prompt looks.
	level := cfg.Compression.BaseLevel
	if threat == types.ThreatSuspicious {
		level = cfg.Compression.SuspiciousLevel
	}
	if p.isPenalised(fp, now) {
		level = math.Max(level, cfg.Compression.PenalisedLevel)
		meta.UserPenaltyApplied = true
	}
	meta.CompressionLevel = level

	if threat == types.ThreatSuspicious && cfg.Judge.Enabled {
		verdict, err := p.judge.Evaluate(ctx, target)
		switch {
		case err != nil:
			// Judge outage must not turn into denial of service.
			meta.EvaluatorValidated = false
			p.recordJudgeVerdict("error")
			p.logger.Warn("judge unavailable, failing open",
				"error", err, "fingerprint", fp)
		case !verdict.Valid:
			meta.EvaluatorValidated = false
			meta.EvaluatorScore = verdict.Score
			p.recordJudgeVerdict("invalid")
			p.recordOffense(fp, penalty.WeightJudgeInvalid, now)
			p.recordTokenCost(fp, p.counter.Count(target), now)
			return blocked(BlockJudgeRejected, "Judge rejected the prompt as invalid", meta)
		default:
			meta.EvaluatorValidated = true
			meta.EvaluatorScore = verdict.Score
			p.recordJudgeVerdict("valid")
		}
	}

	originalTokens := p.counter.Count(target)
	forwarded := target
	tokensSaved := 0
	res, err := p.sieve.Compress(ctx, target, level)
	switch {
	case err != nil:
		p.recordSieveFallback()
		p.logger.Warn("sieve unavailable, forwarding original prompt",
			"error", err, "fingerprint", fp)
	case res.TokensSaved <= 0 || res.Text == "":
		// A compression that saves nothing is a no-op.
	default:
		forwarded = res.Text
		tokensSaved = res.TokensSaved
	}
	meta.TokensSaved = tokensSaved
	if originalTokens > 0 {
		meta.SavingsPct = 100 * float64(tokensSaved) / float64(originalTokens)
	}
	if meta.SavingsPct >= cfg.Compression.AttackThresholdPct {
		// Prompts that compress almost entirely away were padding.
		meta.AttackProbability = types.AttackHigh
		p.recordOffense(fp, penalty.WeightHighAttack, now)
	}

	rewritten := req.Clone()
	rewritten.Messages[idx].Content = forwarded
	return Decision{Rewritten: rewritten, Metadata: meta}
}

// targetIndex locates the message the shield inspects. The strict rule
// demands the final message be a user turn; scanLastUser relaxes it to
// the most recent user message anywhere in the conversation.
func targetIndex(req *types.ChatRequest, scanLastUser bool) (int, bool) {
	if len(req.Messages) == 0 {
		return 0, false
	}
	if scanLastUser {
		for i := len(req.Messages) - 1; i >= 0; i-- {
			if req.Messages[i].Role == types.RoleUser {
				return i, true
			}
		}
		return 0, false
	}
	last := len(req.Messages) - 1
	if req.Messages[last].Role != types.RoleUser {
		return 0, false
	}
	return last, true
}

// The penalty score is advisory: if the store ever panics the shield
// drops the update, not the request.
func (p *Pipeline) recordOffense(fp string, weight float64, now time.Time) {
	defer p.dropStorePanic("record_offense")
	p.penalties.RecordOffense(fp, weight, now)
}

func (p *Pipeline) recordTokenCost(fp string, tokens int, now time.Time) {
	defer p.dropStorePanic("record_token_cost")
	p.penalties.RecordTokenCost(fp, tokens, now)
}

func (p *Pipeline) isPenalised(fp string, now time.Time) (flagged bool) {
	defer p.dropStorePanic("is_penalised")
	return p.penalties.IsPenalised(fp, now)
}

func (p *Pipeline) dropStorePanic(op string) {
	if r := recover(); r != nil {
		p.logger.Error("penalty store panicked", "op", op, "panic", r)
	}
}

func (p *Pipeline) recordJudgeVerdict(v string) {
	if p.metrics != nil {
		p.metrics.RecordJudgeVerdict(v)
	}
}

func (p *Pipeline) recordSieveFallback() {
	if p.metrics != nil {
		p.metrics.RecordSieveFallback()
	}
}
