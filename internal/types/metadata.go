package types

// MetadataKey is the reserved top-level key under which shield metadata
// is attached to every proxied completion payload.
const MetadataKey = "llm_shield"

// ShieldMetadata describes what the shield did to a single request. It
// rides along on successful responses under MetadataKey and on block
// errors for telemetry.
type ShieldMetadata struct {
	ThreatLevel        ThreatLevel       `json:"threat_level"`
	EntropyScore       float64           `json:"entropy_score"`
	AttackProbability  AttackProbability `json:"attack_probability"`
	TokensSaved        int               `json:"tokens_saved"`
	SavingsPct         float64           `json:"savings_pct"`
	EvaluatorValidated bool              `json:"evaluator_validated"`
	EvaluatorScore     float64           `json:"evaluator_score"`
	CompressionLevel   float64           `json:"compression_level"`
	UserPenaltyApplied bool              `json:"user_penalty_applied"`
}
