package pipeline

import (
	"github.com/llmshield/shield-gateway/internal/detector"
	"github.com/llmshield/shield-gateway/internal/types"
)

// BlockKind names why the shield refused a request.
type BlockKind string

const (
	BlockBadRequest       BlockKind = "bad_request"
	BlockEntropyWeird     BlockKind = "entropy_weird"
	BlockSecurityHijack   BlockKind = "security_hijack"
	BlockSecurityOverride BlockKind = "security_override"
	BlockJudgeRejected    BlockKind = "judge_rejected"
)

// Block describes a refusal: what tripped and the message shown to the
// caller.
type Block struct {
	Kind   BlockKind
	Detail string
}

// Decision is the outcome of one pass through the stages. Exactly one
// of Block and Rewritten is set: a blocked request must never reach the
// upstream model, an allowed one is forwarded in rewritten form.
// Metadata is populated in both cases with whatever the stages computed
// before the decision fell.
type Decision struct {
	Block     *Block
	Rewritten *types.ChatRequest
	Metadata  types.ShieldMetadata
}

// Allowed reports whether the request may be forwarded upstream.
func (d Decision) Allowed() bool { return d.Block == nil }

// KindForFamily maps a signature family onto its block kind.
func KindForFamily(f detector.Family) BlockKind {
	if f == detector.FamilyInstructionOverride {
		return BlockSecurityOverride
	}
	return BlockSecurityHijack
}

func blocked(kind BlockKind, detail string, meta types.ShieldMetadata) Decision {
	return Decision{Block: &Block{Kind: kind, Detail: detail}, Metadata: meta}
}
