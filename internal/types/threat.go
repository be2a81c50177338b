package types

// ThreatLevel is the three-valued entropy classification of a prompt.
type ThreatLevel string

const (
	ThreatClean      ThreatLevel = "CLEAN"
	ThreatSuspicious ThreatLevel = "SUSPICIOUS"
	ThreatWeird      ThreatLevel = "WEIRD"
)

// Severity returns a numeric rank for comparison. Higher values mean a
// more dangerous prompt.
func (t ThreatLevel) Severity() int {
	switch t {
	case ThreatClean:
		return 0
	case ThreatSuspicious:
		return 1
	case ThreatWeird:
		return 2
	default:
		return -1
	}
}

// AttackProbability is the binary token-stuffing verdict derived from
// how much of a prompt the sieve was able to strip away.
type AttackProbability string

const (
	AttackLow  AttackProbability = "LOW"
	AttackHigh AttackProbability = "HIGH"
)
