package detector

// DefaultRoleHijackPatterns returns the built-in role-hijack signatures:
// attempts to reassign the assistant's identity or privilege level.
// Case folding is applied by the scanner, not the patterns.
func DefaultRoleHijackPatterns() []string {
	return []string{
		`you\s+are\s+now\s+(?:an\s+)?(?:admin|administrator|root|superuser)`,
		`you\s+are\s+(?:now\s+)?(?:a\s+)?(?:developer|programmer|coder)`,
		`act\s+as\s+(?:if\s+you\s+are\s+)?(?:an?\s+)?(?:admin|developer|system)`,
		`pretend\s+you\s+are\s+(?:an?\s+)?(?:admin|developer|system)`,
		`from\s+now\s+on\s+you\s+are\s+(?:an?\s+)?(?:admin|developer)`,
	}
}

// DefaultInstructionOverridePatterns returns the built-in signatures for
// attempts to discard or supersede prior instructions.
func DefaultInstructionOverridePatterns() []string {
	return []string{
		`ignore\s+(?:all\s+)?(?:previous\s+)?(?:instructions|rules|guidelines)`,
		`forget\s+(?:all\s+)?(?:previous\s+|your\s+)?(?:instructions|rules|guidelines)`,
		`disregard\s+(?:all\s+)?(?:previous\s+)?(?:instructions|rules)`,
		`disregard\s+the\s+system\s+prompt`,
		`override\s+(?:all\s+)?(?:previous\s+)?(?:instructions|rules)`,
		`system\s+override`,
		`bypass\s+(?:all\s+)?(?:previous\s+)?(?:instructions|rules)`,
	}
}
