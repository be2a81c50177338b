// Package detector matches prompts against known injection signatures.
// Two families are scanned in a fixed order: role-hijack attempts first,
// instruction overrides second. The first hit wins.
package detector

import (
	"fmt"
	"regexp"
)

// Family identifies which signature family produced a match.
type Family string

const (
	FamilyRoleHijack          Family = "role_hijacking"
	FamilyInstructionOverride Family = "instruction_override"
)

// Label returns the human form used in block messages.
func (f Family) Label() string {
	switch f {
	case FamilyRoleHijack:
		return "Role Hijacking"
	case FamilyInstructionOverride:
		return "Instruction Override"
	default:
		return string(f)
	}
}

// Match is a single signature hit.
type Match struct {
	Family   Family
	Pattern  string // source expression of the matching rule
	Fragment string // matched span of the prompt
}

// Scanner holds the compiled signature families. Patterns arrive from
// configuration as plain strings and are compiled once here, never on
// the request path.
type Scanner struct {
	hijack   []*regexp.Regexp
	override []*regexp.Regexp
}

// NewScanner compiles both families, forcing case-insensitive matching.
// An empty family falls back to the built-in defaults; an invalid
// expression fails construction.
func NewScanner(roleHijack, instructionOverride []string) (*Scanner, error) {
	if len(roleHijack) == 0 {
		roleHijack = DefaultRoleHijackPatterns()
	}
	if len(instructionOverride) == 0 {
		instructionOverride = DefaultInstructionOverridePatterns()
	}

	hijack, err := compile(roleHijack)
	if err != nil {
		return nil, fmt.Errorf("role hijack patterns: %w", err)
	}
	override, err := compile(instructionOverride)
	if err != nil {
		return nil, fmt.Errorf("instruction override patterns: %w", err)
	}
	return &Scanner{hijack: hijack, override: override}, nil
}

func compile(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Scan checks text against the hijack family, then the override family,
// and reports the first match.
func (s *Scanner) Scan(text string) (Match, bool) {
	if m, ok := scanFamily(s.hijack, FamilyRoleHijack, text); ok {
		return m, true
	}
	if m, ok := scanFamily(s.override, FamilyInstructionOverride, text); ok {
		return m, true
	}
	return Match{}, false
}

func scanFamily(rules []*regexp.Regexp, family Family, text string) (Match, bool) {
	for _, re := range rules {
		if loc := re.FindStringIndex(text); loc != nil {
			return Match{
				Family:   family,
				Pattern:  re.String(),
				Fragment: text[loc[0]:loc[1]],
			}, true
		}
	}
	return Match{}, false
}
