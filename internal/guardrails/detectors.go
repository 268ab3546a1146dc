package guardrails

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Pattern-based detectors. Each scans one text blob and returns zero or
// more violation descriptions plus the exact spans that matched, so the
// engine can sanitize them later. Detectors are stateless and pure:
// identical content always produces identical findings.

const (
	redactedToken = "[REDACTED]"
	filteredToken = "[FILTERED]"
)

type contentPattern struct {
	Name        string
	Description string
	Regex       *regexp.Regexp
}

// PatternMatch is a single hit from a pattern detector.
type PatternMatch struct {
	Pattern string
	Detail  string
	Span    string
}

var harmfulPatterns = []contentPattern{
	{
		Name:        "violence_instruction",
		Description: "instructions for violence or physical harm",
		Regex:       regexp.MustCompile(`(?i)how\s+to\s+(kill|hurt|harm|poison|attack)\s+(a|an|the)?\s*(person|someone|people|human)`),
	},
	{
		Name:        "weapon_construction",
		Description: "weapon or explosive construction guidance",
		Regex:       regexp.MustCompile(`(?i)(build|make|construct|assemble)\s+(a|an)?\s*(bomb|explosive|weapon|firearm|ghost\s+gun)`),
	},
	{
		Name:        "self_harm",
		Description: "self-harm encouragement",
		Regex:       regexp.MustCompile(`(?i)(best|easiest|painless)\s+way\s+to\s+(end\s+my\s+life|kill\s+myself)`),
	},
	{
		Name:        "malware_generation",
		Description: "malicious software generation request",
		Regex:       regexp.MustCompile(`(?i)(write|create|generate)\s+(a\s+)?(ransomware|keylogger|rootkit|botnet)`),
	},
}

var piiPatterns = []contentPattern{
	{
		Name:        "ssn",
		Description: "US social security number",
		Regex:       regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	},
	{
		Name:        "credit_card",
		Description: "payment card number",
		Regex:       regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`),
	},
	{
		Name:        "email",
		Description: "email address",
		Regex:       regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	},
	{
		Name:        "phone",
		Description: "phone number",
		Regex:       regexp.MustCompile(`\b(?:\+?1[-. ]?)?\(?\d{3}\)?[-. ]\d{3}[-. ]\d{4}\b`),
	},
	{
		Name:        "api_key",
		Description: "credential or API key material",
		Regex:       regexp.MustCompile(`(?i)(api[_-]?key|secret[_-]?key|access[_-]?token)\s*[=:]\s*['"]?[A-Za-z0-9_-]{16,}['"]?`),
	},
}

var injectionPatterns = []contentPattern{
	{
		Name:        "instruction_override",
		Description: "attempt to override prior instructions",
		Regex:       regexp.MustCompile(`(?i)(ignore|disregard|forget)\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?)`),
	},
	{
		Name:        "system_prompt_probe",
		Description: "attempt to extract the system prompt",
		Regex:       regexp.MustCompile(`(?i)(reveal|show|print|repeat|leak)\s+(me\s+)?(your|the)\s+(system\s+prompt|initial\s+instructions|hidden\s+rules)`),
	},
	{
		Name:        "role_hijack",
		Description: "attempt to reassign the assistant's role",
		Regex:       regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|in)\s|(?i)pretend\s+(you\s+are|to\s+be)\s+(an?\s+)?(unrestricted|unfiltered|jailbroken)`),
	},
	{
		Name:        "dan_jailbreak",
		Description: "known jailbreak framing",
		Regex:       regexp.MustCompile(`(?i)\b(DAN\s+mode|do\s+anything\s+now|developer\s+mode\s+enabled)\b`),
	},
	{
		Name:        "delimiter_escape",
		Description: "prompt delimiter escape sequence",
		Regex:       regexp.MustCompile(`(?i)(<\|im_start\|>|<\|im_end\|>|\[INST\]|\[/INST\]|</?system>)`),
	},
}

var toxicKeywords = []string{
	"idiot", "moron", "stupid", "worthless", "loser", "pathetic",
	"shut up", "kill yourself", "nobody likes you", "go to hell",
	"dumbass", "scumbag", "trash human", "waste of space",
}

// DetectHarmfulContent matches harmful-instruction patterns.
func DetectHarmfulContent(content string) []PatternMatch {
	return matchPatterns(content, harmfulPatterns)
}

// DetectPII matches personally identifiable information.
func DetectPII(content string) []PatternMatch {
	return matchPatterns(content, piiPatterns)
}

// DetectPromptInjection matches prompt-injection attempts.
func DetectPromptInjection(content string) []PatternMatch {
	return matchPatterns(content, injectionPatterns)
}

// DetectToxicKeywords matches a fixed toxic-phrase list case-insensitively.
func DetectToxicKeywords(content string) []PatternMatch {
	lowered := strings.ToLower(content)

	var matches []PatternMatch
	for _, kw := range toxicKeywords {
		if idx := strings.Index(lowered, kw); idx >= 0 {
			matches = append(matches, PatternMatch{
				Pattern: "toxic_keyword",
				Detail:  "toxic phrase detected",
				Span:    originalSpan(content, lowered, idx, len(kw)),
			})
		}
	}
	return matches
}

// originalSpan maps a byte range found in the lowered text back onto
// the original content. Lowering can change rune byte lengths (U+0130
// shrinks to a one-byte "i"), so offsets from the lowered text are not
// directly usable as slice bounds on the original.
func originalSpan(content, lowered string, idx, length int) string {
	if len(content) == len(lowered) {
		return content[idx : idx+length]
	}

	start := -1
	li := 0
	for ci, r := range content {
		if li == idx {
			start = ci
		}
		li += utf8.RuneLen(unicode.ToLower(r))
		if start >= 0 && li >= idx+length {
			return content[start : ci+utf8.RuneLen(r)]
		}
	}
	return lowered[idx : idx+length]
}

func matchPatterns(content string, patterns []contentPattern) []PatternMatch {
	var matches []PatternMatch
	for _, p := range patterns {
		for _, span := range p.Regex.FindAllString(content, -1) {
			matches = append(matches, PatternMatch{
				Pattern: p.Name,
				Detail:  p.Description,
				Span:    span,
			})
		}
	}
	return matches
}

// sanitize replaces PII spans with a redaction token and harmful or
// toxic spans with a filter token.
func sanitize(content string, pii, harmful, toxic []PatternMatch) string {
	out := content
	for _, m := range pii {
		out = strings.ReplaceAll(out, m.Span, redactedToken)
	}
	for _, m := range harmful {
		out = strings.ReplaceAll(out, m.Span, filteredToken)
	}
	for _, m := range toxic {
		out = strings.ReplaceAll(out, m.Span, filteredToken)
	}
	return out
}
