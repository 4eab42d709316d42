package a2a

import (
	"fmt"
	"regexp"
	"strings"
)

// Trust tiers (spec §4.9.9).
const (
	TrustVerified  = "verified"
	TrustCommunity = "community"
	TrustUntrusted = "untrusted"
)

// TrustPolicy is the per-tier security policy (spec §4.9.9's table).
type TrustPolicy struct {
	AllowFileSend        bool
	AllowFileReceive     bool
	MaxTextLen           int
	MaxRounds            int
	RequireConfirmation  bool
	ScorePenalty         float64
}

var policies = map[string]TrustPolicy{
	TrustVerified:  {AllowFileSend: true, AllowFileReceive: true, MaxTextLen: 100000, MaxRounds: 20, RequireConfirmation: false, ScorePenalty: 0},
	TrustCommunity: {AllowFileSend: false, AllowFileReceive: true, MaxTextLen: 50000, MaxRounds: 10, RequireConfirmation: false, ScorePenalty: 1},
	TrustUntrusted: {AllowFileSend: false, AllowFileReceive: false, MaxTextLen: 20000, MaxRounds: 3, RequireConfirmation: true, ScorePenalty: 2},
}

// PolicyFor returns the policy for a trust level, defaulting to untrusted
// for any unrecognized value.
func PolicyFor(level string) TrustPolicy {
	if p, ok := policies[level]; ok {
		return p
	}
	return policies[TrustUntrusted]
}

// sensitivePattern is one named secret-detection regex (spec §4.9.9,
// grounded on original_source/adapters/a2a/security.py's _SENSITIVE_PATTERNS).
type sensitivePattern struct {
	name string
	re   *regexp.Regexp
}

var sensitivePatterns = []sensitivePattern{
	{"api_key", regexp.MustCompile(`(?i)(?:api[_-]?key|apikey)\s*[:=]\s*"?'?([A-Za-z0-9_\-]{20,})`)},
	{"bearer_token", regexp.MustCompile(`(?i)(?:bearer|token|auth)\s*[:=]\s*"?'?([A-Za-z0-9_\-.]{20,})`)},
	{"private_key_hex", regexp.MustCompile(`(?i)(?:private[_-]?key|secret[_-]?key)\s*[:=]\s*"?'?(0x[a-fA-F0-9]{64})`)},
	{"private_key_pem", regexp.MustCompile(`(?i)-----BEGIN\s+(?:RSA\s+)?PRIVATE\s+KEY-----`)},
	{"mnemonic", regexp.MustCompile(`(?i)(?:mnemonic|seed)\s*[:=]\s*"?'?([a-z]+(?:\s+[a-z]+){11,23})`)},
	{"aws_key", regexp.MustCompile(`(?i)(?:AKIA|ASIA)[A-Z0-9]{16}`)},
	{"env_secret", regexp.MustCompile(`(?i)(?:export\s+)?(?:SECRET|TOKEN|PASSWORD|API_KEY|PRIVATE_KEY)\s*=\s*"?'?([^\s"']+)`)},
}

type injectionPattern struct {
	name string
	re   *regexp.Regexp
}

var injectionPatterns = []injectionPattern{
	{"prompt_injection", regexp.MustCompile(`(?i)(?:ignore\s+(?:all\s+)?previous\s+instructions|system\s*:\s*you\s+are|forget\s+(?:all\s+)?(?:your\s+)?instructions|new\s+system\s+prompt)`)},
	{"command_injection", regexp.MustCompile(`(?i)(?:;\s*(?:rm|del|format|sudo|chmod|chown|curl|wget)\s|\|\s*(?:bash|sh|zsh|python|node)\s)`)},
	{"encoded_payload", regexp.MustCompile(`(?i)eval\s*\(\s*(?:atob|Buffer\.from|base64\.decode)`)},
}

var internalMarkers = []*regexp.Regexp{
	regexp.MustCompile(`\[A2A source: [^\]]+\]\s*`),
	regexp.MustCompile(`\[SubTaskSpec\]\s*`),
	regexp.MustCompile(`\[cleo_task_id: [^\]]+\]\s*`),
}

// InboundValidation is the result of validating an inbound A2A response
// (spec §4.9.9).
type InboundValidation struct {
	Text         string
	Clean        bool
	Blocked      bool
	Warnings     []string
	ScorePenalty float64
}

// SecurityFilter is the bidirectional A2A content filter (spec §4.9.9).
type SecurityFilter struct{}

// NewSecurityFilter returns a stateless SecurityFilter. Redaction and
// injection pattern sets are fixed constants per spec §9's design note on
// the sensitive-pattern list.
func NewSecurityFilter() *SecurityFilter { return &SecurityFilter{} }

// SanitizeOutbound redacts secrets, strips internal markers, and truncates
// to the tier's max text length before a message leaves the process.
func (f *SecurityFilter) SanitizeOutbound(text, trustLevel string) string {
	if text == "" {
		return text
	}
	policy := PolicyFor(trustLevel)
	text = redactSecrets(text)
	text = stripInternalMarkers(text)
	if len(text) > policy.MaxTextLen {
		text = text[:policy.MaxTextLen] + "\n[truncated]"
	}
	return text
}

// ValidateInbound checks a response from an external agent for injection
// attempts and oversized/secret-laden content.
func (f *SecurityFilter) ValidateInbound(text, trustLevel string) InboundValidation {
	if text == "" {
		return InboundValidation{Text: "", Clean: true}
	}
	policy := PolicyFor(trustLevel)
	var warnings []string
	var blocked bool

	for _, hit := range checkInjections(text) {
		warnings = append(warnings, "injection detected: "+hit)
		if trustLevel == TrustUntrusted {
			blocked = true
		}
	}

	if len(text) > policy.MaxTextLen {
		text = text[:policy.MaxTextLen] + "\n[truncated by security filter]"
		warnings = append(warnings, fmt.Sprintf("response truncated to %d chars", policy.MaxTextLen))
	}

	if n := len(findSecrets(text)); n > 0 {
		warnings = append(warnings, fmt.Sprintf("response contains %d potential secrets", n))
	}

	return InboundValidation{
		Text:         text,
		Clean:        len(warnings) == 0,
		Blocked:      blocked,
		Warnings:     warnings,
		ScorePenalty: policy.ScorePenalty,
	}
}

func redactSecrets(text string) string {
	for _, p := range sensitivePatterns {
		if p.re.MatchString(text) {
			text = p.re.ReplaceAllString(text, "[REDACTED:"+p.name+"]")
		}
	}
	return text
}

func findSecrets(text string) []string {
	var found []string
	for _, p := range sensitivePatterns {
		if p.re.MatchString(text) {
			found = append(found, p.name)
		}
	}
	return found
}

func checkInjections(text string) []string {
	var hits []string
	for _, p := range injectionPatterns {
		if p.re.MatchString(text) {
			hits = append(hits, p.name)
		}
	}
	return hits
}

func stripInternalMarkers(text string) string {
	for _, re := range internalMarkers {
		text = re.ReplaceAllString(text, "")
	}
	return text
}

// ResolveTrust implements spec §4.9.9's precedence: static remotes whose
// URL is a prefix of the target, then registries whose hostname matches
// the target's hostname (→ community), else untrusted.
func ResolveTrust(agentURL string, remotes []RemoteAgent, registryHosts []string) string {
	if agentURL == "" {
		return TrustUntrusted
	}
	normalized := strings.ToLower(strings.TrimRight(agentURL, "/"))
	for _, r := range remotes {
		ru := strings.ToLower(strings.TrimRight(r.URL, "/"))
		if ru != "" && strings.HasPrefix(normalized, ru) {
			if _, ok := policies[r.TrustLevel]; ok {
				return r.TrustLevel
			}
			return TrustVerified
		}
	}
	agentHost := hostnameOf(normalized)
	for _, h := range registryHosts {
		if h != "" && agentHost != "" && strings.EqualFold(h, agentHost) {
			return TrustCommunity
		}
	}
	return TrustUntrusted
}

func hostnameOf(rawURL string) string {
	rest := rawURL
	if idx := strings.Index(rest, "://"); idx >= 0 {
		rest = rest[idx+3:]
	}
	if idx := strings.IndexAny(rest, "/:"); idx >= 0 {
		rest = rest[:idx]
	}
	return rest
}
