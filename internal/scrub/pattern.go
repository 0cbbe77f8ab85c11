// Package scrub redacts secrets and privacy markup from raw hook payloads
// before they reach the store.
package scrub

import (
	"regexp"
)

// compiledPattern holds a pre-compiled secret regex with its opaque
// replacement marker. Order matters: more specific patterns run before more
// generic ones so a single secret isn't partially matched by a broader rule
// first (mirrors the teacher's masking.CompiledPattern ordering contract).
type compiledPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// secretPatterns is the ordered, built-in pattern set. The opaque marker
// "[REDACTED:<name>]" never itself matches any pattern below, so repeated
// scrubbing is idempotent (see ScrubString's doc comment).
var secretPatterns = []compiledPattern{
	{
		name:        "aws_access_key_id",
		regex:       regexp.MustCompile(`\b(?:AKIA|ASIA|AROA|AIDA)[0-9A-Z]{16}\b`),
		replacement: "[REDACTED:aws_access_key_id]",
	},
	{
		name:        "aws_secret_key_assignment",
		regex:       regexp.MustCompile(`(?i)(aws_secret_access_key\s*[:=]\s*)['"]?[A-Za-z0-9/+=]{40}['"]?`),
		replacement: "${1}[REDACTED:aws_secret_key]",
	},
	{
		name:        "anthropic_key",
		regex:       regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_-]+\b`),
		replacement: "[REDACTED:anthropic_key]",
	},
	{
		name:        "generic_sk_key",
		regex:       regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{20,}\b`),
		replacement: "[REDACTED:api_key]",
	},
	{
		name:        "bearer_token",
		regex:       regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._-]{10,}\b`),
		replacement: "Bearer [REDACTED:token]",
	},
	{
		name:        "jwt",
		regex:       regexp.MustCompile(`\b[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\b`),
		replacement: "[REDACTED:jwt]",
	},
	{
		name:        "url_credentials",
		regex:       regexp.MustCompile(`(?i)(\b[a-z][a-z0-9+.-]*://)[^/\s:@]+:[^/\s:@]+@`),
		replacement: "${1}[REDACTED:credentials]@",
	},
	{
		name:        "keyword_assignment",
		regex:       regexp.MustCompile(`(?i)\b(password|passwd|secret|api_key|apikey|token)\s*[:=]\s*['"]?[^\s'",;]{3,}['"]?`),
		replacement: "${1}=[REDACTED:secret]",
	},
	{
		name:        "dotenv_assignment",
		regex:       regexp.MustCompile(`(?m)^([A-Z][A-Z0-9_]{2,})=([^\s]{8,})$`),
		replacement: "${1}=[REDACTED:env_value]",
	},
}

// maxReplacementsPerCall bounds how many matches a single pattern replaces
// in one call, guarding against pathological/adversarial input sizes.
const maxReplacementsPerCall = 100

// replaceBounded applies re to s at most maxReplacementsPerCall times,
// resetting any global per-call state so successive calls on different
// strings never skip matches due to leftover regexp state (regexp.Regexp
// itself is stateless per call, but this keeps the bound explicit and
// centralized for every pattern).
func replaceBounded(re *regexp.Regexp, s, repl string) string {
	count := 0
	return re.ReplaceAllStringFunc(s, func(match string) string {
		count++
		if count > maxReplacementsPerCall {
			return match
		}
		return re.ReplaceAllString(match, repl)
	})
}
