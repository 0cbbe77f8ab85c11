package scrub

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// ObservationByteLimit is the byte-size cap enforced on observation
// payloads after scrubbing (§4.1).
const ObservationByteLimit = 50 * 1024

// QueuePayloadByteLimit is the byte-size cap enforced on queue payloads
// (§3 QueueItem invariant).
const QueuePayloadByteLimit = 100 * 1024

// ScrubString replaces every match of the built-in secret-pattern set with a
// stable opaque marker, in the order declared in secretPatterns (more
// specific patterns before more generic ones). The markers never themselves
// match any pattern, so ScrubString(ScrubString(s)) == ScrubString(s).
func ScrubString(s string) string {
	out := s
	for _, p := range secretPatterns {
		out = replaceBounded(p.regex, out, p.replacement)
	}
	return out
}

// ScrubJSON deep-copies v, scrubbing every string value it finds (recursing
// into maps, slices, and nested structures produced by encoding/json's
// generic decode into interface{}). Non-string primitives pass through
// unchanged.
func ScrubJSON(v interface{}) interface{} {
	switch x := v.(type) {
	case string:
		return ScrubString(x)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, val := range x {
			out[k] = ScrubJSON(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, val := range x {
			out[i] = ScrubJSON(val)
		}
		return out
	default:
		return v
	}
}

var (
	privateBlockRe = regexp.MustCompile(`(?is)<private>.*?</private>`)
	contextBlockRe = regexp.MustCompile(`(?is)<c-mem-context>.*?</c-mem-context>`)
	// maxStripIterations bounds repeated-stripping passes against
	// pathological nested/overlapping markup.
	maxStripIterations = 20
)

// StripPrivacyMarkup removes <private>...</private> and
// <c-mem-context>...</c-mem-context> blocks, case-insensitively, iterating
// until no further block is found (bounded) so nested blocks are fully
// removed. Idempotent: StripPrivacyMarkup(StripPrivacyMarkup(s)) == s'.
func StripPrivacyMarkup(s string) string {
	out := s
	for i := 0; i < maxStripIterations; i++ {
		next := privateBlockRe.ReplaceAllString(out, "")
		next = contextBlockRe.ReplaceAllString(next, "")
		if next == out {
			return next
		}
		out = next
	}
	return out
}

// IsFullyPrivate reports whether s contained at least one privacy block and,
// after stripping, only whitespace remains.
func IsFullyPrivate(s string) bool {
	hadBlock := privateBlockRe.MatchString(s) || contextBlockRe.MatchString(s)
	if !hadBlock {
		return false
	}
	return strings.TrimSpace(StripPrivacyMarkup(s)) == ""
}

// truncationMarker is appended when EnforceByteLimit truncates input.
const truncationMarker = "\n...[truncated]"

// EnforceByteLimit truncates s on a UTF-8 code-point boundary so its byte
// length (including the truncation marker) does not exceed n, appending
// truncationMarker whenever truncation occurs.
func EnforceByteLimit(s string, n int) string {
	if len(s) <= n {
		return s
	}
	budget := n - len(truncationMarker)
	if budget <= 0 {
		return truncationMarker[:n]
	}
	// Walk back from budget to the nearest rune boundary.
	cut := budget
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncationMarker
}

// controlTagRe matches raw attempts to inject worker control tags into
// content the worker will later re-emit to the assistant.
var controlTagRe = regexp.MustCompile(`(?i)<c-mem-(compress|summarize|context)`)

// longBase64Re flags suspiciously long base64-looking runs, which often
// indicate embedded credentials or binary blobs that slipped past the
// structured patterns above.
var longBase64Re = regexp.MustCompile(`[A-Za-z0-9+/]{200,}={0,2}`)

// ValidationResult is the outcome of ValidateContent.
type ValidationResult struct {
	OK      bool
	Reason  string
	Warning string
}

// ValidateContent rejects raw inputs containing worker control tags (tag
// injection) and warns on very long base64 runs. Input is Unicode-normalized
// to NFKC before scanning so visually-equivalent encodings can't evade the
// check.
func ValidateContent(s string) ValidationResult {
	normalized := norm.NFKC.String(s)
	if controlTagRe.MatchString(normalized) {
		return ValidationResult{OK: false, Reason: "contains control tags"}
	}
	if longBase64Re.MatchString(normalized) {
		return ValidationResult{OK: true, Warning: "contains long base64 run"}
	}
	return ValidationResult{OK: true}
}

// String is a convenience formatter used in logs.
func (r ValidationResult) String() string {
	if !r.OK {
		return fmt.Sprintf("rejected: %s", r.Reason)
	}
	if r.Warning != "" {
		return fmt.Sprintf("ok (warning: %s)", r.Warning)
	}
	return "ok"
}
