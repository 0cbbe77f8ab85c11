// Package anomaly implements the structural, prompt-injection, size, and
// HMAC-presence checks run on observations before they are eligible for
// context re-injection (§4.4).
package anomaly

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/open-mem/cmem-worker/internal/store"
)

// Severity classifies a detected flag.
type Severity string

const (
	Warn  Severity = "warn"
	Block Severity = "block"
)

// Flag is one anomaly finding.
type Flag struct {
	Kind     string
	Severity Severity
	Detail   string
}

// Result is the outcome of detectAnomalies.
type Result struct {
	Clean bool
	Flags []Flag
}

const (
	sizeBlockBytes = 50 * 1024
	sizeWarnBytes  = 8 * 1024
)

// injectionPatterns is a bounded set of case-insensitive prompt-injection
// signatures. First match wins; later matches are skipped (§4.4).
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore (all )?(previous|prior|above|earlier) (instructions|context|prompt)`),
	regexp.MustCompile(`(?i)you are now (a|an|the) `),
	regexp.MustCompile(`(?i)new (system )?(prompt|instructions|context|rules):`),
	regexp.MustCompile(`(?i)\[(system|assistant|human|inst)\]`),
	regexp.MustCompile(`(?i)<\|system\|>`),
	regexp.MustCompile(`(?i)important: you must|important: you always|important: you never|important: ignore`),
	regexp.MustCompile(`(?i)disregard (all )?(previous|prior) `),
	regexp.MustCompile(`(?i)jailbreak`),
	regexp.MustCompile(`(?i)dan mode`),
	regexp.MustCompile(`(?i)pretend you are (not an ai|a human)`),
}

// extraObsTypes are accepted only at the anomaly-check boundary, before
// an observation is coerced into the store's controlled vocabulary
// (§4.4 check 1).
var extraObsTypes = map[string]bool{"discovery": true, "change": true}

// DetectAnomalies runs every check, in order, against o.
func DetectAnomalies(o store.Observation) Result {
	var flags []Flag

	if !store.ValidObservationType(string(o.ObsType)) && !extraObsTypes[string(o.ObsType)] {
		flags = append(flags, Flag{Kind: "invalid_type", Severity: Block, Detail: fmt.Sprintf("obs_type %q not in controlled vocabulary", o.ObsType)})
	}

	if strings.TrimSpace(o.Narrative) == "" && strings.TrimSpace(o.Compressed) == "" {
		flags = append(flags, Flag{Kind: "empty_content", Severity: Warn, Detail: "narrative and compressed are both empty"})
	}

	haystack := o.Title + " " + o.Narrative + " " + o.Compressed
	for _, p := range injectionPatterns {
		if p.MatchString(haystack) {
			flags = append(flags, Flag{Kind: "prompt_injection", Severity: Block, Detail: "matched pattern: " + p.String()})
			break
		}
	}

	size := len(o.Narrative) + len(o.Compressed)
	switch {
	case size > sizeBlockBytes:
		flags = append(flags, Flag{Kind: "oversize", Severity: Block, Detail: fmt.Sprintf("%d bytes exceeds %d", size, sizeBlockBytes)})
	case size > sizeWarnBytes:
		flags = append(flags, Flag{Kind: "oversize", Severity: Warn, Detail: fmt.Sprintf("%d bytes exceeds %d", size, sizeWarnBytes)})
	}

	if o.HMAC == nil || *o.HMAC == "" {
		flags = append(flags, Flag{Kind: "missing_hmac", Severity: Warn, Detail: "observation has no HMAC tag"})
	}

	clean := true
	for _, f := range flags {
		if f.Severity == Block {
			clean = false
			break
		}
	}
	return Result{Clean: clean, Flags: flags}
}

// FilterObservations returns the subset with no block-severity flags,
// logging every flag encountered (including those on surviving rows).
func FilterObservations(obs []store.Observation) []store.Observation {
	out := make([]store.Observation, 0, len(obs))
	for _, o := range obs {
		result := DetectAnomalies(o)
		for _, f := range result.Flags {
			slog.Warn("anomaly flag", "observation_id", o.ID, "kind", f.Kind, "severity", f.Severity, "detail", f.Detail)
		}
		if result.Clean {
			out = append(out, o)
		}
	}
	return out
}
