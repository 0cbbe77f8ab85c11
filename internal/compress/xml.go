package compress

import (
	"regexp"
	"strings"
)

// xmlEscape replaces & < > " ' with their XML entity equivalents, used
// when building request bodies (§6.2).
func xmlEscape(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return r.Replace(s)
}

// elementRe builds a case-insensitive, permissive matcher for the first
// occurrence of <name>...</name>, tolerant of surrounding whitespace.
func elementRe(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?is)<` + name + `\s*>(.*?)</` + name + `\s*>`)
}

// firstElement extracts the first match of a named element, trimmed,
// or "" if absent. The response parser is deliberately permissive:
// first match per named element, case-insensitive (§6.2).
func firstElement(body, name string) string {
	m := elementRe(name).FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// repeatedElements extracts every occurrence of a named element inside a
// named container (e.g. every <tag> inside <tags>...</tags>), trimmed,
// in document order.
func repeatedElements(body, container, name string) []string {
	containerMatch := elementRe(container).FindStringSubmatch(body)
	if containerMatch == nil {
		return nil
	}
	matches := elementRe(name).FindAllStringSubmatch(containerMatch[1], -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		v := strings.TrimSpace(m[1])
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
