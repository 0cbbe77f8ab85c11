// Package contextbuilder assembles the token-budgeted markdown context
// block the assistant re-ingests at session start (§4.7).
package contextbuilder

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/open-mem/cmem-worker/internal/anomaly"
	"github.com/open-mem/cmem-worker/internal/store"
)

const (
	// charsPerToken approximates the token->character ratio (§4.7
	// "character budget ≈ 4·B").
	charsPerToken = 4

	defaultMaxSessions     = 5
	defaultMaxObservations = 40
)

// typePriority orders observation types for inclusion when the
// observation section must be trimmed (§4.7).
var typePriority = map[store.ObservationType]int{
	store.ObsError:    9,
	store.ObsBugfix:   8,
	store.ObsDecision: 7,
	"discovery":       6,
	"change":          5,
	store.ObsFeature:  4,
	store.ObsRefactor: 3,
	store.ObsConfig:   2,
	store.ObsResearch: 1,
	store.ObsOther:    0,
}

// Result is the output of Build.
type Result struct {
	Markdown         string
	ObservationCount int
	SummaryCount     int
	TokenEstimate    int
	Truncated        bool
}

// dataSource is the subset of store/search functionality Build depends
// on.
type dataSource interface {
	ListRecentSummaries(project string, limit int) ([]store.Summary, error)
}

// Options configures a single Build call.
type Options struct {
	Project         string
	MaxTokens       int
	MaxSessions     int
	MaxObservations int
}

// Build assembles header, summaries, observations, and footer sections,
// each measured against the remaining character budget, and wraps the
// whole body in a single <c-mem-context> element (§4.7).
func Build(store_ dataSource, observations []store.Observation, opts Options) (Result, error) {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1800
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = defaultMaxSessions
	}
	if opts.MaxObservations <= 0 {
		opts.MaxObservations = defaultMaxObservations
	}

	budget := opts.MaxTokens * charsPerToken
	var body strings.Builder
	truncated := false

	header := buildHeader(opts.Project)
	body.WriteString(header)
	budget -= len(header)

	summaries, err := store_.ListRecentSummaries(opts.Project, opts.MaxSessions)
	if err != nil {
		return Result{}, fmt.Errorf("loading summaries: %w", err)
	}

	summarySection, summaryTruncated := buildSummarySection(summaries, budget)
	body.WriteString(summarySection)
	budget -= len(summarySection)
	if summaryTruncated {
		truncated = true
	}

	clean := anomaly.FilterObservations(observations)
	if len(clean) > opts.MaxObservations {
		clean = clean[:opts.MaxObservations]
	}
	if len(summaries) > 0 {
		clean = dropOtherType(clean)
	}
	sortByPriority(clean)

	obsSection, obsCount, obsTruncated := buildObservationSection(clean, budget)
	body.WriteString(obsSection)
	if obsTruncated {
		truncated = true
	}

	footer := buildFooter()
	body.WriteString(footer)

	wrapped := "<c-mem-context>\n" + body.String() + "</c-mem-context>"

	return Result{
		Markdown:         wrapped,
		ObservationCount: obsCount,
		SummaryCount:     len(summaries),
		TokenEstimate:    len(wrapped) / charsPerToken,
		Truncated:        truncated,
	}, nil
}

func buildHeader(project string) string {
	return fmt.Sprintf(
		"## Memory context for project: %s\n\n_This block is assembled automatically. Do not capture it as a new observation._\n\n",
		project,
	)
}

func buildFooter() string {
	return fmt.Sprintf("\n---\n_Generated at %s_\n", time.Now().UTC().Format(time.RFC3339))
}

func buildSummarySection(summaries []store.Summary, budget int) (string, bool) {
	if len(summaries) == 0 {
		return "", false
	}
	var b strings.Builder
	b.WriteString("### Recent session summaries\n\n")

	truncated := false
	for _, sm := range summaries {
		entry := formatSummary(sm)
		if b.Len()+len(entry) > budget {
			truncated = true
			break
		}
		b.WriteString(entry)
	}
	return b.String(), truncated
}

func formatSummary(sm store.Summary) string {
	date := time.Unix(sm.CreatedAt, 0).UTC().Format("2006-01-02 15:04")
	return fmt.Sprintf(
		"**%s**\n- Request: %s\n- Done: %s\n- Discovered: %s\n- Remaining: %s\n- Notes: %s\n\n",
		date, valueOr(sm.Request), valueOr(sm.Completed), valueOr(sm.Investigated), valueOr(sm.NextSteps), valueOr(sm.Learned),
	)
}

func valueOr(s *string) string {
	if s == nil || *s == "" {
		return "None"
	}
	return *s
}

func dropOtherType(obs []store.Observation) []store.Observation {
	out := make([]store.Observation, 0, len(obs))
	for _, o := range obs {
		if o.ObsType != store.ObsOther {
			out = append(out, o)
		}
	}
	return out
}

func sortByPriority(obs []store.Observation) {
	sort.SliceStable(obs, func(i, j int) bool {
		pi, pj := typePriority[obs[i].ObsType], typePriority[obs[j].ObsType]
		if pi != pj {
			return pi > pj
		}
		return obs[i].CreatedAt > obs[j].CreatedAt
	})
}

func buildObservationSection(obs []store.Observation, budget int) (string, int, bool) {
	if len(obs) == 0 {
		return "", 0, false
	}
	var b strings.Builder
	b.WriteString("### Observations\n\n")

	count := 0
	truncated := false
	for _, o := range obs {
		entry := formatObservation(o)
		if b.Len()+len(entry) > budget {
			truncated = true
			break
		}
		b.WriteString(entry)
		count++
	}
	return b.String(), count, truncated
}

func formatObservation(o store.Observation) string {
	date := time.Unix(o.CreatedAt, 0).UTC().Format("2006-01-02 15:04")
	sentence := firstSentence(o.Narrative)

	var b strings.Builder
	fmt.Fprintf(&b, "**%s** [%s] %s\n", date, o.ObsType, o.Title)
	b.WriteString(sentence + "\n")

	files := extractStringField(o.Compressed, "files_modified")
	if len(files) > 3 {
		files = files[:3]
	}
	for _, f := range files {
		fmt.Fprintf(&b, "- modified: %s\n", f)
	}

	facts := extractStringField(o.Compressed, "facts")
	if len(facts) > 2 {
		facts = facts[:2]
	}
	for _, f := range facts {
		fmt.Fprintf(&b, "- fact: %s\n", f)
	}
	b.WriteString("\n")
	return b.String()
}

func firstSentence(s string) string {
	idx := strings.IndexAny(s, ".!?")
	if idx == -1 {
		return s
	}
	return s[:idx+1]
}

// extractStringField parses a JSON-encoded list field out of the
// compressed blob, tolerating absence or malformed input.
func extractStringField(compressed, field string) []string {
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(compressed), &parsed); err != nil {
		return nil
	}
	raw, ok := parsed[field].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
