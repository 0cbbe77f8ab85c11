// Package search implements progressive-disclosure search over the
// store: a compact index layer, a chronological timeline window, and
// full-row hydration by id, plus keyword/type/date-range queries
// (§4.3).
package search

import (
	"sort"

	"github.com/open-mem/cmem-worker/internal/store"
)

// storeReader is the subset of *store.Store that Search depends on.
type storeReader interface {
	SearchIndex(query, project string, limit int) ([]store.SearchIndexRow, error)
	SearchFTS(query, project string, limit int) ([]store.Observation, error)
	SearchByType(obsType, project string, limit int) ([]store.Observation, error)
	SearchByDateRange(from, to int64, project string, limit int) ([]store.Observation, error)
	GetObservationsByIDs(ids []int64) ([]store.Observation, error)
	GetObservation(id int64) (*store.Observation, error)
	ListObservationsBySession(sessionID int64) ([]store.Observation, error)
}

// Search is the C3 component. It holds no mutable state across calls.
type Search struct {
	store storeReader
}

// New constructs a Search bound to a store.
func New(s storeReader) *Search {
	return &Search{store: s}
}

const (
	defaultIndexLimit    = 50
	defaultKeywordLimit  = 20
	defaultTimelineWindow = 5
)

// SearchIndex is Layer 1: compact rows for a query, capped at 50, so a
// caller can choose which to hydrate.
func (sc *Search) SearchIndex(query, project string) ([]store.SearchIndexRow, error) {
	return sc.store.SearchIndex(query, project, defaultIndexLimit)
}

// GetTimeline is Layer 2: for the anchor observation's session, the
// `window` observations before it, the anchor itself, and the `window`
// after it, all in chronological order (§4.3).
func (sc *Search) GetTimeline(anchorID int64, window int) ([]store.Observation, error) {
	if window <= 0 {
		window = defaultTimelineWindow
	}
	anchor, err := sc.store.GetObservation(anchorID)
	if err != nil {
		return nil, err
	}

	all, err := sc.store.ListObservationsBySession(anchor.SessionID)
	if err != nil {
		return nil, err
	}

	idx := -1
	for i, o := range all {
		if o.ID == anchor.ID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return []store.Observation{*anchor}, nil
	}

	start := idx - window
	if start < 0 {
		start = 0
	}
	end := idx + window + 1
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

// GetByIDs is Layer 3: full rows for the given ids, ordered by
// created_at ascending.
func (sc *Search) GetByIDs(ids []int64) ([]store.Observation, error) {
	return sc.store.GetObservationsByIDs(ids)
}

// SearchKeyword returns full observations ranked by BM25 (lower is
// better).
func (sc *Search) SearchKeyword(query, project string, limit int) ([]store.Observation, error) {
	if limit <= 0 {
		limit = defaultKeywordLimit
	}
	return sc.store.SearchFTS(query, project, limit)
}

// SearchByType returns observations of a given type, newest-first.
func (sc *Search) SearchByType(obsType, project string, limit int) ([]store.Observation, error) {
	if limit <= 0 {
		limit = defaultKeywordLimit
	}
	return sc.store.SearchByType(obsType, project, limit)
}

// SearchByDateRange returns observations in [from, to], ascending.
func (sc *Search) SearchByDateRange(from, to int64, project string, limit int) ([]store.Observation, error) {
	if limit <= 0 {
		limit = defaultKeywordLimit
	}
	return sc.store.SearchByDateRange(from, to, project, limit)
}

// sortByCreatedAtAsc is a small shared helper used where a caller needs
// a stable chronological order beyond what the store query already
// guarantees (e.g. after merging two queries).
func sortByCreatedAtAsc(obs []store.Observation) {
	sort.Slice(obs, func(i, j int) bool { return obs[i].CreatedAt < obs[j].CreatedAt })
}
