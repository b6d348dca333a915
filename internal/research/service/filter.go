package service

import (
	"time"

	"github.com/Laisky/zap"

	"github.com/contentstudio/research-engine/internal/research/dto"
	"github.com/contentstudio/research-engine/library/log"
	"github.com/contentstudio/research-engine/library/search"
)

// dateLayouts are tried in order when parsing a result's publication date.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
}

// requestedKinds resolves the sources filter to the set of kinds to search.
// Unknown kind names are dropped rather than failing the search; an empty or
// fully-unknown filter means every kind.
func requestedKinds(filters dto.SearchFilters) map[search.Kind]bool {
	kinds := make(map[search.Kind]bool, len(search.Kinds()))
	for _, raw := range filters.Sources {
		kind, ok := search.ParseKind(raw)
		if !ok {
			log.Logger.Warn("ignore unknown source kind", zap.String("kind", raw))
			continue
		}
		kinds[kind] = true
	}

	if len(kinds) == 0 {
		for _, kind := range search.Kinds() {
			kinds[kind] = true
		}
	}

	return kinds
}

// applyFilters drops results that fail any non-empty filter constraint.
// kindOf maps provider names to their kind for the sources filter.
func applyFilters(results []search.Result,
	filters dto.SearchFilters, kindOf map[string]search.Kind) []search.Result {
	kinds := requestedKinds(filters)

	dataTypes := make(map[string]bool, len(filters.DataTypes))
	for _, dt := range filters.DataTypes {
		dataTypes[dt] = true
	}

	kept := make([]search.Result, 0, len(results))
	for _, result := range results {
		if kind, ok := kindOf[result.Source]; ok && !kinds[kind] {
			continue
		}
		if len(dataTypes) > 0 && !dataTypes[result.DataType] {
			continue
		}
		if result.RelevanceScore < filters.MinRelevance {
			continue
		}
		if !withinDateRange(result, filters.DateFrom, filters.DateTo) {
			continue
		}

		kept = append(kept, result)
	}

	return kept
}

// withinDateRange checks the result's publication date against the requested
// window. Results without a parseable date are kept, and an unparseable
// bound disables that side of the window.
func withinDateRange(result search.Result, from, to string) bool {
	if from == "" && to == "" {
		return true
	}

	published, ok := publicationDate(result)
	if !ok {
		return true
	}

	if fromDate, err := parseDate(from); from != "" && err == nil &&
		published.Before(fromDate) {
		return false
	}
	if toDate, err := parseDate(to); to != "" && err == nil &&
		published.After(toDate.Add(24*time.Hour-time.Nanosecond)) {
		return false
	}

	return true
}

func publicationDate(result search.Result) (time.Time, bool) {
	raw, ok := result.Metadata["publication_date"].(string)
	if !ok || raw == "" {
		return time.Time{}, false
	}

	published, err := parseDate(raw)
	if err != nil {
		return time.Time{}, false
	}

	return published, true
}

func parseDate(raw string) (time.Time, error) {
	var lastErr error
	for _, layout := range dateLayouts {
		parsed, err := time.Parse(layout, raw)
		if err == nil {
			return parsed, nil
		}
		lastErr = err
	}

	return time.Time{}, lastErr
}
