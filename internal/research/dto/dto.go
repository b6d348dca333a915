// Package dto provides data transfer objects for the research API.
package dto

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/contentstudio/research-engine/library/search"
)

// SearchFilters narrows a search. Empty fields mean "no restriction".
type SearchFilters struct {
	// Sources restricts the search to the named source groups
	// (academic/web/statistical).
	Sources []string `json:"sources,omitempty"`
	// DataTypes keeps only results of the listed types, e.g. "news".
	DataTypes []string `json:"data_types,omitempty"`
	// DateFrom/DateTo bound the publication date, ISO format.
	DateFrom string `json:"date_from,omitempty"`
	DateTo   string `json:"date_to,omitempty"`
	// MinRelevance drops results scoring strictly below it, in [0,1].
	MinRelevance float64 `json:"min_relevance,omitempty"`
}

// Canonical renders the filters as JSON that is independent of the order the
// caller listed sources or data types in, so semantically identical filter
// sets serialize identically.
func (f SearchFilters) Canonical() string {
	canon := f
	canon.Sources = sortedCopy(f.Sources)
	canon.DataTypes = sortedCopy(f.DataTypes)

	// marshalling a struct with a fixed field order cannot fail
	raw, _ := json.Marshal(canon)
	return string(raw)
}

func sortedCopy(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	cloned := make([]string, len(values))
	copy(cloned, values)
	sort.Strings(cloned)
	return cloned
}

// CacheKey digests the normalized query text plus the canonical filters.
func CacheKey(query string, filters SearchFilters) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(query), " "))
	sum := md5.Sum([]byte(normalized + "_" + filters.Canonical()))
	return hex.EncodeToString(sum[:])
}

// SearchResponse is the unit returned to callers and stored in the cache.
// Results holds the top slice of a possibly larger persisted set, so
// TotalResults may exceed len(Results).
type SearchResponse struct {
	QueryID         int64           `json:"query_id"`
	Query           string          `json:"query"`
	Filters         SearchFilters   `json:"filters"`
	TotalResults    int             `json:"total_results"`
	Results         []search.Result `json:"results"`
	SearchTime      time.Time       `json:"search_time"`
	SourcesSearched []string        `json:"sources_searched"`
	CacheKey        string          `json:"cache_key"`
}

// StoredResult is a persisted result row together with its write timestamp.
type StoredResult struct {
	search.Result
	CreatedAt time.Time `json:"created_at"`
}

// ResultPage is one page of persisted results for a query.
type ResultPage struct {
	Results    []StoredResult `json:"results"`
	TotalCount int            `json:"total_count"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
	TotalPages int            `json:"total_pages"`
}

// SourceStats is one row of the per-provider analytics aggregate.
type SourceStats struct {
	Source  string `json:"source"`
	Results int    `json:"results"`
}

// Analytics summarizes recorded search activity.
type Analytics struct {
	TotalSearches  int           `json:"total_searches"`
	UniqueQueries  int           `json:"unique_queries"`
	TotalResults   int           `json:"total_results"`
	PopularSources []SourceStats `json:"most_popular_sources"`
	AvgRelevance   float64       `json:"average_relevance"`
}
