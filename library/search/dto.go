package search

import (
	"context"
	"strings"
)

// Kind groups providers by the capability they cover.
type Kind string

const (
	KindAcademic    Kind = "academic"
	KindWeb         Kind = "web"
	KindStatistical Kind = "statistical"
)

// Kinds lists every capability group in fan-out order.
func Kinds() []Kind {
	return []Kind{KindAcademic, KindWeb, KindStatistical}
}

// ParseKind maps a caller-supplied source group name onto a Kind.
// "statistics" is accepted as a legacy alias for statistical.
func ParseKind(s string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindAcademic:
		return KindAcademic, true
	case KindWeb:
		return KindWeb, true
	case KindStatistical, Kind("statistics"):
		return KindStatistical, true
	}

	return "", false
}

// Result captures a single candidate returned by one provider.
// Results are never mutated after construction; the orchestrator copies
// before filling a missing relevance score.
type Result struct {
	Title          string         `json:"title"`
	Content        string         `json:"content"`
	Source         string         `json:"source"`
	URL            string         `json:"url"`
	RelevanceScore float64        `json:"relevance_score"`
	DataType       string         `json:"data_type"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Connector defines a concrete provider backend that fetches candidate
// results for a free-text query.
//
// A connector owns its outbound timeout and never panics past its boundary;
// routine provider failures come back as an error that the orchestrator
// downgrades to an empty contribution.
type Connector interface {
	// Name returns the provider name recorded on each result, e.g. "arXiv".
	Name() string
	// Kind returns the capability group the provider belongs to.
	Kind() Kind
	// Search executes the query and returns candidate results when successful.
	Search(ctx context.Context, query string) ([]Result, error)
}
