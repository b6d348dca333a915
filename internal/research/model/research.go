// Package model holds the persisted shapes of the research engine.
package model

import (
	"time"

	"github.com/contentstudio/research-engine/internal/research/dto"
)

const (
	// QueryStatusPending marks a query whose results are not yet stored.
	QueryStatusPending = "pending"
	// QueryStatusCompleted marks a query with its full result set persisted.
	QueryStatusCompleted = "completed"
)

// Query is one recorded search invocation. Immutable once created apart
// from the status transition; ID is the join key for results.
type Query struct {
	ID        int64             `json:"id"`
	Text      string            `json:"query_text"`
	Filters   dto.SearchFilters `json:"filters"`
	UserID    string            `json:"user_id,omitempty"`
	Status    string            `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
}

// DataSource is one registered external provider.
type DataSource struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	URL       string    `json:"url,omitempty"`
	IsActive  bool      `json:"is_active"`
	RateLimit int       `json:"rate_limit"`
	CreatedAt time.Time `json:"created_at"`
}
