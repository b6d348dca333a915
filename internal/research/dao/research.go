// Package dao provides durable storage for queries and their result sets.
package dao

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	errors "github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/contentstudio/research-engine/internal/research/dto"
	"github.com/contentstudio/research-engine/internal/research/model"
	"github.com/contentstudio/research-engine/library/log"
	"github.com/contentstudio/research-engine/library/search"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Research persists queries and results.
type Research struct {
	db *sql.DB
}

// NewResearch creates a Research dao over db.
func NewResearch(db *sql.DB) *Research {
	return &Research{db: db}
}

// SaveQuery records one search invocation and returns its id.
func (d *Research) SaveQuery(ctx context.Context,
	text string, filters dto.SearchFilters, userID string) (int64, error) {
	filtersJSON, err := json.Marshal(filters)
	if err != nil {
		return 0, errors.Wrap(err, "marshal filters")
	}

	res, err := d.db.ExecContext(ctx, `
INSERT INTO research_queries (query_text, filters, user_id, status, created_at)
VALUES ($1, $2, $3, $4, $5)`,
		text, string(filtersJSON), userID, model.QueryStatusPending, time.Now().UTC())
	if err != nil {
		return 0, errors.Wrap(err, "insert research query")
	}

	queryID, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "read inserted query id")
	}

	return queryID, nil
}

// SaveResults stores the full result set of a query in one transaction.
func (d *Research) SaveResults(ctx context.Context,
	queryID int64, results []search.Result) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO research_results
  (query_id, title, content, source, url, relevance_score, data_type, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	if err != nil {
		return errors.Wrap(err, "prepare insert result")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range results {
		metadataJSON, err := json.Marshal(results[i].Metadata)
		if err != nil {
			return errors.Wrapf(err, "marshal metadata of result %q", results[i].Title)
		}

		if _, err := stmt.ExecContext(ctx,
			queryID,
			results[i].Title,
			results[i].Content,
			results[i].Source,
			results[i].URL,
			results[i].RelevanceScore,
			results[i].DataType,
			string(metadataJSON),
			now,
		); err != nil {
			return errors.Wrapf(err, "insert result %q", results[i].Title)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit results")
	}

	return nil
}

// MarkQueryCompleted flips the query status once its results are durable.
func (d *Research) MarkQueryCompleted(ctx context.Context, queryID int64) error {
	if _, err := d.db.ExecContext(ctx,
		`UPDATE research_queries SET status = $1 WHERE id = $2`,
		model.QueryStatusCompleted, queryID); err != nil {
		return errors.Wrapf(err, "mark query %d completed", queryID)
	}

	return nil
}

// GetQueryResults returns one page of a query's persisted results,
// 1-indexed, ordered by relevance then recency.
func (d *Research) GetQueryResults(ctx context.Context,
	queryID int64, page, pageSize int) (*dto.ResultPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	var total int
	if err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM research_results WHERE query_id = $1`, queryID).
		Scan(&total); err != nil {
		return nil, errors.Wrap(err, "count query results")
	}

	rows, err := d.db.QueryContext(ctx, `
SELECT title, content, source, url, relevance_score, data_type, metadata, created_at
FROM research_results
WHERE query_id = $1
ORDER BY relevance_score DESC, created_at DESC
LIMIT $2 OFFSET $3`,
		queryID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, errors.Wrap(err, "select query results")
	}
	defer rows.Close()

	results := make([]dto.StoredResult, 0, pageSize)
	for rows.Next() {
		var (
			item         dto.StoredResult
			metadataJSON sql.NullString
		)
		if err := rows.Scan(
			&item.Title,
			&item.Content,
			&item.Source,
			&item.URL,
			&item.RelevanceScore,
			&item.DataType,
			&metadataJSON,
			&item.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan result row")
		}

		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &item.Metadata); err != nil {
				// corrupted metadata should not hide the result itself
				log.Logger.Warn("unmarshal result metadata",
					zap.Error(err), zap.String("title", item.Title))
			}
		}

		results = append(results, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate result rows")
	}

	return &dto.ResultPage{
		Results:    results,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
	}, nil
}

// GetRecentQueries lists recorded queries newest first, optionally scoped
// to one user.
func (d *Research) GetRecentQueries(ctx context.Context,
	userID string, limit int) ([]model.Query, error) {
	if limit <= 0 {
		limit = 10
	}

	stmt := `
SELECT id, query_text, filters, user_id, status, created_at
FROM research_queries
ORDER BY created_at DESC, id DESC
LIMIT $1`
	args := []any{limit}
	if userID != "" {
		stmt = `
SELECT id, query_text, filters, user_id, status, created_at
FROM research_queries
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`
		args = []any{userID, limit}
	}

	rows, err := d.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select recent queries")
	}
	defer rows.Close()

	var queries []model.Query
	for rows.Next() {
		var (
			q           model.Query
			filtersJSON sql.NullString
			user        sql.NullString
		)
		if err := rows.Scan(&q.ID, &q.Text, &filtersJSON, &user, &q.Status, &q.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan query row")
		}

		q.UserID = user.String
		if filtersJSON.Valid && filtersJSON.String != "" {
			if err := json.Unmarshal([]byte(filtersJSON.String), &q.Filters); err != nil {
				log.Logger.Warn("unmarshal query filters",
					zap.Error(err), zap.Int64("query_id", q.ID))
			}
		}

		queries = append(queries, q)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate query rows")
	}

	return queries, nil
}

// SuggestQueries returns distinct past query texts containing the given
// fragment, most recently used first.
func (d *Research) SuggestQueries(ctx context.Context,
	fragment string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := d.db.QueryContext(ctx, `
SELECT query_text, MAX(created_at) AS last_used
FROM research_queries
WHERE query_text LIKE '%' || $1 || '%'
GROUP BY query_text
ORDER BY last_used DESC
LIMIT $2`,
		fragment, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select query suggestions")
	}
	defer rows.Close()

	var suggestions []string
	for rows.Next() {
		var (
			text     string
			lastUsed time.Time
		)
		if err := rows.Scan(&text, &lastUsed); err != nil {
			return nil, errors.Wrap(err, "scan suggestion row")
		}
		suggestions = append(suggestions, text)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate suggestion rows")
	}

	return suggestions, nil
}

// Analytics aggregates recorded search activity.
func (d *Research) Analytics(ctx context.Context) (*dto.Analytics, error) {
	stats := new(dto.Analytics)

	if err := d.db.QueryRowContext(ctx, `
SELECT COUNT(*), COUNT(DISTINCT query_text) FROM research_queries`).
		Scan(&stats.TotalSearches, &stats.UniqueQueries); err != nil {
		return nil, errors.Wrap(err, "count queries")
	}

	if err := d.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(AVG(relevance_score), 0) FROM research_results`).
		Scan(&stats.TotalResults, &stats.AvgRelevance); err != nil {
		return nil, errors.Wrap(err, "count results")
	}

	rows, err := d.db.QueryContext(ctx, `
SELECT source, COUNT(*) AS n
FROM research_results
GROUP BY source
ORDER BY n DESC, source ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "aggregate sources")
	}
	defer rows.Close()

	for rows.Next() {
		var s dto.SourceStats
		if err := rows.Scan(&s.Source, &s.Results); err != nil {
			return nil, errors.Wrap(err, "scan source stats")
		}
		stats.PopularSources = append(stats.PopularSources, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate source stats")
	}

	return stats, nil
}
