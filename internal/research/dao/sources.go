package dao

import (
	"context"
	"database/sql"
	"time"

	errors "github.com/Laisky/errors/v2"

	"github.com/contentstudio/research-engine/internal/research/model"
	"github.com/contentstudio/research-engine/library/ratelimit"
	"github.com/contentstudio/research-engine/library/search"
)

// Sources maintains the registry of external data providers.
type Sources struct {
	db *sql.DB
}

// NewSources creates a Sources dao over db.
func NewSources(db *sql.DB) *Sources {
	return &Sources{db: db}
}

// defaultSources are seeded on startup so a fresh deployment searches every
// provider with the stock hourly quota. Operators tune rows in place.
var defaultSources = []model.DataSource{
	{Name: "arXiv", Type: string(search.KindAcademic), URL: "https://export.arxiv.org/api/query", RateLimit: ratelimit.DefaultLimit},
	{Name: "PubMed", Type: string(search.KindAcademic), URL: "https://pubmed.ncbi.nlm.nih.gov/", RateLimit: ratelimit.DefaultLimit},
	{Name: "Wikipedia", Type: string(search.KindWeb), URL: "https://en.wikipedia.org/w/api.php", RateLimit: ratelimit.DefaultLimit},
	{Name: "Google News", Type: string(search.KindWeb), URL: "https://news.google.com/rss/search", RateLimit: ratelimit.DefaultLimit},
	{Name: "World Bank", Type: string(search.KindStatistical), URL: "https://api.worldbank.org/v2/indicator", RateLimit: ratelimit.DefaultLimit},
}

// Seed inserts the default provider rows, leaving existing rows untouched.
func (d *Sources) Seed(ctx context.Context) error {
	for _, src := range defaultSources {
		if _, err := d.db.ExecContext(ctx, `
INSERT INTO data_sources (name, type, url, is_active, rate_limit, created_at)
VALUES ($1, $2, $3, 1, $4, $5)
ON CONFLICT(name) DO NOTHING`,
			src.Name, src.Type, src.URL, src.RateLimit, time.Now().UTC()); err != nil {
			return errors.Wrapf(err, "seed data source %q", src.Name)
		}
	}

	return nil
}

// ListActive returns every provider enabled for searching.
func (d *Sources) ListActive(ctx context.Context) ([]model.DataSource, error) {
	rows, err := d.db.QueryContext(ctx, `
SELECT id, name, type, url, is_active, rate_limit, created_at
FROM data_sources
WHERE is_active = 1
ORDER BY name ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "select active data sources")
	}
	defer rows.Close()

	var sources []model.DataSource
	for rows.Next() {
		var (
			src model.DataSource
			url sql.NullString
		)
		if err := rows.Scan(&src.ID, &src.Name, &src.Type, &url,
			&src.IsActive, &src.RateLimit, &src.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan data source row")
		}
		src.URL = url.String
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate data source rows")
	}

	return sources, nil
}
