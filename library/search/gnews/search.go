// Package gnews queries the Google News RSS search feed.
package gnews

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/contentstudio/research-engine/library/log"
	"github.com/contentstudio/research-engine/library/search"
)

const (
	defaultEndpoint    = "https://news.google.com/rss/search"
	httpRequestTimeout = 10 * time.Second
	maxResults         = 10
	connectorName      = "Google News"
	contentLimit       = 300
)

// Option configures the Connector instance.
type Option func(*Connector)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Connector) {
		if client != nil {
			c.client = client
		}
	}
}

// WithEndpoint overrides the feed endpoint, primarily for testing.
func WithEndpoint(endpoint string) Option {
	return func(c *Connector) {
		trimmed := strings.TrimSpace(endpoint)
		if trimmed != "" {
			c.endpoint = trimmed
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger logSDK.Logger) Option {
	return func(c *Connector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Connector fetches news headlines from the Google News RSS feed.
type Connector struct {
	client   *http.Client
	endpoint string
	parser   *gofeed.Parser
	logger   logSDK.Logger
}

// NewConnector constructs a Google News-backed connector.
func NewConnector(opts ...Option) *Connector {
	c := &Connector{
		client:   &http.Client{Timeout: httpRequestTimeout},
		endpoint: defaultEndpoint,
		parser:   gofeed.NewParser(),
		logger:   log.Logger.Named("gnews"),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c
}

func (c *Connector) Name() string {
	return connectorName
}

func (c *Connector) Kind() search.Kind {
	return search.KindWeb
}

// Search fetches the RSS search feed and converts the items into results.
func (c *Connector) Search(ctx context.Context, query string) ([]search.Result, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, errors.New("search query cannot be empty")
	}

	endpoint, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid google news endpoint %q", c.endpoint)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "create google news request")
	}

	params := req.URL.Query()
	params.Set("q", trimmed)
	params.Set("hl", "en-US")
	params.Set("gl", "US")
	params.Set("ceid", "US:en")
	req.URL.RawQuery = params.Encode()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send google news request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("google news returned status %d", resp.StatusCode)
	}

	feed, err := c.parser.Parse(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "parse google news feed")
	}

	c.logger.Debug("incoming google news feed",
		zap.Int("items", len(feed.Items)),
		zap.String("query", trimmed),
	)

	items := feed.Items
	if len(items) > maxResults {
		items = items[:maxResults]
	}

	results := make([]search.Result, 0, len(items))
	for _, item := range items {
		title := strings.TrimSpace(item.Title)
		description := stripHTML(item.Description)
		if title == "" || description == "" {
			continue
		}

		publishedAt := item.Published
		if item.PublishedParsed != nil {
			publishedAt = item.PublishedParsed.UTC().Format(time.RFC3339)
		}

		results = append(results, search.Result{
			Title:          title,
			Content:        search.Snippet(description, contentLimit),
			Source:         connectorName,
			URL:            item.Link,
			RelevanceScore: search.Score(title+" "+description, trimmed),
			DataType:       "news",
			Metadata: map[string]any{
				"publication_date": publishedAt,
				"source_type":      "news_aggregator",
			},
		})
	}

	return results, nil
}

// stripHTML flattens the markup Google News embeds in item descriptions.
func stripHTML(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(doc.Text())
}
