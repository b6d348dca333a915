// Package wikipedia queries the MediaWiki search API.
package wikipedia

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/PuerkitoBio/goquery"

	"github.com/contentstudio/research-engine/library/log"
	"github.com/contentstudio/research-engine/library/search"
)

const (
	defaultEndpoint    = "https://en.wikipedia.org/w/api.php"
	articleBaseURL     = "https://en.wikipedia.org"
	httpRequestTimeout = 10 * time.Second
	maxResults         = 10
	connectorName      = "Wikipedia"
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

// WithEndpoint overrides the API endpoint, primarily for testing.
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

// Connector fetches encyclopedia entries from the MediaWiki search API.
type Connector struct {
	client   *http.Client
	endpoint string
	logger   logSDK.Logger
}

// NewConnector constructs a Wikipedia-backed connector.
func NewConnector(opts ...Option) *Connector {
	c := &Connector{
		client:   &http.Client{Timeout: httpRequestTimeout},
		endpoint: defaultEndpoint,
		logger:   log.Logger.Named("wikipedia"),
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

// searchResponse models the subset of the MediaWiki list=search payload we use.
type searchResponse struct {
	Query struct {
		Search []searchHit `json:"search"`
	} `json:"query"`
}

type searchHit struct {
	Title     string `json:"title"`
	PageID    int    `json:"pageid"`
	Snippet   string `json:"snippet"`
	WordCount int    `json:"wordcount"`
	Timestamp string `json:"timestamp"`
}

// Search runs a full-text search and converts the hits into results.
func (c *Connector) Search(ctx context.Context, query string) ([]search.Result, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, errors.New("search query cannot be empty")
	}

	endpoint, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid wikipedia endpoint %q", c.endpoint)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "create wikipedia request")
	}

	params := req.URL.Query()
	params.Set("action", "query")
	params.Set("list", "search")
	params.Set("srsearch", trimmed)
	params.Set("srlimit", strconv.Itoa(maxResults))
	params.Set("srprop", "snippet|wordcount|timestamp")
	params.Set("format", "json")
	req.URL.RawQuery = params.Encode()
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send wikipedia request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read wikipedia response body")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("wikipedia returned status %d", resp.StatusCode)
	}

	var payload searchResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrap(err, "unmarshal wikipedia response")
	}

	c.logger.Debug("incoming wikipedia response",
		zap.Int("hits", len(payload.Query.Search)),
		zap.String("query", trimmed),
	)

	results := make([]search.Result, 0, len(payload.Query.Search))
	for _, hit := range payload.Query.Search {
		if hit.Title == "" {
			continue
		}

		summary := stripHTML(hit.Snippet)
		results = append(results, search.Result{
			Title:          hit.Title,
			Content:        summary,
			Source:         connectorName,
			URL:            fmt.Sprintf("%s/?curid=%d", articleBaseURL, hit.PageID),
			RelevanceScore: search.Score(hit.Title+" "+summary, trimmed),
			DataType:       "encyclopedia",
			Metadata: map[string]any{
				"page_id":          hit.PageID,
				"word_count":       hit.WordCount,
				"publication_date": hit.Timestamp,
			},
		})
	}

	return results, nil
}

// stripHTML drops the highlight markup MediaWiki embeds in snippets.
func stripHTML(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.TrimSpace(doc.Text())
}
