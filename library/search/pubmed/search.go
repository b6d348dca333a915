// Package pubmed scrapes the PubMed search results page.
//
// PubMed has no anonymous JSON search API, so this connector parses the HTML
// result list the way a browser sees it. Markup drift surfaces as an empty
// result set rather than an error.
package pubmed

import (
	"context"
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
	defaultEndpoint    = "https://pubmed.ncbi.nlm.nih.gov/"
	httpRequestTimeout = 10 * time.Second
	maxResults         = 10
	connectorName      = "PubMed"
	contentLimit       = 400
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

// WithEndpoint overrides the search page URL, primarily for testing.
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

// Connector fetches article summaries from the PubMed result page.
type Connector struct {
	client   *http.Client
	endpoint string
	logger   logSDK.Logger
}

// NewConnector constructs a PubMed-backed connector.
func NewConnector(opts ...Option) *Connector {
	c := &Connector{
		client:   &http.Client{Timeout: httpRequestTimeout},
		endpoint: defaultEndpoint,
		logger:   log.Logger.Named("pubmed"),
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
	return search.KindAcademic
}

// Search loads the result page for query and scrapes the article summaries.
func (c *Connector) Search(ctx context.Context, query string) ([]search.Result, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, errors.New("search query cannot be empty")
	}

	endpoint, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid pubmed endpoint %q", c.endpoint)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "create pubmed request")
	}

	params := req.URL.Query()
	params.Set("term", trimmed)
	params.Set("size", strconv.Itoa(maxResults))
	req.URL.RawQuery = params.Encode()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send pubmed request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("pubmed returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "parse pubmed result page")
	}

	c.logger.Debug("incoming pubmed page",
		zap.Int("articles", doc.Find("article.full-docsum").Length()),
		zap.String("query", trimmed),
	)

	fetchedAt := time.Now().UTC().Format(time.RFC3339)

	var results []search.Result
	doc.Find("article.full-docsum").EachWithBreak(func(_ int, article *goquery.Selection) bool {
		titleLink := article.Find("a.docsum-title").First()
		title := strings.TrimSpace(titleLink.Text())
		if title == "" {
			return true
		}

		abstract := strings.TrimSpace(article.Find("div.full-view-snippet").First().Text())
		if abstract == "" {
			abstract = "Abstract not available"
		}

		link := strings.TrimRight(c.endpoint, "/")
		if href, ok := titleLink.Attr("href"); ok {
			link += href
		}

		results = append(results, search.Result{
			Title:          title,
			Content:        search.Snippet(abstract, contentLimit),
			Source:         connectorName,
			URL:            link,
			RelevanceScore: search.Score(title+" "+abstract, trimmed),
			DataType:       "academic",
			Metadata: map[string]any{
				"publication_date": fetchedAt,
				"source_database":  "PubMed",
			},
		})

		return len(results) < maxResults
	})

	return results, nil
}
