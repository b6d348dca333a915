// Package arxiv queries the arXiv Atom export API for academic papers.
package arxiv

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/mmcdole/gofeed"

	"github.com/contentstudio/research-engine/library/log"
	"github.com/contentstudio/research-engine/library/search"
)

const (
	defaultEndpoint    = "https://export.arxiv.org/api/query"
	httpRequestTimeout = 10 * time.Second
	maxResults         = 10
	connectorName      = "arXiv"
	contentLimit       = 500
)

// Option configures the Connector instance.
type Option func(*Connector)

// WithHTTPClient overrides the HTTP client used to reach the arXiv API.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Connector) {
		if client != nil {
			c.client = client
		}
	}
}

// WithEndpoint overrides the arXiv endpoint, primarily for testing.
func WithEndpoint(endpoint string) Option {
	return func(c *Connector) {
		trimmed := strings.TrimSpace(endpoint)
		if trimmed != "" {
			c.endpoint = trimmed
		}
	}
}

// WithLogger overrides the default logger used when no contextual logger is present.
func WithLogger(logger logSDK.Logger) Option {
	return func(c *Connector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Connector fetches candidate papers from the arXiv Atom feed.
type Connector struct {
	client   *http.Client
	endpoint string
	parser   *gofeed.Parser
	logger   logSDK.Logger
}

// NewConnector constructs an arXiv-backed connector.
func NewConnector(opts ...Option) *Connector {
	c := &Connector{
		client:   &http.Client{Timeout: httpRequestTimeout},
		endpoint: defaultEndpoint,
		parser:   gofeed.NewParser(),
		logger:   log.Logger.Named("arxiv"),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c
}

// Name returns the provider name recorded on results.
func (c *Connector) Name() string {
	return connectorName
}

// Kind returns the capability group of the provider.
func (c *Connector) Kind() search.Kind {
	return search.KindAcademic
}

// Search queries the export API sorted by relevance and converts the Atom
// entries into results.
func (c *Connector) Search(ctx context.Context, query string) ([]search.Result, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, errors.New("search query cannot be empty")
	}

	endpoint, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid arxiv endpoint %q", c.endpoint)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "create arxiv request")
	}

	params := req.URL.Query()
	params.Set("search_query", "all:"+trimmed)
	params.Set("start", "0")
	params.Set("max_results", strconv.Itoa(maxResults))
	params.Set("sortBy", "relevance")
	req.URL.RawQuery = params.Encode()

	logger := c.logger
	if ctxLogger := gmw.GetLogger(ctx); ctxLogger != nil {
		logger = ctxLogger.Named("arxiv")
	}
	logger.Debug("outgoing http request",
		zap.String("url", req.URL.String()),
		zap.String("query", trimmed),
	)

	startAt := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send arxiv request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("arxiv returned status %d", resp.StatusCode)
	}

	feed, err := c.parser.Parse(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "parse arxiv feed")
	}

	logger.Debug("incoming arxiv feed",
		zap.Int("entries", len(feed.Items)),
		zap.Duration("cost", time.Since(startAt)),
	)

	results := make([]search.Result, 0, len(feed.Items))
	for _, item := range feed.Items {
		if strings.TrimSpace(item.Link) == "" {
			continue
		}

		summary := strings.TrimSpace(item.Description)
		authors := make([]string, 0, len(item.Authors))
		for _, author := range item.Authors {
			if author != nil && author.Name != "" {
				authors = append(authors, author.Name)
			}
		}

		metadata := map[string]any{
			"authors":    authors,
			"journal":    "arXiv",
			"categories": item.Categories,
		}
		if item.PublishedParsed != nil {
			metadata["publication_date"] = item.PublishedParsed.UTC().Format(time.RFC3339)
		}

		results = append(results, search.Result{
			Title:          strings.TrimSpace(item.Title),
			Content:        search.Snippet(summary, contentLimit),
			Source:         connectorName,
			URL:            item.Link,
			RelevanceScore: search.Score(item.Title+" "+summary, trimmed),
			DataType:       "academic",
			Metadata:       metadata,
		})
	}

	return results, nil
}
