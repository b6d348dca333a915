// Package worldbank queries the World Bank indicator API.
package worldbank

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"

	"github.com/contentstudio/research-engine/library/log"
	"github.com/contentstudio/research-engine/library/search"
)

const (
	defaultEndpoint    = "https://api.worldbank.org/v2/indicator"
	indicatorBaseURL   = "https://data.worldbank.org/indicator/"
	httpRequestTimeout = 10 * time.Second
	maxResults         = 10
	connectorName      = "World Bank"
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

// Connector fetches development indicators from the World Bank API.
type Connector struct {
	client   *http.Client
	endpoint string
	logger   logSDK.Logger
}

// NewConnector constructs a World Bank-backed connector.
func NewConnector(opts ...Option) *Connector {
	c := &Connector{
		client:   &http.Client{Timeout: httpRequestTimeout},
		endpoint: defaultEndpoint,
		logger:   log.Logger.Named("worldbank"),
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
	return search.KindStatistical
}

// indicator models one entry from the indicator listing.
type indicator struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	SourceNote         string `json:"sourceNote"`
	SourceOrganization string `json:"sourceOrganization"`
}

// Search queries the indicator listing and converts matches into results.
//
// The API wraps its payload in a two-element array of [paging, data]; a
// response without the data element is treated as an empty result set.
func (c *Connector) Search(ctx context.Context, query string) ([]search.Result, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, errors.New("search query cannot be empty")
	}

	endpoint, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid world bank endpoint %q", c.endpoint)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "create world bank request")
	}

	params := req.URL.Query()
	params.Set("format", "json")
	params.Set("q", trimmed)
	req.URL.RawQuery = params.Encode()
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send world bank request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read world bank response body")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("world bank returned status %d", resp.StatusCode)
	}

	var envelope []json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errors.Wrap(err, "unmarshal world bank envelope")
	}
	if len(envelope) < 2 {
		return nil, nil
	}

	var indicators []indicator
	if err := json.Unmarshal(envelope[1], &indicators); err != nil {
		return nil, errors.Wrap(err, "unmarshal world bank indicators")
	}

	c.logger.Debug("incoming world bank indicators",
		zap.Int("count", len(indicators)),
		zap.String("query", trimmed),
	)
	if len(indicators) > maxResults {
		indicators = indicators[:maxResults]
	}

	fetchedAt := time.Now().UTC().Format(time.RFC3339)

	results := make([]search.Result, 0, len(indicators))
	for _, ind := range indicators {
		if ind.Name == "" {
			continue
		}

		content := ind.SourceNote
		if content == "" {
			content = "No details"
		}

		results = append(results, search.Result{
			Title:          "World Bank: " + ind.Name,
			Content:        content,
			Source:         connectorName,
			URL:            indicatorBaseURL + ind.ID,
			RelevanceScore: search.Score(ind.Name+" "+ind.SourceNote, trimmed),
			DataType:       "statistics",
			Metadata: map[string]any{
				"indicator_id":        ind.ID,
				"source_organization": ind.SourceOrganization,
				"last_updated":        fetchedAt,
			},
		})
	}

	return results, nil
}
