// Package service orchestrates research searches across external providers.
package service

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	errors "github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	gconfig "github.com/Laisky/go-config/v2"
	"github.com/Laisky/zap"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/contentstudio/research-engine/internal/research/dao"
	"github.com/contentstudio/research-engine/internal/research/dto"
	"github.com/contentstudio/research-engine/internal/research/model"
	"github.com/contentstudio/research-engine/library/db/kv"
	redisCache "github.com/contentstudio/research-engine/library/db/redis"
	"github.com/contentstudio/research-engine/library/log"
	"github.com/contentstudio/research-engine/library/ratelimit"
	"github.com/contentstudio/research-engine/library/search"
	"github.com/contentstudio/research-engine/library/search/arxiv"
	"github.com/contentstudio/research-engine/library/search/gnews"
	"github.com/contentstudio/research-engine/library/search/pubmed"
	"github.com/contentstudio/research-engine/library/search/wikipedia"
	"github.com/contentstudio/research-engine/library/search/worldbank"
)

const (
	defaultSearchTimeout = 30 * time.Second
	defaultCacheTTL      = 6 * time.Hour
	// maxResponseResults caps the results embedded in a SearchResponse.
	// The full set stays available through paginated result queries.
	maxResponseResults = 20
)

var Instance *Type

func Initialize(ctx context.Context) {
	dao.Initialize(ctx)

	var cache kv.Interface
	if addr := gconfig.Shared.GetString("settings.db.redis.addr"); addr != "" {
		cache = redisCache.NewCache(&redis.Options{
			Addr: addr,
			DB:   gconfig.Shared.GetInt("settings.db.redis.db"),
		})
	} else {
		sqlCache, err := kv.NewCache(model.DB)
		if err != nil {
			log.Logger.Panic("create research cache", zap.Error(err))
		}
		cache = sqlCache
	}

	Instance = New(dao.InstanceResearch, dao.InstanceSources, cache)
}

// researchStore is the slice of the research dao the orchestrator needs.
type researchStore interface {
	SaveQuery(ctx context.Context, text string, filters dto.SearchFilters, userID string) (int64, error)
	SaveResults(ctx context.Context, queryID int64, results []search.Result) error
	MarkQueryCompleted(ctx context.Context, queryID int64) error
	GetQueryResults(ctx context.Context, queryID int64, page, pageSize int) (*dto.ResultPage, error)
	GetRecentQueries(ctx context.Context, userID string, limit int) ([]model.Query, error)
	SuggestQueries(ctx context.Context, fragment string, limit int) ([]string, error)
	Analytics(ctx context.Context) (*dto.Analytics, error)
}

// sourceRegistry lists the providers enabled for searching.
type sourceRegistry interface {
	ListActive(ctx context.Context) ([]model.DataSource, error)
}

type Type struct {
	researchDao researchStore
	sourcesDao  sourceRegistry
	cache       kv.Interface
	limiter     *ratelimit.HourlyLimiter
	connectors  []search.Connector

	searchTimeout time.Duration
	cacheTTL      time.Duration
}

// Option configures the service.
type Option func(*Type)

// WithConnectors replaces the default provider connectors.
func WithConnectors(connectors ...search.Connector) Option {
	return func(s *Type) {
		s.connectors = connectors
	}
}

// WithLimiter replaces the default hourly rate limiter.
func WithLimiter(limiter *ratelimit.HourlyLimiter) Option {
	return func(s *Type) {
		s.limiter = limiter
	}
}

// WithSearchTimeout bounds the whole connector fan-out.
func WithSearchTimeout(timeout time.Duration) Option {
	return func(s *Type) {
		s.searchTimeout = timeout
	}
}

// WithCacheTTL sets how long search responses stay cached.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Type) {
		s.cacheTTL = ttl
	}
}

func New(research researchStore, sources sourceRegistry,
	cache kv.Interface, opts ...Option) *Type {
	s := &Type{
		researchDao: research,
		sourcesDao:  sources,
		cache:       cache,
		limiter:     ratelimit.New(),
		connectors: []search.Connector{
			arxiv.NewConnector(),
			pubmed.NewConnector(),
			wikipedia.NewConnector(),
			gnews.NewConnector(),
			worldbank.NewConnector(),
		},
		searchTimeout: defaultSearchTimeout,
		cacheTTL:      defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Search runs one research query end to end. It serves from cache when a
// fresh entry exists, otherwise records the query, fans out to every
// eligible provider concurrently, scores, filters, ranks and persists the
// merged results, and caches the response.
func (s *Type) Search(ctx context.Context,
	query string, filters dto.SearchFilters, userID string) (*dto.SearchResponse, error) {
	logger := gmw.GetLogger(ctx).With(zap.String("search_id", uuid.NewString()))

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query is required")
	}

	cacheKey := dto.CacheKey(query, filters)
	if cached := s.fromCache(ctx, cacheKey); cached != nil {
		logger.Debug("search served from cache", zap.String("cache_key", cacheKey))
		return cached, nil
	}

	queryID, err := s.researchDao.SaveQuery(ctx, query, filters, userID)
	if err != nil {
		return nil, errors.Wrap(err, "save query")
	}

	results, searched := s.fanOut(ctx, query, filters)

	for i := range results {
		if results[i].RelevanceScore == 0 {
			results[i].RelevanceScore = search.Score(
				results[i].Title+" "+results[i].Content, query)
		}
	}

	results = applyFilters(results, filters, s.kindByProvider())
	sortResults(results)

	// durability failures lose the side effect, not the response
	if err := s.researchDao.SaveResults(ctx, queryID, results); err != nil {
		logger.Error("save search results",
			zap.Int64("query_id", queryID), zap.Error(err))
	} else if err := s.researchDao.MarkQueryCompleted(ctx, queryID); err != nil {
		logger.Error("mark query completed",
			zap.Int64("query_id", queryID), zap.Error(err))
	}

	response := &dto.SearchResponse{
		QueryID:         queryID,
		Query:           query,
		Filters:         filters,
		TotalResults:    len(results),
		Results:         results,
		SearchTime:      time.Now().UTC(),
		SourcesSearched: searched,
		CacheKey:        cacheKey,
	}
	if len(response.Results) > maxResponseResults {
		response.Results = response.Results[:maxResponseResults]
	}

	s.toCache(ctx, cacheKey, response)

	return response, nil
}

// fanOut launches one task per eligible connector and joins them under the
// search deadline. A connector failure or timeout only costs that source's
// results. The returned names list which providers were actually queried.
func (s *Type) fanOut(ctx context.Context,
	query string, filters dto.SearchFilters) (results []search.Result, searched []string) {
	logger := gmw.GetLogger(ctx)
	kinds := requestedKinds(filters)
	active, limits := s.sourceBudgets(ctx)

	allowedKinds := make(map[search.Kind]bool, len(kinds))
	for kind := range kinds {
		if s.limiter.Allow(string(kind), limits[kind]) {
			allowedKinds[kind] = true
		} else {
			logger.Warn("source kind rate limited", zap.String("kind", string(kind)))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.searchTimeout)
	defer cancel()

	var (
		mu   sync.Mutex
		pool errgroup.Group
	)
	for _, connector := range s.connectors {
		if !allowedKinds[connector.Kind()] {
			continue
		}
		if enabled, known := active[connector.Name()]; known && !enabled {
			continue
		}

		searched = append(searched, connector.Name())
		pool.Go(func() error {
			found, err := connector.Search(ctx, query)
			if err != nil {
				logger.Warn("search provider failed",
					zap.String("source", connector.Name()), zap.Error(err))
				return nil // isolate provider failures
			}

			mu.Lock()
			results = append(results, found...)
			mu.Unlock()
			return nil
		})
	}
	_ = pool.Wait()

	return results, searched
}

// sourceBudgets reads the provider registry and derives, per kind, the
// strictest hourly limit among its active providers. A registry failure
// degrades to every provider enabled at the default limit.
func (s *Type) sourceBudgets(ctx context.Context) (
	active map[string]bool, limits map[search.Kind]int) {
	active = make(map[string]bool)
	limits = make(map[search.Kind]int)

	sources, err := s.sourcesDao.ListActive(ctx)
	if err != nil {
		log.Logger.Warn("list active sources", zap.Error(err))
		return active, limits
	}

	known := make(map[string]bool, len(s.connectors))
	for _, connector := range s.connectors {
		known[connector.Name()] = true
	}

	for _, src := range sources {
		active[src.Name] = true
		kind, ok := search.ParseKind(src.Type)
		if !ok {
			continue
		}
		if current, exists := limits[kind]; !exists || src.RateLimit < current {
			limits[kind] = src.RateLimit
		}
	}

	// registry rows exist but a connector is missing its row: disabled
	for name := range known {
		if !active[name] && len(sources) > 0 {
			active[name] = false
		}
	}

	return active, limits
}

func (s *Type) kindByProvider() map[string]search.Kind {
	kinds := make(map[string]search.Kind, len(s.connectors))
	for _, connector := range s.connectors {
		kinds[connector.Name()] = connector.Kind()
	}

	return kinds
}

// sortResults orders by relevance descending, breaking ties by source then
// title so the ranking is deterministic regardless of arrival order.
func sortResults(results []search.Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].RelevanceScore != results[j].RelevanceScore {
			return results[i].RelevanceScore > results[j].RelevanceScore
		}

		si, sj := strings.ToLower(results[i].Source), strings.ToLower(results[j].Source)
		if si != sj {
			return si < sj
		}
		if results[i].Source != results[j].Source {
			return results[i].Source < results[j].Source
		}

		return results[i].Title < results[j].Title
	})
}

func (s *Type) fromCache(ctx context.Context, cacheKey string) *dto.SearchResponse {
	item, err := s.cache.Get(ctx, cacheKey)
	if err != nil {
		if !kv.Absent(err) {
			log.Logger.Warn("read search cache",
				zap.String("cache_key", cacheKey), zap.Error(err))
		}
		return nil
	}

	response := new(dto.SearchResponse)
	if err := json.Unmarshal([]byte(item.Payload), response); err != nil {
		log.Logger.Warn("decode cached search response",
			zap.String("cache_key", cacheKey), zap.Error(err))
		return nil
	}

	return response
}

func (s *Type) toCache(ctx context.Context, cacheKey string, response *dto.SearchResponse) {
	payload, err := json.Marshal(response)
	if err != nil {
		log.Logger.Warn("encode search response for cache",
			zap.String("cache_key", cacheKey), zap.Error(err))
		return
	}

	if err := s.cache.SetWithTTL(ctx, cacheKey, string(payload), s.cacheTTL); err != nil {
		log.Logger.Warn("write search cache",
			zap.String("cache_key", cacheKey), zap.Error(err))
	}
}

// Results returns one stored page of a past query's results.
func (s *Type) Results(ctx context.Context,
	queryID int64, page, pageSize int) (*dto.ResultPage, error) {
	return s.researchDao.GetQueryResults(ctx, queryID, page, pageSize)
}

// History lists recent queries, optionally scoped to one user.
func (s *Type) History(ctx context.Context,
	userID string, limit int) ([]model.Query, error) {
	return s.researchDao.GetRecentQueries(ctx, userID, limit)
}

// Suggestions returns past query texts matching the fragment.
func (s *Type) Suggestions(ctx context.Context,
	fragment string, limit int) ([]string, error) {
	return s.researchDao.SuggestQueries(ctx, fragment, limit)
}

// Sources lists the providers enabled for searching.
func (s *Type) Sources(ctx context.Context) ([]model.DataSource, error) {
	return s.sourcesDao.ListActive(ctx)
}

// Analytics aggregates recorded search activity.
func (s *Type) Analytics(ctx context.Context) (*dto.Analytics, error) {
	return s.researchDao.Analytics(ctx)
}

// PurgeCache drops one cached response, or every expired entry when the
// key is empty.
func (s *Type) PurgeCache(ctx context.Context, cacheKey string) (int64, error) {
	if cacheKey == "" {
		dropped, err := s.cache.DelExpired(ctx)
		if err != nil {
			return 0, errors.Wrap(err, "purge expired cache entries")
		}
		return dropped, nil
	}

	if err := s.cache.Del(ctx, cacheKey); err != nil {
		return 0, errors.Wrapf(err, "purge cache key %q", cacheKey)
	}

	return 1, nil
}
