package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	errors "github.com/Laisky/errors/v2"
	"github.com/stretchr/testify/require"

	"github.com/contentstudio/research-engine/internal/research/dto"
	"github.com/contentstudio/research-engine/internal/research/model"
	"github.com/contentstudio/research-engine/library/db/kv"
	"github.com/contentstudio/research-engine/library/ratelimit"
	"github.com/contentstudio/research-engine/library/search"
)

type stubConnector struct {
	name    string
	kind    search.Kind
	results []search.Result
	err     error
	delay   time.Duration
	calls   atomic.Int64
}

func (c *stubConnector) Name() string      { return c.name }
func (c *stubConnector) Kind() search.Kind { return c.kind }

func (c *stubConnector) Search(ctx context.Context, query string) ([]search.Result, error) {
	c.calls.Add(1)

	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, c.err
	}

	return c.results, nil
}

type fakeStore struct {
	mu         sync.Mutex
	nextID     int64
	saveErr    error
	resultsErr error
	queries    []string
	saved      map[int64][]search.Result
	completed  []int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(map[int64][]search.Result)}
}

func (f *fakeStore) SaveQuery(_ context.Context,
	text string, _ dto.SearchFilters, _ string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.saveErr != nil {
		return 0, f.saveErr
	}

	f.nextID++
	f.queries = append(f.queries, text)
	return f.nextID, nil
}

func (f *fakeStore) SaveResults(_ context.Context,
	queryID int64, results []search.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.resultsErr != nil {
		return f.resultsErr
	}

	f.saved[queryID] = results
	return nil
}

func (f *fakeStore) MarkQueryCompleted(_ context.Context, queryID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, queryID)
	return nil
}

func (f *fakeStore) GetQueryResults(_ context.Context,
	queryID int64, page, pageSize int) (*dto.ResultPage, error) {
	return &dto.ResultPage{Page: page, PageSize: pageSize}, nil
}

func (f *fakeStore) GetRecentQueries(_ context.Context,
	_ string, _ int) ([]model.Query, error) {
	return nil, nil
}

func (f *fakeStore) SuggestQueries(_ context.Context,
	_ string, _ int) ([]string, error) {
	return nil, nil
}

func (f *fakeStore) Analytics(_ context.Context) (*dto.Analytics, error) {
	return &dto.Analytics{}, nil
}

type fakeRegistry struct {
	sources []model.DataSource
	err     error
}

func (f *fakeRegistry) ListActive(_ context.Context) ([]model.DataSource, error) {
	return f.sources, f.err
}

// memCache is an in-memory kv.Interface for tests.
type memCache struct {
	mu     sync.Mutex
	items  map[string]string
	setErr error
}

func newMemCache() *memCache {
	return &memCache{items: make(map[string]string)}
}

func (c *memCache) SetWithTTL(_ context.Context, key, payload string, _ time.Duration) error {
	if c.setErr != nil {
		return c.setErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = payload
	return nil
}

func (c *memCache) SetWithExpireAt(ctx context.Context, key, payload string, _ time.Time) error {
	return c.SetWithTTL(ctx, key, payload, 0)
}

func (c *memCache) Get(_ context.Context, key string) (*kv.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	payload, ok := c.items[key]
	if !ok {
		return nil, kv.ErrKeyNotFound
	}

	return &kv.Item{Key: key, Payload: payload}, nil
}

func (c *memCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

func (c *memCache) DelExpired(_ context.Context) (int64, error) {
	return 0, nil
}

func newTestService(store *fakeStore, registry *fakeRegistry,
	cache kv.Interface, opts ...Option) *Type {
	if registry == nil {
		registry = &fakeRegistry{}
	}
	if cache == nil {
		cache = newMemCache()
	}

	return New(store, registry, cache, opts...)
}

func TestSearchEndToEnd(t *testing.T) {
	ctx := context.Background()
	web := &stubConnector{
		name: "Wikipedia",
		kind: search.KindWeb,
		results: []search.Result{
			{Title: "Artificial intelligence", Source: "Wikipedia", DataType: "encyclopedia"},
		},
	}
	academic := &stubConnector{name: "arXiv", kind: search.KindAcademic}
	store := newFakeStore()

	svc := newTestService(store, nil, nil, WithConnectors(web, academic))

	response, err := svc.Search(ctx, "artificial intelligence",
		dto.SearchFilters{Sources: []string{"web"}, MinRelevance: 0.3}, "u1")
	require.NoError(t, err)

	require.Equal(t, int64(1), response.QueryID)
	require.Equal(t, 1, response.TotalResults)
	require.Len(t, response.Results, 1)
	require.Equal(t, "Artificial intelligence", response.Results[0].Title)
	require.GreaterOrEqual(t, response.Results[0].RelevanceScore, 0.4)
	require.Equal(t, []string{"Wikipedia"}, response.SourcesSearched)

	require.Zero(t, academic.calls.Load(), "academic connector must not run")
	require.Equal(t, []string{"artificial intelligence"}, store.queries)
	require.Len(t, store.saved[response.QueryID], 1)
	require.Equal(t, []int64{1}, store.completed)
}

func TestSearchEmptyQuery(t *testing.T) {
	svc := newTestService(newFakeStore(), nil, nil,
		WithConnectors(&stubConnector{name: "Wikipedia", kind: search.KindWeb}))

	_, err := svc.Search(context.Background(), "   ", dto.SearchFilters{}, "")
	require.ErrorContains(t, err, "query is required")
}

func TestSearchFaultIsolation(t *testing.T) {
	ctx := context.Background()
	healthy := &stubConnector{
		name: "Wikipedia",
		kind: search.KindWeb,
		results: []search.Result{
			{Title: "one", Source: "Wikipedia", RelevanceScore: 0.8},
			{Title: "two", Source: "Wikipedia", RelevanceScore: 0.6},
		},
	}
	broken := &stubConnector{
		name: "arXiv",
		kind: search.KindAcademic,
		err:  errors.New("upstream down"),
	}

	svc := newTestService(newFakeStore(), nil, nil, WithConnectors(healthy, broken))

	response, err := svc.Search(ctx, "resilience", dto.SearchFilters{}, "")
	require.NoError(t, err)
	require.Equal(t, 2, response.TotalResults)
	require.ElementsMatch(t, []string{"Wikipedia", "arXiv"}, response.SourcesSearched)
}

func TestSearchAllSourcesEmpty(t *testing.T) {
	svc := newTestService(newFakeStore(), nil, nil,
		WithConnectors(&stubConnector{name: "Wikipedia", kind: search.KindWeb}))

	response, err := svc.Search(context.Background(), "nothing here", dto.SearchFilters{}, "")
	require.NoError(t, err)
	require.Zero(t, response.TotalResults)
	require.Empty(t, response.Results)
}

func TestSearchCacheHit(t *testing.T) {
	ctx := context.Background()
	connector := &stubConnector{
		name: "Wikipedia",
		kind: search.KindWeb,
		results: []search.Result{
			{Title: "cached", Source: "Wikipedia", RelevanceScore: 0.9},
		},
	}
	store := newFakeStore()
	svc := newTestService(store, nil, nil, WithConnectors(connector))

	first, err := svc.Search(ctx, "cache me", dto.SearchFilters{}, "")
	require.NoError(t, err)

	second, err := svc.Search(ctx, "cache me", dto.SearchFilters{}, "")
	require.NoError(t, err)

	require.Equal(t, first.QueryID, second.QueryID)
	require.Equal(t, int64(1), connector.calls.Load(), "cache hit must not re-query providers")
	require.Len(t, store.queries, 1, "cache hit must not record a new query")
}

func TestSearchRateLimited(t *testing.T) {
	ctx := context.Background()
	connector := &stubConnector{
		name: "Wikipedia",
		kind: search.KindWeb,
		results: []search.Result{
			{Title: "limited", Source: "Wikipedia", RelevanceScore: 0.9},
		},
	}
	registry := &fakeRegistry{sources: []model.DataSource{
		{Name: "Wikipedia", Type: "web", IsActive: true, RateLimit: 1},
	}}
	svc := newTestService(newFakeStore(), registry, nil, WithConnectors(connector))

	first, err := svc.Search(ctx, "first search", dto.SearchFilters{}, "")
	require.NoError(t, err)
	require.Equal(t, 1, first.TotalResults)

	// the hourly budget of one token is spent, the source skips silently
	second, err := svc.Search(ctx, "second search", dto.SearchFilters{}, "")
	require.NoError(t, err)
	require.Zero(t, second.TotalResults)
	require.Empty(t, second.SourcesSearched)
	require.Equal(t, int64(1), connector.calls.Load())
}

func TestSearchInactiveSourceSkipped(t *testing.T) {
	ctx := context.Background()
	connector := &stubConnector{
		name: "Wikipedia",
		kind: search.KindWeb,
		results: []search.Result{
			{Title: "hidden", Source: "Wikipedia", RelevanceScore: 0.9},
		},
	}
	registry := &fakeRegistry{sources: []model.DataSource{
		{Name: "World Bank", Type: "statistical", IsActive: true, RateLimit: 100},
	}}
	svc := newTestService(newFakeStore(), registry, nil, WithConnectors(connector))

	response, err := svc.Search(ctx, "disabled provider", dto.SearchFilters{}, "")
	require.NoError(t, err)
	require.Zero(t, response.TotalResults)
	require.Zero(t, connector.calls.Load())
}

func TestSearchSaveQueryFailure(t *testing.T) {
	store := newFakeStore()
	store.saveErr = errors.New("db offline")
	svc := newTestService(store, nil, nil,
		WithConnectors(&stubConnector{name: "Wikipedia", kind: search.KindWeb}))

	_, err := svc.Search(context.Background(), "doomed", dto.SearchFilters{}, "")
	require.ErrorContains(t, err, "db offline")
}

func TestSearchSaveResultsFailureSwallowed(t *testing.T) {
	store := newFakeStore()
	store.resultsErr = errors.New("disk full")
	svc := newTestService(store, nil, nil, WithConnectors(&stubConnector{
		name: "Wikipedia",
		kind: search.KindWeb,
		results: []search.Result{
			{Title: "still returned", Source: "Wikipedia", RelevanceScore: 0.7},
		},
	}))

	response, err := svc.Search(context.Background(), "lossy", dto.SearchFilters{}, "")
	require.NoError(t, err)
	require.Equal(t, 1, response.TotalResults)
	require.Empty(t, store.completed)
}

func TestSearchCacheWriteFailureSwallowed(t *testing.T) {
	cache := newMemCache()
	cache.setErr = errors.New("cache write refused")
	svc := newTestService(newFakeStore(), nil, cache, WithConnectors(&stubConnector{
		name: "Wikipedia",
		kind: search.KindWeb,
		results: []search.Result{
			{Title: "uncached", Source: "Wikipedia", RelevanceScore: 0.7},
		},
	}))

	response, err := svc.Search(context.Background(), "no cache", dto.SearchFilters{}, "")
	require.NoError(t, err)
	require.Equal(t, 1, response.TotalResults)
}

func TestSearchDeadlineAbandonsStraggler(t *testing.T) {
	ctx := context.Background()
	fast := &stubConnector{
		name: "Wikipedia",
		kind: search.KindWeb,
		results: []search.Result{
			{Title: "prompt", Source: "Wikipedia", RelevanceScore: 0.8},
		},
	}
	slow := &stubConnector{
		name:  "arXiv",
		kind:  search.KindAcademic,
		delay: time.Minute,
		results: []search.Result{
			{Title: "never arrives", Source: "arXiv", RelevanceScore: 0.9},
		},
	}

	svc := newTestService(newFakeStore(), nil, nil,
		WithConnectors(fast, slow), WithSearchTimeout(100*time.Millisecond))

	start := time.Now()
	response, err := svc.Search(ctx, "slow provider", dto.SearchFilters{}, "")
	require.NoError(t, err)
	require.Less(t, time.Since(start), 10*time.Second)
	require.Equal(t, 1, response.TotalResults)
	require.Equal(t, "prompt", response.Results[0].Title)
}

func TestSearchTruncatesResponse(t *testing.T) {
	results := make([]search.Result, 30)
	for i := range results {
		results[i] = search.Result{
			Title:          string(rune('a' + i%26)),
			Source:         "Wikipedia",
			RelevanceScore: float64(30-i) / 30,
		}
	}
	store := newFakeStore()
	svc := newTestService(store, nil, nil, WithConnectors(&stubConnector{
		name:    "Wikipedia",
		kind:    search.KindWeb,
		results: results,
	}))

	response, err := svc.Search(context.Background(), "many results", dto.SearchFilters{}, "")
	require.NoError(t, err)
	require.Equal(t, 30, response.TotalResults)
	require.Len(t, response.Results, maxResponseResults)
	require.Len(t, store.saved[response.QueryID], 30, "full set must be persisted")
}

func TestSortResultsTieBreak(t *testing.T) {
	results := []search.Result{
		{Title: "w", Source: "Wikipedia", RelevanceScore: 0.9},
		{Title: "a", Source: "arXiv", RelevanceScore: 0.9},
		{Title: "b", Source: "World Bank", RelevanceScore: 0.5},
	}
	sortResults(results)

	require.Equal(t, "arXiv", results[0].Source)
	require.Equal(t, "Wikipedia", results[1].Source)
	require.Equal(t, "World Bank", results[2].Source)
}

func TestSearchBackfillsRelevance(t *testing.T) {
	svc := newTestService(newFakeStore(), nil, nil, WithConnectors(&stubConnector{
		name: "Wikipedia",
		kind: search.KindWeb,
		results: []search.Result{
			{Title: "quantum computing advances", Source: "Wikipedia"},
			{Title: "preset", Source: "Wikipedia", RelevanceScore: 0.33},
		},
	}))

	response, err := svc.Search(context.Background(), "quantum computing", dto.SearchFilters{}, "")
	require.NoError(t, err)
	require.Len(t, response.Results, 2)
	for _, result := range response.Results {
		require.NotZero(t, result.RelevanceScore)
	}
}

func TestPurgeCache(t *testing.T) {
	ctx := context.Background()
	cache := newMemCache()
	svc := newTestService(newFakeStore(), nil, cache, WithConnectors(&stubConnector{
		name: "Wikipedia",
		kind: search.KindWeb,
		results: []search.Result{
			{Title: "purge me", Source: "Wikipedia", RelevanceScore: 0.9},
		},
	}))

	response, err := svc.Search(ctx, "purge target", dto.SearchFilters{}, "")
	require.NoError(t, err)

	dropped, err := svc.PurgeCache(ctx, response.CacheKey)
	require.NoError(t, err)
	require.Equal(t, int64(1), dropped)

	// the next identical search misses the cache and re-queries providers
	fresh, err := svc.Search(ctx, "purge target", dto.SearchFilters{}, "")
	require.NoError(t, err)
	require.NotEqual(t, response.QueryID, fresh.QueryID)
}

func TestSearchRateLimiterSharedAcrossRequests(t *testing.T) {
	ctx := context.Background()
	limiter := ratelimit.New()
	connector := &stubConnector{
		name: "Wikipedia",
		kind: search.KindWeb,
		results: []search.Result{
			{Title: "shared", Source: "Wikipedia", RelevanceScore: 0.9},
		},
	}
	registry := &fakeRegistry{sources: []model.DataSource{
		{Name: "Wikipedia", Type: "web", IsActive: true, RateLimit: 3},
	}}
	svc := newTestService(newFakeStore(), registry, nil,
		WithConnectors(connector), WithLimiter(limiter))

	var served int
	for i := 0; i < 10; i++ {
		response, err := svc.Search(ctx,
			"budget probe "+string(rune('a'+i)), dto.SearchFilters{}, "")
		require.NoError(t, err)
		if response.TotalResults > 0 {
			served++
		}
	}

	require.Equal(t, 3, served)
	require.Equal(t, int64(3), connector.calls.Load())
}
