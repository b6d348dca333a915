package gnews

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/contentstudio/research-engine/library/search"
)

const rssFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
 <channel>
  <title>"climate policy" - Google News</title>
  <item>
   <title>New climate policy announced</title>
   <link>https://news.example.com/climate-policy</link>
   <pubDate>Sun, 31 Aug 2025 08:00:00 GMT</pubDate>
   <description>&lt;a href="https://news.example.com"&gt;Ministers agreed on a new climate policy framework&lt;/a&gt;</description>
  </item>
  <item>
   <title></title>
   <link>https://news.example.com/untitled</link>
   <description>dropped for the missing title</description>
  </item>
 </channel>
</rss>`

func TestSearchSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "climate policy", r.URL.Query().Get("q"))
		require.Equal(t, "US:en", r.URL.Query().Get("ceid"))

		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rssFixture))
	}))
	defer server.Close()

	c := NewConnector(WithEndpoint(server.URL), WithHTTPClient(server.Client()))
	require.Equal(t, "Google News", c.Name())
	require.Equal(t, search.KindWeb, c.Kind())

	results, err := c.Search(context.Background(), "climate policy")
	require.NoError(t, err)
	require.Len(t, results, 1, "items without a title are skipped")

	got := results[0]
	require.Equal(t, "New climate policy announced", got.Title)
	require.Equal(t, "Ministers agreed on a new climate policy framework", got.Content)
	require.Equal(t, "Google News", got.Source)
	require.Equal(t, "news", got.DataType)
	require.Equal(t, "https://news.example.com/climate-policy", got.URL)
	require.Greater(t, got.RelevanceScore, 0.0)
	require.Equal(t, "2025-08-31T08:00:00Z", got.Metadata["publication_date"])
	require.Equal(t, "news_aggregator", got.Metadata["source_type"])
}

func TestSearchProviderDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewConnector(WithEndpoint(server.URL), WithHTTPClient(server.Client()))

	results, err := c.Search(context.Background(), "anything")
	require.Error(t, err)
	require.Nil(t, results)
}
