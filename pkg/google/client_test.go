package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/customsearch/v1", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Equal(t, "engine-1", r.URL.Query().Get("cx"))
		assert.Equal(t, "Playtown 觀塘", r.URL.Query().Get("q"))
		assert.Equal(t, "5", r.URL.Query().Get("num"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(SearchResponse{
			Items: []Item{
				{
					Title:   "Playtown 觀塘",
					Link:    "https://playtown.example",
					Snippet: "Indoor playground, open daily",
					Pagemap: Pagemap{Metatags: []map[string]string{
						{"og:title": "Playtown"},
						{"article:published_time": "2026-01-05T10:00:00+08:00"},
					}},
				},
			},
		})
	}))
	defer srv.Close()

	client := NewClient("test-key", "engine-1", WithBaseURL(srv.URL))
	resp, err := client.Search(context.Background(), "Playtown 觀塘", 5)

	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "https://playtown.example", resp.Items[0].Link)
	assert.Equal(t, "2026-01-05T10:00:00+08:00", resp.Items[0].PublishedTime())
}

func TestSearch_ClampsNum(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("num"))
		_ = json.NewEncoder(w).Encode(SearchResponse{})
	}))
	defer srv.Close()

	client := NewClient("k", "cx", WithBaseURL(srv.URL))
	_, err := client.Search(context.Background(), "q", 50)
	require.NoError(t, err)
	_, err = client.Search(context.Background(), "q", 0)
	require.NoError(t, err)
}

func TestSearch_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"kind":"customsearch#search"}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", "cx", WithBaseURL(srv.URL))
	resp, err := client.Search(context.Background(), "Nonexistent venue", 3)

	require.NoError(t, err)
	assert.Empty(t, resp.Items)
	assert.Empty(t, Item{}.PublishedTime())
}

func TestSearch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"daily limit exceeded"}}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", "cx", WithBaseURL(srv.URL))
	_, err := client.Search(context.Background(), "q", 3)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "daily limit exceeded")
}

func TestSearch_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	client := NewClient("test-key", "cx", WithBaseURL(srv.URL))
	_, err := client.Search(context.Background(), "q", 3)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient("my-key", "my-cx")
	hc := c.(*httpClient)
	assert.Equal(t, "my-key", hc.apiKey)
	assert.Equal(t, "my-cx", hc.cx)
	assert.Equal(t, defaultBaseURL, hc.baseURL)
	assert.NotNil(t, hc.http)
}
