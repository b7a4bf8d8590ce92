package edgar

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"research_fetcher/internal/domain"
	"research_fetcher/internal/pacer"
	"research_fetcher/internal/parse"
)

const feedFixture = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <title>4 - Statement of changes in beneficial ownership of securities</title>
    <updated>2026-08-28T14:05:00Z</updated>
    <link href="https://www.sec.gov/Archives/edgar/data/1/000001.html"/>
    <category term="form 4"/>
  </entry>
  <entry>
    <title>10-K - Annual report</title>
    <updated>2026-08-27T09:00:00Z</updated>
    <link href="https://www.sec.gov/Archives/edgar/data/1/000002.html"/>
    <category term="10-K"/>
  </entry>
</feed>`

func testSource(t *testing.T, baseURL string) *Source {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	p := pacer.New(pacer.Config{Source: SourceID, BaseInterval: time.Millisecond, BackoffCap: 16}, logger)
	return New(Config{BaseURL: baseURL, Timeout: 5 * time.Second}, p, parse.NewParser(logger), logger)
}

func TestFetch_Form4EntriesPerTicker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "getcompany", r.URL.Query().Get("action"))
		assert.Equal(t, "4", r.URL.Query().Get("type"))
		assert.Equal(t, "atom", r.URL.Query().Get("output"))
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = w.Write([]byte(feedFixture))
	}))
	defer server.Close()

	src := testSource(t, server.URL)

	payload, err := src.Fetch(context.Background(), domain.Query{
		QueryType: SourceID,
		Tickers:   []string{"AAPL", "MSFT"},
	})
	require.NoError(t, err)

	var byTicker map[string][]domain.FeedEntry
	require.NoError(t, json.Unmarshal(payload, &byTicker))
	require.Len(t, byTicker, 2)

	// Only the Form 4 entry survives the filter.
	require.Len(t, byTicker["AAPL"], 1)
	assert.Contains(t, byTicker["AAPL"][0].Title, "beneficial ownership")
	require.Len(t, byTicker["MSFT"], 1)
}

func TestFetch_RequiresTicker(t *testing.T) {
	src := testSource(t, "http://unused")

	_, err := src.Fetch(context.Background(), domain.Query{QueryType: SourceID})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ticker")
}

func TestFetch_ThrottledResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	src := testSource(t, server.URL)

	_, err := src.Fetch(context.Background(), domain.Query{
		QueryType: SourceID,
		Tickers:   []string{"AAPL"},
	})
	require.Error(t, err)

	var throttled *domain.ThrottledError
	require.True(t, errors.As(err, &throttled))
	assert.Equal(t, 60*time.Second, throttled.RetryAfter)
}

func TestFetch_GarbageFeedIsStructural(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("service unavailable"))
	}))
	defer server.Close()

	src := testSource(t, server.URL)

	_, err := src.Fetch(context.Background(), domain.Query{
		QueryType: SourceID,
		Tickers:   []string{"AAPL"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStructuralParse))
}
