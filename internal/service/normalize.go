package service

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"research_fetcher/internal/domain"
)

// NormalizeParams produces the canonical, order-independent cache key
// fragment for a query: list parameters are sorted and case-folded, the
// whole thing serialized deterministically and hashed (sha256, 16 hex
// chars), prefixed by the query type for operator readability.
func NormalizeParams(q domain.Query) (string, error) {
	if strings.TrimSpace(q.QueryType) == "" {
		return "", fmt.Errorf("query type is required")
	}

	tickers := make([]string, len(q.Tickers))
	for i, t := range q.Tickers {
		tickers[i] = strings.ToUpper(strings.TrimSpace(t))
	}
	sort.Strings(tickers)

	subreddits := make([]string, len(q.Subreddits))
	for i, s := range q.Subreddits {
		subreddits[i] = strings.ToLower(strings.TrimSpace(s))
	}
	sort.Strings(subreddits)

	canonical := struct {
		QueryType  string   `json:"queryType"`
		Tickers    []string `json:"tickers"`
		TimeRange  string   `json:"timeRange"`
		Subreddits []string `json:"subreddits"`
	}{
		QueryType:  q.QueryType,
		Tickers:    tickers,
		TimeRange:  strings.TrimSpace(q.TimeRange),
		Subreddits: subreddits,
	}

	data, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("marshal cache key: %w", err)
	}

	sum := sha256.Sum256(data)
	return fmt.Sprintf("%s:%x", q.QueryType, sum[:8]), nil
}
