package earnings

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"research_fetcher/internal/domain"
	"research_fetcher/internal/pacer"
	"research_fetcher/internal/parse"
)

const (
	SourceID      = "earnings_calendar"
	ComponentName = "earningsMonitor"
)

// Config holds earnings calendar source configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Source fetches earnings calendar rows through the source's pacer and runs
// them through the resilient parser. The upstream page has no stable schema,
// so extraction always keeps the regex fallback enabled.
type Source struct {
	httpClient *http.Client
	baseURL    string
	pacer      *pacer.Pacer
	parser     *parse.Parser
	logger     *slog.Logger
}

func New(cfg Config, p *pacer.Pacer, parser *parse.Parser, logger *slog.Logger) *Source {
	return &Source{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: cfg.BaseURL,
		pacer:   p,
		parser:  parser,
		logger:  logger.With("source", SourceID),
	}
}

func (s *Source) ID() string {
	return SourceID
}

func (s *Source) Component() string {
	return ComponentName
}

// Fetch retrieves the calendar rows for the query's time range and returns
// the best-effort parse result as the cacheable payload.
func (s *Source) Fetch(ctx context.Context, query domain.Query) (json.RawMessage, error) {
	raw, err := s.pacer.Schedule(ctx, func(ctx context.Context) ([]byte, error) {
		return s.doRequest(ctx, s.calendarURL(query))
	})
	if err != nil {
		return nil, fmt.Errorf("fetch earnings calendar: %w", err)
	}

	var rows []any
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("%w: decode calendar rows: %v", domain.ErrStructuralParse, err)
	}

	result := s.parser.Extract(rows, parse.Options{
		FallbackEnabled: true,
	})

	if len(query.Tickers) > 0 {
		result.Records = filterByTickers(result.Records, query.Tickers)
	}

	s.logger.Debug("extracted earnings rows",
		"rows", len(rows),
		"records", len(result.Records),
		"row_errors", len(result.Errors),
	)

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal earnings payload: %w", err)
	}
	return payload, nil
}

func filterByTickers(records []domain.EarningsRecord, tickers []string) []domain.EarningsRecord {
	wanted := make(map[string]struct{}, len(tickers))
	for _, t := range tickers {
		wanted[strings.ToUpper(strings.TrimSpace(t))] = struct{}{}
	}

	filtered := make([]domain.EarningsRecord, 0, len(records))
	for _, r := range records {
		if _, ok := wanted[r.Symbol]; ok {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

func (s *Source) calendarURL(query domain.Query) string {
	params := url.Values{}
	if query.TimeRange != "" {
		params.Set("range", query.TimeRange)
	}
	if len(params) == 0 {
		return s.baseURL
	}
	return s.baseURL + "?" + params.Encode()
}

func (s *Source) doRequest(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "ResearchFetcher/1.0")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &domain.TransientFetchError{Source: SourceID, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &domain.ThrottledError{
			Source:     SourceID,
			RetryAfter: retryAfter(resp),
		}
	case resp.StatusCode >= 500:
		return nil, &domain.TransientFetchError{
			Source: SourceID,
			Err:    fmt.Errorf("status %d", resp.StatusCode),
		}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransientFetchError{Source: SourceID, Err: err}
	}
	return body, nil
}

func retryAfter(resp *http.Response) time.Duration {
	seconds, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
