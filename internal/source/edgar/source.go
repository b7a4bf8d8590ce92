package edgar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"research_fetcher/internal/domain"
	"research_fetcher/internal/pacer"
	"research_fetcher/internal/parse"
)

const (
	SourceID      = "insider_filings"
	ComponentName = "insiderTrading"
)

// Config holds EDGAR source configuration.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	EntryLimit int
}

// Source fetches the SEC EDGAR filings feed through the source's pacer and
// filters entries down to Form 4 insider transactions.
type Source struct {
	httpClient *http.Client
	baseURL    string
	entryLimit int
	pacer      *pacer.Pacer
	parser     *parse.Parser
	logger     *slog.Logger
}

func New(cfg Config, p *pacer.Pacer, parser *parse.Parser, logger *slog.Logger) *Source {
	if cfg.EntryLimit == 0 {
		cfg.EntryLimit = 40
	}
	return &Source{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:    cfg.BaseURL,
		entryLimit: cfg.EntryLimit,
		pacer:      p,
		parser:     parser,
		logger:     logger.With("source", SourceID),
	}
}

func (s *Source) ID() string {
	return SourceID
}

func (s *Source) Component() string {
	return ComponentName
}

// Fetch runs one paced feed request per ticker and returns the aggregated
// Form 4 entries as the cacheable payload.
func (s *Source) Fetch(ctx context.Context, query domain.Query) (json.RawMessage, error) {
	tickers := query.Tickers
	if len(tickers) == 0 {
		return nil, fmt.Errorf("at least one ticker is required")
	}

	entriesByTicker := make(map[string][]domain.FeedEntry, len(tickers))
	for _, ticker := range tickers {
		raw, err := s.pacer.Schedule(ctx, func(ctx context.Context) ([]byte, error) {
			return s.doRequest(ctx, s.feedURL(ticker))
		})
		if err != nil {
			return nil, fmt.Errorf("fetch filings for %s: %w", ticker, err)
		}

		entries, err := s.parser.ParseFeed(raw, s.entryLimit, parse.Form4Filter)
		if err != nil {
			return nil, fmt.Errorf("parse filings for %s: %w", ticker, err)
		}

		entriesByTicker[ticker] = entries

		s.logger.Debug("fetched filings",
			"ticker", ticker,
			"entries", len(entries),
		)
	}

	payload, err := json.Marshal(entriesByTicker)
	if err != nil {
		return nil, fmt.Errorf("marshal filings payload: %w", err)
	}
	return payload, nil
}

func (s *Source) feedURL(ticker string) string {
	params := url.Values{}
	params.Set("action", "getcompany")
	params.Set("company", ticker)
	params.Set("type", "4")
	params.Set("output", "atom")
	params.Set("count", strconv.Itoa(s.entryLimit))
	return s.baseURL + "?" + params.Encode()
}

func (s *Source) doRequest(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/atom+xml")
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
