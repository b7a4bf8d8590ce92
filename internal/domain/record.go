package domain

import "time"

// EarningsRecord is one validated earnings row. Symbol is the only required
// field; everything else stays nullable with the failure noted in Errors.
type EarningsRecord struct {
	Symbol             string   `json:"symbol"`
	CompanyName        *string  `json:"companyName"`
	EstimatedEPS       *float64 `json:"estimatedEPS"`
	ActualEPS          *float64 `json:"actualEPS"`
	SurprisePercentage *float64 `json:"surprisePercentage"`
	ReportTime         *string  `json:"reportTime"`
	Fallback           bool     `json:"fallback,omitempty"`
	Errors             []string `json:"errors,omitempty"`
}

// ParseResult is the best-effort outcome of one extraction batch. Row-level
// problems land in Errors; they never abort the batch.
type ParseResult struct {
	Records []EarningsRecord `json:"records"`
	Errors  []string         `json:"errors"`
}

// FeedEntry is one filing feed entry. Sources disagree about whether
// "updated" or "published" is authoritative, so both are carried as-is.
type FeedEntry struct {
	Title     string     `json:"title"`
	Summary   string     `json:"summary"`
	Updated   *time.Time `json:"updated"`
	Published *time.Time `json:"published"`
	Link      string     `json:"link"`
}
