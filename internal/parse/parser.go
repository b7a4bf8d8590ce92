package parse

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"research_fetcher/internal/domain"
)

// Options controls one extraction batch.
type Options struct {
	// SkipHeader drops the first row before extraction.
	SkipHeader bool
	// ColumnMapping overrides the default positional mapping for array and
	// delimited-text rows (canonical field name -> column index).
	ColumnMapping map[string]int
	// FallbackEnabled allows the low-confidence token scan when the primary
	// strategy yields nothing.
	FallbackEnabled bool
}

// Parser turns heterogeneous raw rows into validated earnings records.
type Parser struct {
	logger *slog.Logger
}

func NewParser(logger *slog.Logger) *Parser {
	return &Parser{logger: logger.With("component", "parser")}
}

// Extract runs the primary extraction strategy over a batch and returns a
// partial-success result: every row with a discoverable symbol becomes a
// record, rows without one are dropped with their reason recorded, and
// field-level failures annotate the record instead of aborting it.
func (p *Parser) Extract(rows []any, opts Options) domain.ParseResult {
	result := domain.ParseResult{Errors: []string{}}

	if rows == nil {
		result.Errors = append(result.Errors, domain.ErrStructuralParse.Error()+": nil input")
		return result
	}

	if opts.SkipHeader && len(rows) > 0 {
		rows = rows[1:]
	}

	for i, row := range rows {
		fields, err := normalizeRow(row, opts.ColumnMapping)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", i, err))
			continue
		}

		record := p.buildRecord(fields)
		if record.Symbol == "" {
			// Not an error at batch level; the row simply had no identity.
			p.logger.Debug("dropped row without symbol", "row", i)
			continue
		}
		result.Records = append(result.Records, record)
	}

	if len(result.Records) == 0 && opts.FallbackEnabled {
		result.Records = p.fallbackExtract(rows)
	}

	return result
}

func (p *Parser) buildRecord(fields map[string]string) domain.EarningsRecord {
	record := domain.EarningsRecord{
		Symbol: strings.ToUpper(strings.TrimSpace(fields[FieldSymbol])),
	}

	if name := strings.TrimSpace(fields[FieldCompanyName]); name != "" {
		record.CompanyName = &name
	}

	var err error
	if record.EstimatedEPS, err = ParseEPS(fields[FieldEstimatedEPS]); err != nil {
		record.Errors = append(record.Errors, err.Error())
	}
	if record.ActualEPS, err = ParseEPS(fields[FieldActualEPS]); err != nil {
		record.Errors = append(record.Errors, err.Error())
	}
	if record.SurprisePercentage, err = ParsePercent(fields[FieldSurprisePercentage]); err != nil {
		record.Errors = append(record.Errors, err.Error())
	}
	if record.ReportTime, err = NormalizeReportTime(fields[FieldReportTime]); err != nil {
		record.Errors = append(record.Errors, err.Error())
	}

	if record.SurprisePercentage == nil {
		record.SurprisePercentage = SurprisePercent(record.ActualEPS, record.EstimatedEPS)
	}

	return record
}

// tickerPattern matches short uppercase tokens that look like symbols.
var tickerPattern = regexp.MustCompile(`\b[A-Z]{1,5}\b`)

// tickerStopwords are uppercase tokens that show up in financial prose but
// are never the symbol we want.
var tickerStopwords = map[string]struct{}{
	"A": {}, "I": {}, "AND": {}, "THE": {}, "FOR": {}, "EPS": {}, "USD": {},
	"CEO": {}, "CFO": {}, "IPO": {}, "ETF": {}, "NYSE": {}, "SEC": {},
	"Q": {}, "QQ": {}, "AM": {}, "PM": {}, "EST": {}, "EDT": {},
}

// fallbackExtract is the last-resort strategy: scan the raw input text for
// ticker-shaped tokens and emit minimal placeholder records. Every record is
// flagged so consumers can discount its confidence.
func (p *Parser) fallbackExtract(rows []any) []domain.EarningsRecord {
	var sb strings.Builder
	for _, row := range rows {
		sb.WriteString(stringify(row))
		sb.WriteString("\n")
	}

	seen := make(map[string]struct{})
	var records []domain.EarningsRecord
	for _, token := range tickerPattern.FindAllString(sb.String(), -1) {
		if _, stop := tickerStopwords[token]; stop {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		records = append(records, domain.EarningsRecord{
			Symbol:   token,
			Fallback: true,
			Errors:   []string{"extracted via fallback"},
		})
	}

	p.logger.Warn("primary extraction yielded nothing, used fallback",
		"rows", len(rows),
		"fallback_records", len(records),
	)

	return records
}
