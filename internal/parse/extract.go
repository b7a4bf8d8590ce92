package parse

import (
	"fmt"
	"strings"
)

// Canonical field names used in mappings and raw field maps.
const (
	FieldSymbol             = "symbol"
	FieldCompanyName        = "companyName"
	FieldEstimatedEPS       = "estimatedEPS"
	FieldActualEPS          = "actualEPS"
	FieldSurprisePercentage = "surprisePercentage"
	FieldReportTime         = "reportTime"
)

// defaultPositionalMapping covers the common wire order:
// symbol, company, estimate, actual, surprise, report time.
var defaultPositionalMapping = map[string]int{
	FieldSymbol:             0,
	FieldCompanyName:        1,
	FieldEstimatedEPS:       2,
	FieldActualEPS:          3,
	FieldSurprisePercentage: 4,
	FieldReportTime:         5,
}

// fieldAliases maps the spellings observed across sources onto canonical
// field names. Lookups are case-insensitive.
var fieldAliases = map[string]string{
	"symbol":              FieldSymbol,
	"ticker":              FieldSymbol,
	"sym":                 FieldSymbol,
	"company":             FieldCompanyName,
	"companyname":         FieldCompanyName,
	"company_name":        FieldCompanyName,
	"name":                FieldCompanyName,
	"estimatedeps":        FieldEstimatedEPS,
	"estimated_eps":       FieldEstimatedEPS,
	"estimate":            FieldEstimatedEPS,
	"epsestimate":         FieldEstimatedEPS,
	"eps_estimate":        FieldEstimatedEPS,
	"consensus":           FieldEstimatedEPS,
	"actualeps":           FieldActualEPS,
	"actual_eps":          FieldActualEPS,
	"actual":              FieldActualEPS,
	"epsactual":           FieldActualEPS,
	"eps_actual":          FieldActualEPS,
	"reported":            FieldActualEPS,
	"surprise":            FieldSurprisePercentage,
	"surprisepercentage":  FieldSurprisePercentage,
	"surprise_percentage": FieldSurprisePercentage,
	"surprisepct":         FieldSurprisePercentage,
	"time":                FieldReportTime,
	"reporttime":          FieldReportTime,
	"report_time":         FieldReportTime,
	"when":                FieldReportTime,
	"hour":                FieldReportTime,
}

// textDelimiters is the fixed priority order tried on delimited text rows.
var textDelimiters = []string{"\t", ",", ";", "|"}

// rowShape is the tagged variant a raw row resolves to, decided once per row.
type rowShape int

const (
	shapeUnknown rowShape = iota
	shapeArray
	shapeKeyed
	shapeText
)

func detectShape(row any) rowShape {
	switch row.(type) {
	case []any, []string:
		return shapeArray
	case map[string]any, map[string]string:
		return shapeKeyed
	case string:
		return shapeText
	default:
		return shapeUnknown
	}
}

// normalizeRow converts one raw row into a canonical field map using, in
// priority order: the caller-supplied column mapping, the default positional
// mapping, or the field alias table for keyed rows.
func normalizeRow(row any, columnMapping map[string]int) (map[string]string, error) {
	switch detectShape(row) {
	case shapeArray:
		return normalizeArrayRow(toStringSlice(row), columnMapping), nil
	case shapeKeyed:
		return normalizeKeyedRow(toStringMap(row)), nil
	case shapeText:
		return normalizeTextRow(row.(string), columnMapping), nil
	default:
		return nil, fmt.Errorf("unsupported row shape %T", row)
	}
}

func toStringSlice(row any) []string {
	switch v := row.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, len(v))
		for i, cell := range v {
			out[i] = stringify(cell)
		}
		return out
	}
	return nil
}

func toStringMap(row any) map[string]string {
	switch v := row.(type) {
	case map[string]string:
		return v
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, cell := range v {
			out[k] = stringify(cell)
		}
		return out
	}
	return nil
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func normalizeArrayRow(cells []string, columnMapping map[string]int) map[string]string {
	mapping := columnMapping
	if mapping == nil {
		mapping = defaultPositionalMapping
	}

	fields := make(map[string]string, len(mapping))
	for field, idx := range mapping {
		if idx >= 0 && idx < len(cells) {
			fields[field] = strings.TrimSpace(cells[idx])
		}
	}
	return fields
}

func normalizeKeyedRow(row map[string]string) map[string]string {
	fields := make(map[string]string, len(row))
	for key, value := range row {
		canonical, ok := fieldAliases[strings.ToLower(strings.TrimSpace(key))]
		if !ok {
			continue
		}
		// First alias wins; don't clobber a populated field with an empty one.
		if existing, dup := fields[canonical]; dup && existing != "" {
			continue
		}
		fields[canonical] = strings.TrimSpace(value)
	}
	return fields
}

// normalizeTextRow splits a delimited line, trying each known delimiter and
// keeping whichever yields the most columns. The resulting cells honor the
// same column mapping as array rows. An undelimited line is treated as a
// company-name-only stub.
func normalizeTextRow(line string, columnMapping map[string]int) map[string]string {
	var best []string
	for _, delim := range textDelimiters {
		cells := strings.Split(line, delim)
		if len(cells) > len(best) {
			best = cells
		}
	}

	if len(best) <= 1 {
		return map[string]string{FieldCompanyName: strings.TrimSpace(line)}
	}
	return normalizeArrayRow(best, columnMapping)
}
