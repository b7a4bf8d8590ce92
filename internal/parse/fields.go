package parse

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseEPS validates one EPS value. Accepts plain decimals, a leading
// currency sign, thousands separators, and accounting-style parentheses for
// negatives. Empty and placeholder values ("n/a", "-", "--") are not errors;
// they parse to nil.
func ParseEPS(raw string) (*float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, nil
	}
	switch strings.ToLower(s) {
	case "n/a", "na", "-", "--", "—":
		return nil, nil
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid EPS value %q", raw)
	}
	if negative {
		v = -v
	}
	return &v, nil
}

// ParsePercent validates a percentage value, with or without the % sign.
func ParsePercent(raw string) (*float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, nil
	}
	switch strings.ToLower(s) {
	case "n/a", "na", "-", "--", "—":
		return nil, nil
	}

	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(s, ",", "")

	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid percentage %q", raw)
	}
	return &v, nil
}

var reportTimeAliases = map[string]string{
	"bmo":                 "bmo",
	"before market open":  "bmo",
	"pre-market":          "bmo",
	"premarket":           "bmo",
	"amc":                 "amc",
	"after market close":  "amc",
	"after-hours":         "amc",
	"afterhours":          "amc",
	"dmh":                 "dmh",
	"during market":       "dmh",
	"during market hours": "dmh",
}

// NormalizeReportTime maps the many ways sources spell a report slot onto
// the canonical tokens bmo/amc/dmh, and normalizes clock times to 24h HH:MM.
func NormalizeReportTime(raw string) (*string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, nil
	}

	if tok, ok := reportTimeAliases[strings.ToLower(s)]; ok {
		return &tok, nil
	}

	if t, ok := parseClockTime(s); ok {
		return &t, nil
	}

	return nil, fmt.Errorf("unrecognized report time %q", raw)
}

func parseClockTime(s string) (string, bool) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	meridiem := ""
	for _, suffix := range []string{"AM", "PM", "A.M.", "P.M."} {
		if strings.HasSuffix(upper, suffix) {
			meridiem = string(suffix[0])
			upper = strings.TrimSpace(strings.TrimSuffix(upper, suffix))
			break
		}
	}

	parts := strings.SplitN(upper, ":", 2)
	if len(parts) != 2 {
		return "", false
	}
	hour, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return "", false
	}
	minute, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return "", false
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return "", false
	}

	switch meridiem {
	case "P":
		if hour > 12 {
			return "", false
		}
		if hour != 12 {
			hour += 12
		}
	case "A":
		if hour > 12 {
			return "", false
		}
		if hour == 12 {
			hour = 0
		}
	}

	return fmt.Sprintf("%02d:%02d", hour, minute), true
}

// SurprisePercent derives the earnings surprise from an actual/estimate pair:
// (actual - estimate) / |estimate| * 100, rounded to two decimals. Undefined
// (nil) when either operand is missing or the estimate is zero.
func SurprisePercent(actual, estimate *float64) *float64 {
	if actual == nil || estimate == nil || *estimate == 0 {
		return nil
	}
	v := round2((*actual - *estimate) / math.Abs(*estimate) * 100)
	return &v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
