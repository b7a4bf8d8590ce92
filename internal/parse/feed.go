package parse

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"research_fetcher/internal/domain"
)

// EntryFilter decides whether a feed entry belongs to the requested form or
// category. Non-matching entries are skipped, not errors.
type EntryFilter func(title, category string) bool

// Form4Filter matches insider-transaction filings (SEC Form 4).
func Form4Filter(title, category string) bool {
	t := strings.ToLower(title)
	c := strings.ToLower(category)
	if strings.Contains(c, "form 4") || c == "4" {
		return true
	}
	return strings.Contains(t, "form 4") ||
		strings.Contains(t, "statement of changes in beneficial ownership")
}

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Updated   string `xml:"updated"`
	Published string `xml:"published"`
	Link      struct {
		Href string `xml:"href,attr"`
	} `xml:"link"`
	Category struct {
		Term string `xml:"term,attr"`
	} `xml:"category"`
}

// ParseFeed extracts entries from Atom/RSS payloads. It tries a strict
// structured decode first and falls back to a lenient pass when the document
// is malformed. limit <= 0 means no limit; a nil filter keeps everything.
func (p *Parser) ParseFeed(raw []byte, limit int, filter EntryFilter) ([]domain.FeedEntry, error) {
	entries, strictErr := p.parseAtomStrict(raw)
	if strictErr != nil {
		p.logger.Debug("strict feed parse failed, trying lenient parser", "error", strictErr)
		var lenientErr error
		entries, lenientErr = p.parseLenient(raw)
		if lenientErr != nil {
			return nil, fmt.Errorf("%w: strict: %v, lenient: %v",
				domain.ErrStructuralParse, strictErr, lenientErr)
		}
	}

	var hasUpdated, hasPublished int
	filtered := make([]domain.FeedEntry, 0, len(entries))
	for _, e := range entries {
		if e.entry.Updated != nil {
			hasUpdated++
		}
		if e.entry.Published != nil {
			hasPublished++
		}
		if filter != nil && !filter(e.entry.Title, e.category) {
			p.logger.Debug("skipped feed entry", "title", e.entry.Title)
			continue
		}
		filtered = append(filtered, e.entry)
		if limit > 0 && len(filtered) >= limit {
			break
		}
	}

	// Sources are inconsistent about which date field they populate; surface
	// what this one actually carried instead of guessing.
	p.logger.Info("parsed feed",
		"entries", len(entries),
		"matched", len(filtered),
		"with_updated", hasUpdated,
		"with_published", hasPublished,
	)

	return filtered, nil
}

type feedEntry struct {
	entry    domain.FeedEntry
	category string
}

func (p *Parser) parseAtomStrict(raw []byte) ([]feedEntry, error) {
	var feed atomFeed
	if err := xml.Unmarshal(raw, &feed); err != nil {
		return nil, fmt.Errorf("decode atom: %w", err)
	}
	if len(feed.Entries) == 0 {
		return nil, fmt.Errorf("no entries under feed root")
	}

	entries := make([]feedEntry, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		entries = append(entries, feedEntry{
			entry: domain.FeedEntry{
				Title:     strings.TrimSpace(e.Title),
				Summary:   strings.TrimSpace(e.Summary),
				Updated:   parseFeedTime(e.Updated),
				Published: parseFeedTime(e.Published),
				Link:      e.Link.Href,
			},
			category: e.Category.Term,
		})
	}
	return entries, nil
}

func (p *Parser) parseLenient(raw []byte) ([]feedEntry, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("lenient parse: %w", err)
	}

	entries := make([]feedEntry, 0, len(feed.Items))
	for _, item := range feed.Items {
		category := ""
		if len(item.Categories) > 0 {
			category = item.Categories[0]
		}
		entries = append(entries, feedEntry{
			entry: domain.FeedEntry{
				Title:     strings.TrimSpace(item.Title),
				Summary:   strings.TrimSpace(item.Description),
				Updated:   item.UpdatedParsed,
				Published: item.PublishedParsed,
				Link:      item.Link,
			},
			category: category,
		})
	}
	return entries, nil
}

func parseFeedTime(raw string) *time.Time {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, time.RFC1123Z, time.RFC1123} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
