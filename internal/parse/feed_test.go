package parse

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"research_fetcher/internal/domain"
)

const atomFixture = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Recent Filings</title>
  <entry>
    <title>4 - Statement of changes in beneficial ownership of securities</title>
    <summary>Filed by an officer</summary>
    <updated>2026-08-28T14:05:00Z</updated>
    <link href="https://www.sec.gov/Archives/edgar/data/1/000001.html"/>
    <category term="form 4"/>
  </entry>
  <entry>
    <title>10-K - Annual report</title>
    <summary>Annual report</summary>
    <updated>2026-08-27T09:00:00Z</updated>
    <link href="https://www.sec.gov/Archives/edgar/data/1/000002.html"/>
    <category term="10-K"/>
  </entry>
  <entry>
    <title>Form 4 filing</title>
    <updated>2026-08-26T11:30:00Z</updated>
    <published>2026-08-26T11:00:00Z</published>
    <link href="https://www.sec.gov/Archives/edgar/data/1/000003.html"/>
    <category term="4"/>
  </entry>
</feed>`

const rssFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Filings</title>
    <item>
      <title>Form 4 filing for director</title>
      <description>Insider transaction</description>
      <link>https://example.com/filing/1</link>
      <pubDate>Wed, 26 Aug 2026 11:00:00 +0000</pubDate>
    </item>
    <item>
      <title>8-K current report</title>
      <link>https://example.com/filing/2</link>
    </item>
  </channel>
</rss>`

func TestParseFeed_StrictAtom(t *testing.T) {
	p := testParser(t)

	entries, err := p.ParseFeed([]byte(atomFixture), 0, nil)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	first := entries[0]
	assert.Equal(t, "4 - Statement of changes in beneficial ownership of securities", first.Title)
	assert.Equal(t, "Filed by an officer", first.Summary)
	assert.Equal(t, "https://www.sec.gov/Archives/edgar/data/1/000001.html", first.Link)
	require.NotNil(t, first.Updated)
	assert.Equal(t, time.Date(2026, 8, 28, 14, 5, 0, 0, time.UTC), first.Updated.UTC())
	assert.Nil(t, first.Published)

	// The third entry carries both date fields.
	third := entries[2]
	require.NotNil(t, third.Updated)
	require.NotNil(t, third.Published)
}

func TestParseFeed_FilterAndLimit(t *testing.T) {
	p := testParser(t)

	entries, err := p.ParseFeed([]byte(atomFixture), 0, Form4Filter)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Contains(t, entries[0].Title, "beneficial ownership")
	assert.Equal(t, "Form 4 filing", entries[1].Title)

	entries, err = p.ParseFeed([]byte(atomFixture), 1, Form4Filter)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestParseFeed_LenientFallbackOnRSS(t *testing.T) {
	p := testParser(t)

	entries, err := p.ParseFeed([]byte(rssFixture), 0, nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "Form 4 filing for director", entries[0].Title)
	assert.Equal(t, "Insider transaction", entries[0].Summary)
	assert.Equal(t, "https://example.com/filing/1", entries[0].Link)
	require.NotNil(t, entries[0].Published)
	assert.Equal(t, time.Date(2026, 8, 26, 11, 0, 0, 0, time.UTC), entries[0].Published.UTC())
	assert.Nil(t, entries[1].Published)
}

func TestParseFeed_StructurallyInvalid(t *testing.T) {
	p := testParser(t)

	_, err := p.ParseFeed([]byte("not a feed at all"), 0, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStructuralParse))
}

func TestForm4Filter(t *testing.T) {
	assert.True(t, Form4Filter("Form 4 filed", ""))
	assert.True(t, Form4Filter("Statement of Changes in Beneficial Ownership", ""))
	assert.True(t, Form4Filter("anything", "4"))
	assert.True(t, Form4Filter("anything", "Form 4"))
	assert.False(t, Form4Filter("10-K annual report", "10-K"))
}
