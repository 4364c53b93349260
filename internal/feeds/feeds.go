// Package feeds is C12's RSS/Atom source: polls a configured feed URL with
// conditional GETs (ETag / If-Modified-Since) and parses the response into a
// flat list of candidate items (URL+title+published). There is no
// feed_items collection — C12 dedupes against the articles collection by
// URL instead.
package feeds

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"narrative-core/internal/core"
)

// Item is one entry discovered in a feed, not yet fetched or classified.
type Item struct {
	GUID      string
	URL       string
	Title     string
	Published time.Time
}

// Result is one poll's outcome. NotModified is set on a 304 response, in
// which case Items is always empty and Feed is the caller's feed unchanged.
type Result struct {
	Feed        core.Feed
	Items       []Item
	NotModified bool
}

// Manager polls feed URLs over HTTP.
type Manager struct {
	client    *http.Client
	userAgent string
}

// NewManager builds a Manager with the given User-Agent and request timeout.
func NewManager(userAgent string, timeout time.Duration) *Manager {
	if userAgent == "" {
		userAgent = "narrative-core/1.0"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Manager{client: &http.Client{Timeout: timeout}, userAgent: userAgent}
}

// Poll fetches feed, sending feed.ETag/LastModified as conditional headers.
// On success it returns the updated caching headers alongside any items.
func (m *Manager) Poll(ctx context.Context, feed core.Feed) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("building request for feed %s: %w", feed.URL, err)
	}
	if feed.LastModified != "" {
		req.Header.Set("If-Modified-Since", feed.LastModified)
	}
	if feed.ETag != "" {
		req.Header.Set("If-None-Match", feed.ETag)
	}
	req.Header.Set("User-Agent", m.userAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("fetching feed %s: %w", feed.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotModified {
		return Result{Feed: feed, NotModified: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("feed %s returned status %d", feed.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("reading feed %s: %w", feed.URL, err)
	}

	items, title, err := parse(body)
	if err != nil {
		return Result{}, fmt.Errorf("parsing feed %s: %w", feed.URL, err)
	}

	updated := feed
	updated.Title = title
	updated.ETag = resp.Header.Get("ETag")
	updated.LastModified = resp.Header.Get("Last-Modified")
	updated.LastFetchedAt = time.Now().UTC()

	return Result{Feed: updated, Items: items}, nil
}

// RSS/Atom wire shapes, decoded directly from the response body so both
// formats can be tried without re-fetching.

type rssDoc struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title string    `xml:"title"`
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	GUID    string `xml:"guid"`
	PubDate string `xml:"pubDate"`
}

type atomDoc struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title     string     `xml:"title"`
	ID        string     `xml:"id"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
	Links     []atomLink `xml:"link"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

func parse(body []byte) ([]Item, string, error) {
	var rss rssDoc
	if err := xml.Unmarshal(body, &rss); err == nil && rss.Channel.Title != "" {
		return itemsFromRSS(rss), rss.Channel.Title, nil
	}

	var atom atomDoc
	if err := xml.Unmarshal(body, &atom); err == nil && atom.Title != "" {
		return itemsFromAtom(atom), atom.Title, nil
	}

	return nil, "", fmt.Errorf("unrecognized feed format (not RSS or Atom)")
}

func itemsFromRSS(doc rssDoc) []Item {
	items := make([]Item, 0, len(doc.Channel.Items))
	for _, it := range doc.Channel.Items {
		items = append(items, Item{
			GUID:      firstNonEmpty(it.GUID, it.Link),
			URL:       it.Link,
			Title:     strings.TrimSpace(it.Title),
			Published: parseRSSDate(it.PubDate),
		})
	}
	return items
}

func itemsFromAtom(doc atomDoc) []Item {
	items := make([]Item, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		link := atomLinkHref(e.Links)
		items = append(items, Item{
			GUID:      firstNonEmpty(e.ID, link),
			URL:       link,
			Title:     strings.TrimSpace(e.Title),
			Published: parseAtomDate(firstNonEmpty(e.Published, e.Updated)),
		})
	}
	return items
}

func atomLinkHref(links []atomLink) string {
	for _, l := range links {
		if l.Rel == "" || l.Rel == "alternate" {
			return l.Href
		}
	}
	if len(links) > 0 {
		return links[0].Href
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

var rssDateFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	time.RFC3339,
}

func parseRSSDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, format := range rssDateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func parseAtomDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return parseRSSDate(s)
}
