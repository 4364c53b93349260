// Package fetch is C12's body extractor: follows a feed item's URL, strips
// boilerplate (script/nav/ads), and pulls the main article text via a
// goquery common-selector cascade, falling back to every <p> in <body>
// when no selector matches.
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var collapseBlankLines = regexp.MustCompile(`\n{3,}`)

// contentSelectors are tried in order; the first to yield any text wins.
var contentSelectors = []string{
	"article", "main", ".article-body", ".post-content", ".post-body",
	".entry-content", "[role='main']", ".content", "#content",
}

// boilerplateSelector matches elements stripped before any text is pulled.
const boilerplateSelector = "script, style, nav, footer, header, aside, form, iframe, noscript, " +
	".sidebar, #sidebar, .ad, .advertisement, .popup, .modal, .cookie-banner"

// Fetcher retrieves and cleans article HTML over HTTP.
type Fetcher struct {
	client    *http.Client
	userAgent string
}

// NewFetcher builds a Fetcher with the given User-Agent and request timeout.
func NewFetcher(userAgent string, timeout time.Duration) *Fetcher {
	if userAgent == "" {
		userAgent = "narrative-core/1.0"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}, userAgent: userAgent}
}

// Fetch retrieves url and returns its title and cleaned body text. An empty
// body (no error) means the page had no recognizable article content.
func (f *Fetcher) Fetch(ctx context.Context, url string) (title, body string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", fmt.Errorf("building request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetching %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("parsing %s: %w", url, err)
	}

	doc.Find(boilerplateSelector).Remove()

	title = strings.TrimSpace(doc.Find("head title").First().Text())
	if title == "" {
		og, _ := doc.Find(`meta[property='og:title']`).Attr("content")
		title = strings.TrimSpace(og)
	}

	body = extractBody(doc)
	return title, body, nil
}

func extractBody(doc *goquery.Document) string {
	var sb strings.Builder
	for _, selector := range contentSelectors {
		doc.Find(selector).Find("p, h1, h2, h3, h4, h5, h6, li, blockquote").Each(func(_ int, s *goquery.Selection) {
			if text := strings.TrimSpace(s.Text()); text != "" {
				sb.WriteString(text)
				sb.WriteString("\n\n")
			}
		})
		if sb.Len() > 0 {
			break
		}
	}

	if sb.Len() == 0 {
		doc.Find("body").Find("p").Each(func(_ int, s *goquery.Selection) {
			if text := strings.TrimSpace(s.Text()); text != "" {
				sb.WriteString(text)
				sb.WriteString("\n\n")
			}
		})
	}

	return strings.TrimSpace(collapseBlankLines.ReplaceAllString(sb.String(), "\n\n"))
}
