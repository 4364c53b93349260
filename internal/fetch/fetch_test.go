package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const sampleArticleHTML = `<html><head><title>BTC rallies past 100k</title></head>
<body>
<nav>skip this</nav>
<article>
<p>Bitcoin surged today.</p>
<p>Analysts cite ETF inflows.</p>
</article>
<footer>skip this too</footer>
</body></html>`

func TestFetcher_FetchExtractsArticleBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleArticleHTML))
	}))
	defer srv.Close()

	f := NewFetcher("test-agent", 5*time.Second)
	title, body, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if title != "BTC rallies past 100k" {
		t.Fatalf("unexpected title: %q", title)
	}
	if !strings.Contains(body, "Bitcoin surged today.") || !strings.Contains(body, "ETF inflows") {
		t.Fatalf("expected article paragraphs in body, got: %q", body)
	}
	if strings.Contains(body, "skip this") {
		t.Fatalf("expected boilerplate to be stripped, got: %q", body)
	}
}

func TestFetcher_FetchNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher("test-agent", 5*time.Second)
	if _, _, err := f.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected an error for a 404 response")
	}
}
