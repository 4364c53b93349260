package feeds

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"narrative-core/internal/core"
)

const sampleRSS = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<title>Crypto Wire</title>
<item><title>BTC rallies</title><link>https://example.com/btc-rallies</link><guid>guid-1</guid><pubDate>Mon, 02 Jan 2006 15:04:05 +0000</pubDate></item>
</channel></rss>`

func TestManager_PollParsesRSS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"abc123"`)
		_, _ = w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	mgr := NewManager("test-agent", 5*time.Second)
	result, err := mgr.Poll(context.Background(), core.Feed{URL: srv.URL})
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if result.NotModified {
		t.Fatalf("expected a fresh fetch, got NotModified")
	}
	if len(result.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(result.Items))
	}
	if result.Items[0].URL != "https://example.com/btc-rallies" {
		t.Fatalf("unexpected item URL: %q", result.Items[0].URL)
	}
	if result.Feed.ETag != `"abc123"` {
		t.Fatalf("expected ETag to be captured, got %q", result.Feed.ETag)
	}
	if result.Feed.Title != "Crypto Wire" {
		t.Fatalf("expected feed title, got %q", result.Feed.Title)
	}
}

func TestManager_PollHonorsNotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"cached"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		t.Fatalf("expected conditional header to be sent")
	}))
	defer srv.Close()

	mgr := NewManager("test-agent", 5*time.Second)
	result, err := mgr.Poll(context.Background(), core.Feed{URL: srv.URL, ETag: `"cached"`})
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if !result.NotModified {
		t.Fatalf("expected NotModified")
	}
	if len(result.Items) != 0 {
		t.Fatalf("expected no items on a 304")
	}
}
