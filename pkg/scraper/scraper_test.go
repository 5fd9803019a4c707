package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPage = `
<html lang="en">
	<head>
		<title>Test Page</title>
		<meta name="description" content="A page for tests">
	</head>
	<body>
		<nav><a href="/nav.html">Navigation</a></nav>
		<main>
			<h1>Test Content</h1>
			<p>This is a test   paragraph.</p>
			<a href="/page2.html#top">Link</a>
			<a href="https://other.example.com/away.html">Away</a>
		</main>
		<script>var tracking = true;</script>
	</body>
</html>
`

func newPageServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var mu sync.Mutex
	var hits []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits = append(hits, r.URL.Path)
		mu.Unlock()
		if r.URL.Path == "/missing.html" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(testPage))
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func TestScraperConfig(t *testing.T) {
	config := ScraperConfig{
		BaseURL:        "https://example.com",
		MaxDepth:       5,
		RateLimit:      1.0,
		IgnorePatterns: []string{"/ignore/", "private"},
		Timeout:        10 * time.Second,
	}

	s, err := NewWithConfig(config)
	require.NoError(t, err)
	assert.Equal(t, config.BaseURL, s.config.BaseURL)
	assert.Equal(t, config.MaxDepth, s.config.MaxDepth)
	assert.Equal(t, "example.com", s.baseHost)

	_, err = NewWithConfig(ScraperConfig{BaseURL: "not a url"})
	assert.Error(t, err)
}

func TestShouldProcessURL(t *testing.T) {
	config := ScraperConfig{
		BaseURL:        "https://example.com",
		IgnorePatterns: []string{"/ignore/", "private"},
	}

	s, err := NewWithConfig(config)
	require.NoError(t, err)

	tests := []struct {
		url      string
		expected bool
	}{
		{"https://example.com/docs/", true},
		{"https://example.com/docs/user_guide", true},
		{"https://example.com/page.html", true},
		{"https://example.com/ignore/page.html", false},
		{"https://example.com/private/page.html", false},
		{"https://other-domain.com/page.html", false},
		{"https://example.com/file.pdf", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			result := s.shouldProcessURL(tt.url)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestScrapeSinglePage(t *testing.T) {
	server, hits := newPageServer(t)

	s, err := NewWithConfig(ScraperConfig{BaseURL: server.URL, RateLimit: 100})
	require.NoError(t, err)

	docs, err := s.Scrape(context.Background(), server.URL)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Len(t, *hits, 1)

	doc := docs[0]
	assert.Equal(t, server.URL, doc.Metadata["source"])
	assert.Equal(t, "Test Page", doc.Metadata["title"])
	assert.Equal(t, "A page for tests", doc.Metadata["description"])
	assert.Equal(t, "en", doc.Metadata["language"])
	assert.Contains(t, doc.PageContent, "Test Content")
	assert.Contains(t, doc.PageContent, "This is a test paragraph.")
	assert.NotContains(t, doc.PageContent, "tracking")
	assert.NotContains(t, doc.PageContent, "Navigation")
}

func TestScrapeFollowsLinks(t *testing.T) {
	server, hits := newPageServer(t)

	var progress []string
	s, err := NewWithConfig(ScraperConfig{
		BaseURL:    server.URL,
		MaxDepth:   1,
		RateLimit:  100,
		OnProgress: func(url string) { progress = append(progress, url) },
	})
	require.NoError(t, err)

	docs, err := s.Scrape(context.Background(), server.URL)
	require.NoError(t, err)

	// start page, page2 and the nav link; the off-host link is skipped
	require.Len(t, docs, 3)
	assert.Equal(t, []string{"/", "/nav.html", "/page2.html"}, *hits)
	assert.Equal(t, server.URL+"/page2.html", docs[2].Metadata["source"])
	assert.Equal(t, 1, docs[2].Metadata["depth"])
	assert.Len(t, progress, 3)
}

func TestScrapeStartPageError(t *testing.T) {
	server, _ := newPageServer(t)

	s, err := NewWithConfig(ScraperConfig{BaseURL: server.URL, RateLimit: 100})
	require.NoError(t, err)

	_, err = s.Scrape(context.Background(), server.URL+"/missing.html")
	assert.ErrorContains(t, err, "received status code 404")
}

func TestScrapeCanceled(t *testing.T) {
	server, _ := newPageServer(t)

	s, err := NewWithConfig(ScraperConfig{BaseURL: server.URL, RateLimit: 100})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Scrape(ctx, server.URL)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWebLoader(t *testing.T) {
	server, _ := newPageServer(t)

	loader, err := NewWebLoader(ScraperConfig{BaseURL: server.URL, RateLimit: 100})
	require.NoError(t, err)

	docs, err := loader.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].PageContent, "Test Content")
}

func TestFileLoader(t *testing.T) {
	dir := t.TempDir()

	textPath := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(textPath, []byte("LangSmith helps you test LLM applications."), 0o644))

	htmlPath := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(htmlPath, []byte(testPage), 0o644))

	docs, err := NewFileLoader(textPath).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "LangSmith helps you test LLM applications.", docs[0].PageContent)
	assert.Equal(t, textPath, docs[0].Metadata["source"])

	docs, err = NewFileLoader(htmlPath).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].PageContent, "Test Content")
	assert.NotContains(t, docs[0].PageContent, "<h1>")

	_, err = NewFileLoader(filepath.Join(dir, "nope.txt")).Load(context.Background())
	assert.Error(t, err)
}
