// Package scraper loads web pages as langchaingo documents.
package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/RanFeng/ilog"
	"github.com/tmc/langchaingo/schema"
	"golang.org/x/time/rate"
)

const userAgent = "chainserve/1.0"

type ScraperConfig struct {
	BaseURL           string
	MaxDepth          int     // 0 fetches only the start page
	RateLimit         float64 // requests per second
	IgnorePatterns    []string
	AllowedExtensions []string // "" allows extensionless paths
	Timeout           time.Duration
	OnProgress        func(url string)
	Client            *http.Client
}

type Scraper struct {
	config   ScraperConfig
	client   *http.Client
	visited  map[string]bool
	limiter  *rate.Limiter
	baseHost string
}

// contentSelectors are tried in order; the first match is the page text.
var contentSelectors = []string{
	"main",
	"article",
	".content",
	"#content",
	".documentation",
	"#documentation",
}

// boilerplate is removed from extracted text.
var boilerplate = []string{
	"Cookie Policy",
	"Accept Cookies",
	"Privacy Policy",
	"Terms of Service",
}

func NewWithConfig(config ScraperConfig) (*Scraper, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxDepth < 0 {
		config.MaxDepth = 0
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}
	if len(config.AllowedExtensions) == 0 {
		config.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}

	base, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, err
	}
	if base.Host == "" {
		return nil, fmt.Errorf("base URL %q has no host", config.BaseURL)
	}

	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	return &Scraper{
		config:   config,
		client:   client,
		visited:  make(map[string]bool),
		limiter:  rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		baseHost: base.Host,
	}, nil
}

// shouldProcessURL reports whether a linked page is on the start host, has
// an allowed extension and matches no ignore pattern.
func (s *Scraper) shouldProcessURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host != s.baseHost {
		return false
	}
	if !s.allowedPath(strings.ToLower(u.Path)) {
		return false
	}
	for _, pattern := range s.config.IgnorePatterns {
		if strings.Contains(rawURL, pattern) {
			return false
		}
	}
	return true
}

func (s *Scraper) allowedPath(p string) bool {
	for _, ext := range s.config.AllowedExtensions {
		switch {
		case ext == "":
			if !strings.Contains(path.Base(p), ".") || strings.HasSuffix(p, "/") {
				return true
			}
		case strings.HasSuffix(p, ext):
			return true
		}
	}
	return false
}

// Scrape fetches startURL and, up to MaxDepth, the same-host pages it links
// to. Errors on linked pages are logged and skipped; an error fetching the
// start page is returned.
func (s *Scraper) Scrape(ctx context.Context, startURL string) ([]schema.Document, error) {
	s.visited = make(map[string]bool)
	var docs []schema.Document
	err := s.walk(ctx, startURL, 0, &docs)
	return docs, err
}

func (s *Scraper) walk(ctx context.Context, pageURL string, depth int, docs *[]schema.Document) error {
	if depth > s.config.MaxDepth || s.visited[pageURL] {
		return nil
	}
	if depth > 0 && !s.shouldProcessURL(pageURL) {
		return nil
	}
	s.visited[pageURL] = true
	if s.config.OnProgress != nil {
		s.config.OnProgress(pageURL)
	}

	p, err := s.fetch(ctx, pageURL)
	if err != nil {
		return err
	}
	p.metadata["depth"] = depth
	*docs = append(*docs, schema.Document{PageContent: p.text, Metadata: p.metadata})

	if depth == s.config.MaxDepth {
		return nil
	}
	for _, link := range p.links {
		if err := s.walk(ctx, link, depth+1, docs); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ilog.EventWarn(ctx, "scraper_page_error", "url", link, "err", err)
		}
	}
	return nil
}

// page is one fetched and parsed document.
type page struct {
	text     string
	metadata map[string]any
	links    []string // absolute, without fragments
}

func (s *Scraper) fetch(ctx context.Context, pageURL string) (*page, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, pageURL)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	// links are read before extraction strips nav elements
	links := pageLinks(ctx, doc, base)

	description, _ := doc.Find(`meta[name="description"]`).Attr("content")
	language, _ := doc.Find("html").Attr("lang")

	return &page{
		metadata: map[string]any{
			"source":       pageURL,
			"title":        strings.TrimSpace(doc.Find("title").First().Text()),
			"description":  description,
			"language":     language,
			"contentType":  resp.Header.Get("Content-Type"),
			"lastModified": resp.Header.Get("Last-Modified"),
		},
		text:  mainText(doc),
		links: links,
	}, nil
}

func pageLinks(ctx context.Context, doc *goquery.Document, base *url.URL) []string {
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		ref, err := url.Parse(href)
		if err != nil {
			ilog.EventWarn(ctx, "scraper_bad_link", "href", href, "err", err)
			return
		}
		abs := base.ResolveReference(ref)
		abs.Fragment = ""
		links = append(links, abs.String())
	})
	return links
}

// mainText returns the whitespace-collapsed text of the main content area,
// falling back to the whole body.
func mainText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, nav, footer").Remove()

	var text string
	for _, selector := range contentSelectors {
		if sel := doc.Find(selector); sel.Length() > 0 {
			text = sel.Text()
			break
		}
	}
	if strings.TrimSpace(text) == "" {
		text = doc.Find("body").Text()
	}

	text = strings.Join(strings.Fields(text), " ")
	for _, noise := range boilerplate {
		text = strings.ReplaceAll(text, noise, "")
	}
	return strings.TrimSpace(text)
}
