package scraper

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"wohnung-hunter/internal/markers"
	"wohnung-hunter/internal/models"
	"wohnung-hunter/internal/siteconfig"
)

// Renderer returns the HTML of a page after client-side scripts ran.
type Renderer interface {
	Render(ctx context.Context, pageURL, waitSelector string) (string, error)
}

// SiteScraper scrapes a listing page driven entirely by a SiteConfig.
type SiteScraper struct {
	cfg      *siteconfig.SiteConfig
	opts     Options
	renderer Renderer
	now      func() time.Time
}

func NewSiteScraper(cfg *siteconfig.SiteConfig, opts Options, renderer Renderer) *SiteScraper {
	opts = opts.withDefaults()
	if cfg.RequestTimeout > 0 {
		opts.Timeout = cfg.Timeout()
	}
	return &SiteScraper{
		cfg:      cfg,
		opts:     opts,
		renderer: renderer,
		now:      time.Now,
	}
}

func (s *SiteScraper) Name() string {
	return s.cfg.Name
}

func (s *SiteScraper) MinResults() int {
	if s.cfg.MinResults > 0 {
		return s.cfg.MinResults
	}
	return 1
}

// Markers returns the marker definitions configured for this site.
func (s *SiteScraper) Markers() []markers.Marker {
	return s.cfg.Markers
}

func (s *SiteScraper) Scrape(ctx context.Context) ([]models.Flat, error) {
	if s.cfg.Render {
		return s.scrapeRendered(ctx)
	}
	return s.scrapeStatic(ctx)
}

func (s *SiteScraper) maxPages() int {
	p := s.cfg.Pagination
	if p == nil || !p.Enabled {
		return 1
	}
	return p.MaxPages
}

// pageCollector accumulates flats across pages, skipping repeated urls.
type pageCollector struct {
	flats []models.Flat
	seen  map[string]bool
}

func (pc *pageCollector) add(f models.Flat) bool {
	if pc.seen[f.URL] {
		return false
	}
	pc.seen[f.URL] = true
	pc.flats = append(pc.flats, f)
	return true
}

func (s *SiteScraper) scrapeStatic(ctx context.Context) ([]models.Flat, error) {
	c := colly.NewCollector(
		colly.UserAgent(s.opts.UserAgent),
		colly.StdlibContext(ctx),
	)
	c.SetRequestTimeout(s.opts.Timeout)
	if err := c.Limit(&colly.LimitRule{DomainGlob: "*", Delay: s.cfg.Delay()}); err != nil {
		return nil, fmt.Errorf("failed to set rate limit for %s: %w", s.cfg.Name, err)
	}

	pc := &pageCollector{seen: make(map[string]bool)}
	pages := 0
	added := 0
	var pageErr error

	c.OnResponse(func(r *colly.Response) {
		pages++
		added = 0
	})

	c.OnHTML(s.cfg.Selectors.Listing, func(e *colly.HTMLElement) {
		if flat, ok := s.extract(e.DOM, e.Request.URL); ok && pc.add(flat) {
			added++
		}
	})

	p := s.cfg.Pagination
	followNext := p != nil && p.Enabled && p.URLPattern == "" && p.NextSelector != ""
	if followNext {
		c.OnHTML(p.NextSelector, func(e *colly.HTMLElement) {
			if pages >= s.maxPages() {
				return
			}
			next := e.Request.AbsoluteURL(e.Attr("href"))
			if next == "" {
				return
			}
			if visited, _ := c.HasVisited(next); visited {
				return
			}
			if err := e.Request.Visit(next); err != nil {
				log.Printf("⚠️ %s: failed to follow next page %s: %v", s.cfg.Name, next, err)
			}
		})
	}

	c.OnError(func(r *colly.Response, err error) {
		if pageErr == nil {
			pageErr = fmt.Errorf("request %s failed: %w", r.Request.URL, err)
		}
	})

	if err := c.Visit(s.cfg.BaseURL); err != nil {
		if pageErr != nil {
			return nil, pageErr
		}
		return nil, fmt.Errorf("failed to visit %s: %w", s.cfg.BaseURL, err)
	}

	if p != nil && p.Enabled && p.URLPattern != "" {
		for page := 2; page <= s.maxPages(); page++ {
			if added == 0 || ctx.Err() != nil {
				break
			}
			next := s.cfg.PageURL(page)
			if visited, _ := c.HasVisited(next); visited {
				break
			}
			if err := c.Visit(next); err != nil {
				log.Printf("⚠️ %s: stopping pagination at page %d: %v", s.cfg.Name, page, err)
				break
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return pc.flats, err
	}
	return pc.flats, nil
}

func (s *SiteScraper) scrapeRendered(ctx context.Context) ([]models.Flat, error) {
	if s.renderer == nil {
		return nil, fmt.Errorf("site %s requires a browser renderer", s.cfg.Name)
	}

	pc := &pageCollector{seen: make(map[string]bool)}
	pageURL := s.cfg.BaseURL

	for page := 1; page <= s.maxPages() && pageURL != ""; page++ {
		base, err := url.Parse(pageURL)
		if err != nil {
			return nil, fmt.Errorf("invalid page url %s: %w", pageURL, err)
		}

		body, err := s.renderer.Render(ctx, pageURL, s.cfg.Selectors.Listing)
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("failed to render %s: %w", pageURL, err)
			}
			log.Printf("⚠️ %s: stopping pagination at page %d: %v", s.cfg.Name, page, err)
			break
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to parse rendered %s: %w", pageURL, err)
		}

		added := 0
		doc.Find(s.cfg.Selectors.Listing).Each(func(_ int, sel *goquery.Selection) {
			if flat, ok := s.extract(sel, base); ok && pc.add(flat) {
				added++
			}
		})
		if added == 0 {
			break
		}

		pageURL = s.nextRenderedPage(doc, base, page+1)
		if pageURL != "" {
			select {
			case <-ctx.Done():
				return pc.flats, ctx.Err()
			case <-time.After(s.cfg.Delay()):
			}
		}
	}
	return pc.flats, nil
}

func (s *SiteScraper) nextRenderedPage(doc *goquery.Document, base *url.URL, page int) string {
	p := s.cfg.Pagination
	if p == nil || !p.Enabled {
		return ""
	}
	if p.URLPattern != "" {
		return s.cfg.PageURL(page)
	}
	if p.NextSelector == "" {
		return ""
	}
	href, ok := doc.Find(p.NextSelector).First().Attr("href")
	if !ok {
		return ""
	}
	return resolveURL(base, href)
}

// extract turns one listing element into a flat. Listings without a title or
// a valid link are skipped.
func (s *SiteScraper) extract(sel *goquery.Selection, base *url.URL) (models.Flat, bool) {
	sels := s.cfg.Selectors

	title := CleanText(find(sel, sels.Title).First().Text())
	href, _ := find(sel, sels.URL).First().Attr("href")
	link := resolveURL(base, href)
	if title == "" || link == "" {
		return models.Flat{}, false
	}

	location := CleanText(find(sel, sels.Location).First().Text())
	if location == "" {
		location = "Unknown"
	}

	flat := models.Flat{
		ID:       models.GenerateID(s.cfg.Name, link),
		Title:    title,
		URL:      link,
		Location: location,
		Source:   s.cfg.Name,
		Markers:  []string{},
		FoundAt:  s.now(),
	}

	if sels.Price != "" {
		flat.Price = ParsePrice(find(sel, sels.Price).First().Text())
	}
	if sels.Size != "" {
		flat.Size = ParseSize(find(sel, sels.Size).First().Text())
	}
	if sels.Rooms != "" {
		flat.Rooms = ParseRooms(find(sel, sels.Rooms).First().Text())
	}
	if sels.Description != "" {
		if d := CleanText(find(sel, sels.Description).First().Text()); d != "" {
			flat.Description = &d
		}
	}
	if sels.Image != "" {
		img := find(sel, sels.Image).First()
		src := img.AttrOr("src", img.AttrOr("data-src", ""))
		if abs := resolveURL(base, src); abs != "" {
			flat.ImageURL = &abs
		}
	}

	if err := flat.Validate(); err != nil {
		return models.Flat{}, false
	}
	return flat, true
}

// find searches below sel, falling back to sel itself when it matches.
func find(sel *goquery.Selection, selector string) *goquery.Selection {
	if selector == "" {
		return sel.Slice(0, 0)
	}
	found := sel.Find(selector)
	if found.Length() == 0 && sel.Is(selector) {
		return sel
	}
	return found
}

func resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "#") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref).String()
	if !models.IsAbsoluteURL(abs) {
		return ""
	}
	return abs
}
