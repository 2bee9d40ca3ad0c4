package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/gocolly/colly/v2"

	"wohnung-hunter/internal/models"
)

var egwProjectsRegex = regexp.MustCompile(`(?s)var projects = (\[.*?\]);</script>`)

var ErrProjectsNotFound = errors.New("could not find projects data in page")

type egwProject struct {
	URL           string `json:"url"`
	Heading       string `json:"heading"`
	Location      string `json:"location"`
	ProjectStatus string `json:"projectstatus"`
}

// EGWScraper reads the project list EGW embeds as a JavaScript array in its
// projects page.
type EGWScraper struct {
	baseURL string
	opts    Options
	now     func() time.Time
}

func NewEGWScraper(opts Options) *EGWScraper {
	return &EGWScraper{
		baseURL: "https://www.egw.at",
		opts:    opts.withDefaults(),
		now:     time.Now,
	}
}

func (s *EGWScraper) Name() string {
	return "egw"
}

func (s *EGWScraper) Scrape(ctx context.Context) ([]models.Flat, error) {
	c := colly.NewCollector(
		colly.UserAgent(s.opts.UserAgent),
		colly.StdlibContext(ctx),
	)
	c.SetRequestTimeout(s.opts.Timeout)

	var (
		flats    []models.Flat
		parseErr error
	)
	c.OnResponse(func(r *colly.Response) {
		flats, parseErr = s.parsePage(r.Body)
	})

	pageURL := s.baseURL + "/projekte"
	if err := c.Visit(pageURL); err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", pageURL, err)
	}
	if parseErr != nil {
		return nil, parseErr
	}
	return flats, nil
}

func (s *EGWScraper) parsePage(body []byte) ([]models.Flat, error) {
	m := egwProjectsRegex.FindSubmatch(body)
	if m == nil {
		return nil, ErrProjectsNotFound
	}

	var projects []egwProject
	if err := json.Unmarshal(m[1], &projects); err != nil {
		return nil, fmt.Errorf("failed to decode projects: %w", err)
	}

	flats := make([]models.Flat, 0, len(projects))
	for _, p := range projects {
		if flat, ok := s.parseProject(p); ok {
			flats = append(flats, flat)
		}
	}
	return flats, nil
}

func (s *EGWScraper) parseProject(p egwProject) (models.Flat, bool) {
	if p.URL == "" {
		return models.Flat{}, false
	}

	markers := []string{}
	switch p.ProjectStatus {
	case "planning":
		markers = append(markers, "in_planning")
	case "selling":
		markers = append(markers, "in_vergabe")
	}

	location := CleanText(p.Location)
	if location == "" {
		location = "Unknown"
	}

	fullURL := s.baseURL + p.URL
	flat := models.Flat{
		ID:       models.GenerateID(s.Name(), fullURL),
		Title:    CleanText(p.Heading),
		URL:      fullURL,
		Location: location,
		Source:   s.Name(),
		Markers:  markers,
		FoundAt:  s.now(),
	}
	if flat.Validate() != nil {
		return models.Flat{}, false
	}
	return flat, true
}
