package scraper

import (
	"context"
	"fmt"
	"log"
	"time"

	"wohnung-hunter/internal/models"
)

// Scraper produces the current listings of one site.
type Scraper interface {
	Name() string
	Scrape(ctx context.Context) ([]models.Flat, error)
}

// MinResulter is implemented by scrapers that expect more than one listing
// from a healthy run.
type MinResulter interface {
	MinResults() int
}

type Options struct {
	Timeout   time.Duration
	UserAgent string
	// ChromeBin overrides the browser found on PATH for rendered sites.
	ChromeBin string
}

const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	return o
}

// Registry holds the scrapers a run executes, in registration order.
type Registry struct {
	scrapers []Scraper
	names    map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{names: make(map[string]bool)}
}

func (r *Registry) Register(s Scraper) error {
	if r.names[s.Name()] {
		return fmt.Errorf("scraper %q already registered", s.Name())
	}
	r.names[s.Name()] = true
	r.scrapers = append(r.scrapers, s)
	return nil
}

func (r *Registry) Scrapers() []Scraper {
	return append([]Scraper(nil), r.scrapers...)
}

func (r *Registry) Get(name string) Scraper {
	for _, s := range r.scrapers {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

func (r *Registry) Len() int {
	return len(r.scrapers)
}

type Health string

const (
	Healthy   Health = "healthy"
	Unhealthy Health = "unhealthy"
	Failed    Health = "failed"
)

// CheckHealth judges a scrape by its result count against the expected minimum.
func CheckHealth(flats []models.Flat, minResults int) (Health, []string) {
	if minResults < 1 {
		minResults = 1
	}

	if len(flats) == 0 {
		return Unhealthy, []string{"No results found - scraper may need updating"}
	}
	if len(flats) < minResults {
		return Unhealthy, []string{fmt.Sprintf("Only %d result(s) found, expected at least %d", len(flats), minResults)}
	}

	var warnings []string
	if len(flats) == 1 {
		warnings = append(warnings, "Only 1 result found - unusually low")
	}
	return Healthy, warnings
}

// Result is the outcome of running one scraper.
type Result struct {
	Source    string        `json:"source"`
	Flats     []models.Flat `json:"-"`
	Count     int           `json:"count"`
	Health    Health        `json:"health"`
	Warnings  []string      `json:"warnings,omitempty"`
	Errors    []string      `json:"errors,omitempty"`
	ScrapedAt time.Time     `json:"scraped_at"`
	Duration  time.Duration `json:"duration"`
}

func (r Result) Success() bool {
	return len(r.Errors) == 0
}

// Run executes one scraper and classifies its result. A scraper error yields
// a failed result rather than an error.
func Run(ctx context.Context, s Scraper) Result {
	started := time.Now()
	log.Printf("🔍 Running scraper: %s", s.Name())

	flats, err := s.Scrape(ctx)
	result := Result{
		Source:    s.Name(),
		ScrapedAt: started,
		Duration:  time.Since(started),
	}
	if err != nil {
		msg := fmt.Sprintf("Error running %s: %v", s.Name(), err)
		log.Printf("❌ %s", msg)
		result.Health = Failed
		result.Errors = []string{msg}
		result.Flats = []models.Flat{}
		return result
	}

	minResults := 1
	if m, ok := s.(MinResulter); ok {
		minResults = m.MinResults()
	}

	result.Flats = flats
	result.Count = len(flats)
	result.Health, result.Warnings = CheckHealth(flats, minResults)

	if result.Health == Healthy {
		log.Printf("✅ Found %d flats from %s", len(flats), s.Name())
	} else {
		log.Printf("⚠️ Found %d flats from %s (needs attention)", len(flats), s.Name())
	}
	for _, w := range result.Warnings {
		log.Printf("    ⚠️ %s", w)
	}
	return result
}

// Deduplicate keeps the first flat of every id.
func Deduplicate(flats []models.Flat) []models.Flat {
	seen := make(map[string]bool, len(flats))
	unique := make([]models.Flat, 0, len(flats))
	for _, f := range flats {
		if seen[f.ID] {
			continue
		}
		seen[f.ID] = true
		unique = append(unique, f)
	}
	return unique
}
