// Package runner ties scrapers, marker detection, the site store and the
// notification layer together for one scrape run.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"wohnung-hunter/internal/changes"
	"wohnung-hunter/internal/kafka"
	"wohnung-hunter/internal/markers"
	"wohnung-hunter/internal/models"
	"wohnung-hunter/internal/scraper"
)

// Store persists one site's scrape and reports what changed.
type Store interface {
	SaveApartmentsWithChanges(site string, flats []models.Flat, markMissingAsRemoved, trackHistory bool) ([]changes.Change, error)
}

type Publisher interface {
	PublishApartmentChanges(ctx context.Context, runID, site string, list []changes.Change) error
	PublishScrapeCompleted(ctx context.Context, event kafka.ScrapeCompletedEvent) error
}

type CacheInvalidator interface {
	InvalidateSearchResults(ctx context.Context) error
}

// MarkerSource is implemented by scrapers with their own marker definitions.
type MarkerSource interface {
	Markers() []markers.Marker
}

type Runner struct {
	registry     *scraper.Registry
	store        Store
	publisher    Publisher
	cache        CacheInvalidator
	global       *markers.Detector
	trackHistory bool
	newRunID     func() string
}

type Option func(*Runner)

func WithPublisher(p Publisher) Option {
	return func(r *Runner) { r.publisher = p }
}

func WithCache(c CacheInvalidator) Option {
	return func(r *Runner) { r.cache = c }
}

// WithMarkers adds markers detected on every site in addition to the
// scraper's own.
func WithMarkers(list []markers.Marker) Option {
	return func(r *Runner) { r.global = markers.NewDetector(list) }
}

func WithHistory(track bool) Option {
	return func(r *Runner) { r.trackHistory = track }
}

func New(registry *scraper.Registry, store Store, opts ...Option) *Runner {
	r := &Runner{
		registry:     registry,
		store:        store,
		trackHistory: true,
		newRunID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report describes one run.
type Report struct {
	RunID      string
	Results    []scraper.Result
	Changes    map[string][]changes.Change
	StartedAt  time.Time
	FinishedAt time.Time
}

func (r *Report) Sites() []string {
	sites := make([]string, 0, len(r.Changes))
	for site := range r.Changes {
		sites = append(sites, site)
	}
	sort.Strings(sites)
	return sites
}

// All returns every change of the run, site by site.
func (r *Report) All() []changes.Change {
	var all []changes.Change
	for _, site := range r.Sites() {
		all = append(all, r.Changes[site]...)
	}
	return all
}

func (r *Report) Counts() map[changes.ChangeType]int {
	return changes.CountByType(r.All())
}

// Run scrapes every registered site.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	return r.RunSites(ctx, nil)
}

// RunSites scrapes the named sites, or all when names is empty. All scrapes
// finish before any site is reconciled; sites are reconciled one at a time.
// A site is only reconciled when its scrape returned listings, so a broken
// scraper never marks a site's apartments as removed. Store failures do not
// stop other sites and are returned together.
func (r *Runner) RunSites(ctx context.Context, names []string) (*Report, error) {
	report := &Report{
		RunID:     r.newRunID(),
		Changes:   make(map[string][]changes.Change),
		StartedAt: time.Now(),
	}
	log.Printf("🚀 Starting scrape run %s", report.RunID)

	scrapers, err := r.selectScrapers(names)
	if err != nil {
		return nil, err
	}

	var all []models.Flat
	for _, s := range scrapers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result := scraper.Run(ctx, s)
		result.Flats = r.applyMarkers(s, result.Flats)
		report.Results = append(report.Results, result)
		all = append(all, result.Flats...)
	}

	bySite := groupBySource(all)
	sites := make([]string, 0, len(bySite))
	for site := range bySite {
		sites = append(sites, site)
	}
	sort.Strings(sites)

	var errs []error
	for _, site := range sites {
		flats := scraper.Deduplicate(bySite[site])

		list, err := r.store.SaveApartmentsWithChanges(site, flats, true, r.trackHistory)
		if err != nil {
			log.Printf("❌ Failed to save %s: %v", site, err)
			errs = append(errs, fmt.Errorf("site %s: %w", site, err))
			continue
		}
		if len(list) == 0 {
			continue
		}

		report.Changes[site] = list
		counts := changes.CountByType(list)
		log.Printf("💾 %s: %d new, %d updated, %d removed",
			site, counts[changes.ChangeNew], counts[changes.ChangeUpdated], counts[changes.ChangeRemoved])

		if r.publisher != nil {
			if err := r.publisher.PublishApartmentChanges(ctx, report.RunID, site, list); err != nil {
				log.Printf("❌ Failed to publish changes for %s: %v", site, err)
			}
		}
	}

	report.FinishedAt = time.Now()
	r.finish(ctx, report)

	if len(errs) > 0 {
		return report, errors.Join(errs...)
	}
	return report, nil
}

func (r *Runner) selectScrapers(names []string) ([]scraper.Scraper, error) {
	if len(names) == 0 {
		return r.registry.Scrapers(), nil
	}

	var selected []scraper.Scraper
	for _, name := range names {
		s := r.registry.Get(name)
		if s == nil {
			return nil, fmt.Errorf("unknown site %q", name)
		}
		selected = append(selected, s)
	}
	return selected, nil
}

func (r *Runner) applyMarkers(s scraper.Scraper, flats []models.Flat) []models.Flat {
	if ms, ok := s.(MarkerSource); ok && len(ms.Markers()) > 0 {
		flats = markers.NewDetector(ms.Markers()).ApplyAll(flats)
	}
	if r.global != nil {
		flats = r.global.ApplyAll(flats)
	}
	return flats
}

func (r *Runner) finish(ctx context.Context, report *Report) {
	counts := report.Counts()
	log.Printf("✅ Run %s finished in %v: %d new, %d updated, %d removed",
		report.RunID, report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond),
		counts[changes.ChangeNew], counts[changes.ChangeUpdated], counts[changes.ChangeRemoved])

	if len(report.Changes) > 0 && r.cache != nil {
		if err := r.cache.InvalidateSearchResults(ctx); err != nil {
			log.Printf("⚠️ Failed to invalidate search cache: %v", err)
		}
	}

	if r.publisher == nil {
		return
	}
	event := kafka.ScrapeCompletedEvent{
		RunID:      report.RunID,
		Results:    report.Results,
		New:        counts[changes.ChangeNew],
		Updated:    counts[changes.ChangeUpdated],
		Removed:    counts[changes.ChangeRemoved],
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
	}
	if err := r.publisher.PublishScrapeCompleted(ctx, event); err != nil {
		log.Printf("❌ Failed to publish run summary: %v", err)
	}
}

func groupBySource(flats []models.Flat) map[string][]models.Flat {
	groups := make(map[string][]models.Flat)
	for _, f := range flats {
		groups[f.Source] = append(groups[f.Source], f)
	}
	return groups
}
