package kafka

import (
	"time"

	"wohnung-hunter/internal/changes"
	"wohnung-hunter/internal/scraper"
)

const (
	EventApartmentChanges = "apartment_changes"
	EventScrapeRequest    = "scrape_request"
	EventScrapeCompleted  = "scrape_completed"
)

// ApartmentChangesEvent carries the changes one run detected for one site.
type ApartmentChangesEvent struct {
	EventType string           `json:"event_type"`
	RunID     string           `json:"run_id"`
	Site      string           `json:"site"`
	Changes   []changes.Change `json:"changes"`
	FoundAt   time.Time        `json:"found_at"`
}

type ScrapeRequestEvent struct {
	EventType   string    `json:"event_type"`
	RequestedBy int64     `json:"requested_by,omitempty"`
	Sites       []string  `json:"sites,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ScrapeCompletedEvent summarizes a whole run including scraper health.
type ScrapeCompletedEvent struct {
	EventType  string           `json:"event_type"`
	RunID      string           `json:"run_id"`
	Results    []scraper.Result `json:"results"`
	New        int              `json:"new"`
	Updated    int              `json:"updated"`
	Removed    int              `json:"removed"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// Unhealthy returns the results of scrapers that failed or need attention.
func (e ScrapeCompletedEvent) Unhealthy() []scraper.Result {
	var out []scraper.Result
	for _, r := range e.Results {
		if r.Health != scraper.Healthy {
			out = append(out, r)
		}
	}
	return out
}
