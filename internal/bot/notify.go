package bot

import (
	"log"

	"wohnung-hunter/internal/kafka"
)

// HandleApartmentChanges notifies every user whose active filters match
// new or updated apartments of the event's site.
func (b *Bot) HandleApartmentChanges(event kafka.ApartmentChangesEvent) error {
	log.Printf("🔔 Received %d change(s) for %s (run %s)", len(event.Changes), event.Site, event.RunID)

	filters, err := b.db.GetActiveFilters()
	if err != nil {
		return err
	}

	sent := 0
	for _, filter := range filters {
		matched := matchingChanges(filter, event.Site, event.Changes)
		if len(matched) == 0 {
			continue
		}

		b.sendMessage(filter.User.TelegramID, formatNotification(filter.Name, event.Site, matched))
		sent++
	}

	log.Printf("📨 Sent %d notification(s) for %s", sent, event.Site)
	return nil
}

func (b *Bot) HandleScrapeRequest(event kafka.ScrapeRequestEvent) error {
	return nil
}

func (b *Bot) HandleScrapeCompleted(event kafka.ScrapeCompletedEvent) error {
	for _, result := range event.Unhealthy() {
		log.Printf("⚠️ %s is %s after run %s: %v %v", result.Source, result.Health, event.RunID, result.Errors, result.Warnings)
	}
	return nil
}
