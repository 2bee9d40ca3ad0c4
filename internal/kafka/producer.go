package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"wohnung-hunter/internal/changes"
)

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}

	return &Producer{writer: writer}
}

func (p *Producer) publish(ctx context.Context, key string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", key, err)
	}

	message := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to write %s message: %w", key, err)
	}
	return nil
}

func (p *Producer) PublishApartmentChanges(ctx context.Context, runID, site string, list []changes.Change) error {
	event := ApartmentChangesEvent{
		EventType: EventApartmentChanges,
		RunID:     runID,
		Site:      site,
		Changes:   list,
		FoundAt:   time.Now(),
	}

	if err := p.publish(ctx, "changes_"+site, event); err != nil {
		return err
	}

	log.Printf("Published apartment_changes event: site=%s, count=%d", site, len(list))
	return nil
}

func (p *Producer) PublishScrapeRequest(ctx context.Context, requestedBy int64, sites []string) error {
	event := ScrapeRequestEvent{
		EventType:   EventScrapeRequest,
		RequestedBy: requestedBy,
		Sites:       sites,
		Timestamp:   time.Now(),
	}

	if err := p.publish(ctx, "scrape_request", event); err != nil {
		return err
	}

	log.Printf("Published scrape_request event")
	return nil
}

func (p *Producer) PublishScrapeCompleted(ctx context.Context, event ScrapeCompletedEvent) error {
	event.EventType = EventScrapeCompleted

	if err := p.publish(ctx, "run_"+event.RunID, event); err != nil {
		return err
	}

	log.Printf("Published scrape_completed event: run_id=%s, new=%d, updated=%d, removed=%d",
		event.RunID, event.New, event.Updated, event.Removed)
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
