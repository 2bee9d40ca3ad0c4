package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

type Consumer struct {
	reader *kafka.Reader
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    10e3,
		MaxBytes:    10e6,
		MaxWait:     1 * time.Second,
	})

	return &Consumer{reader: reader}
}

func (c *Consumer) ProcessEvents(ctx context.Context, handler EventHandler) error {
	for {
		select {
		case <-ctx.Done():
			log.Println("Consumer stopping...")
			return ctx.Err()
		default:
			message, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				log.Printf("Error reading message: %v", err)
				continue
			}

			log.Printf("Received message: key=%s, partition=%d, offset=%d",
				string(message.Key), message.Partition, message.Offset)

			if err := Dispatch(message.Value, handler); err != nil {
				log.Printf("Error handling message: %v", err)
			}
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// EventHandler receives decoded events. Services ignore the kinds they do
// not care about by returning nil.
type EventHandler interface {
	HandleApartmentChanges(event ApartmentChangesEvent) error
	HandleScrapeRequest(event ScrapeRequestEvent) error
	HandleScrapeCompleted(event ScrapeCompletedEvent) error
}

// Dispatch decodes one message by its event_type and hands it to handler.
// Unknown event types are logged and ignored.
func Dispatch(value []byte, handler EventHandler) error {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(value, &envelope); err != nil {
		return fmt.Errorf("failed to decode event: %w", err)
	}

	switch envelope.EventType {
	case EventApartmentChanges:
		var event ApartmentChangesEvent
		if err := json.Unmarshal(value, &event); err != nil {
			return err
		}
		return handler.HandleApartmentChanges(event)

	case EventScrapeRequest:
		var event ScrapeRequestEvent
		if err := json.Unmarshal(value, &event); err != nil {
			return err
		}
		return handler.HandleScrapeRequest(event)

	case EventScrapeCompleted:
		var event ScrapeCompletedEvent
		if err := json.Unmarshal(value, &event); err != nil {
			return err
		}
		return handler.HandleScrapeCompleted(event)

	case "":
		log.Println("Unknown event format")
		return nil

	default:
		log.Printf("Unknown event type: %s", envelope.EventType)
		return nil
	}
}
