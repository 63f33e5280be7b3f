// Package events relays order events from the outbox to Kafka. Events are
// published at least once; consumers key on the event id header.
package events

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"storefront/internal/models"
	"storefront/internal/store"
)

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaWriter(topic string, brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
}

type Publisher struct {
	outbox    store.Outbox
	writer    MessageWriter
	tick      time.Duration
	batchSize int
	now       func() time.Time
	log       *logrus.Logger
}

func NewPublisher(outbox store.Outbox, writer MessageWriter, tick time.Duration, logger *logrus.Logger) *Publisher {
	if tick <= 0 {
		tick = time.Second
	}
	return &Publisher{
		outbox:    outbox,
		writer:    writer,
		tick:      tick,
		batchSize: 100,
		now:       func() time.Time { return time.Now().UTC() },
		log:       logger,
	}
}

// Run polls until ctx is done.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.ProcessPending(ctx)
		case <-ctx.Done():
			if err := p.writer.Close(); err != nil {
				p.log.Warnf("closing event writer: %v", err)
			}
			return
		}
	}
}

// ProcessPending publishes one batch and reports how many events were
// marked processed. An event that fails to publish stays pending.
func (p *Publisher) ProcessPending(ctx context.Context) int {
	pending, err := p.outbox.PendingEvents(ctx, p.batchSize)
	if err != nil {
		p.log.Errorf("failed to fetch outbox events: %v", err)
		return 0
	}

	published := 0
	for i := range pending {
		event := &pending[i]
		entry := p.log.WithFields(logrus.Fields{"eventId": event.ID, "eventType": event.EventType})

		if err := p.writer.WriteMessages(ctx, message(event)); err != nil {
			entry.Warnf("failed to publish event: %v", err)
			continue
		}
		if err := p.outbox.MarkEventProcessed(ctx, event.ID, p.now()); err != nil {
			entry.Warnf("failed to mark event processed: %v", err)
			continue
		}
		published++
	}
	return published
}

// message keys by order id so events of one order stay in one partition.
func message(event *models.OutboxEvent) kafka.Message {
	return kafka.Message{
		Key:   []byte(event.AggregateID.Hex()),
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
		Time: event.CreatedAt,
	}
}
