package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"

	"tillbook/backend/internal/domain"
)

const saleCreatedTopic = "sales.created"

// SalePublisher emits an event after a sale is recorded. Publishing is
// best-effort: the sale is already durable when the event goes out.
type SalePublisher interface {
	PublishSaleCreated(ctx context.Context, sale domain.Sale) error
}

type NoopSalePublisher struct{}

func (NoopSalePublisher) PublishSaleCreated(_ context.Context, _ domain.Sale) error {
	return nil
}

type KafkaSalePublisher struct {
	producer sarama.SyncProducer
}

func NewKafkaSalePublisher(brokers []string) (*KafkaSalePublisher, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	return &KafkaSalePublisher{producer: producer}, nil
}

func (p *KafkaSalePublisher) Close() error {
	return p.producer.Close()
}

func (p *KafkaSalePublisher) PublishSaleCreated(_ context.Context, sale domain.Sale) error {
	event := map[string]any{
		"event_type": "sale_created",
		"emitted_at": time.Now().UTC().Format(time.RFC3339),
		"data":       sale,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: saleCreatedTopic,
		Key:   sarama.StringEncoder(sale.ID),
		Value: sarama.ByteEncoder(payload),
	}
	_, _, err = p.producer.SendMessage(msg)
	return err
}
