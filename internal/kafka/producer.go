package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-raffle/internal/config"
	"ms-raffle/internal/models"
)

// Producer streams raffle events. One writer serves all topics; the topic
// rides on each message.
type Producer struct {
	writer *kafka.Writer
	topics config.TopicConfig
}

func NewProducer(brokers []string, topics config.TopicConfig) *Producer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.LeastBytes{},
	}
	return &Producer{writer: writer, topics: topics}
}

func (p *Producer) publish(topic, key string, payload interface{}) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}
	return p.writer.WriteMessages(context.Background(), kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
}

// PublishEntriesAllocated streams the outcome of a number allocation.
func (p *Producer) PublishEntriesAllocated(event models.AllocationEvent) error {
	return p.publish(p.topics.EntriesAllocated, event.PaymentSessionID, event)
}

// InvoiceEvent notifies downstream consumers (receipt mail, bookkeeping)
// that an invoice changed state.
type InvoiceEvent struct {
	OrderNumber string    `json:"order_number"`
	Email       string    `json:"email"`
	Status      string    `json:"status"`
	TotalPrice  float64   `json:"total_price"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func (p *Producer) PublishInvoiceCompleted(event InvoiceEvent) error {
	return p.publish(p.topics.InvoiceCompleted, event.OrderNumber, event)
}

// ReferralEvent is emitted when a referral partner is created, carrying
// the links the verification mail needs.
type ReferralEvent struct {
	ReferralCode string    `json:"referral_code"`
	Name         string    `json:"name"`
	Email        string    `json:"email,omitempty"`
	ReferralLink string    `json:"referral_link"`
	VerifyURL    string    `json:"verify_url"`
	OccurredAt   time.Time `json:"occurred_at"`
}

func (p *Producer) PublishReferralCreated(event ReferralEvent) error {
	return p.publish(p.topics.ReferralCreated, event.ReferralCode, event)
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
