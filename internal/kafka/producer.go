package kafka

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"ms-checkout/internal/models"
)

type Producer struct {
	Writer            *kafka.Writer
	OrderCreatedTopic string
	FailedTopic       string
}

func NewProducer(brokers []string, orderCreatedTopic, failedTopic string) *Producer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.LeastBytes{},
	}
	return &Producer{
		Writer:            writer,
		OrderCreatedTopic: orderCreatedTopic,
		FailedTopic:       failedTopic,
	}
}

func (p *Producer) Publish(topic, key string, value []byte) error {
	return p.Writer.WriteMessages(context.Background(),
		kafka.Message{
			Topic: topic,
			Key:   []byte(key),
			Value: value,
		},
	)
}

// PublishOrderCreated streams a materialized order to the fulfillment and
// reporting consumers.
func (p *Producer) PublishOrderCreated(order models.Order) error {
	msgBytes, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return p.Publish(p.OrderCreatedTopic, order.OrderID, msgBytes)
}

// PublishCheckoutFailed streams a failed session for manual follow-up.
func (p *Producer) PublishCheckoutFailed(session models.CheckoutSession) error {
	msgBytes, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return p.Publish(p.FailedTopic, session.SessionID, msgBytes)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
