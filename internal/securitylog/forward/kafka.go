package forward

import (
	"context"

	"throttleguard/internal/platform/kafka/producer"
	"throttleguard/internal/securitylog/models"
	dErrors "throttleguard/pkg/domain-errors"
)

// Producer is the subset of the Kafka producer the forwarder needs.
type Producer interface {
	Produce(ctx context.Context, msg *producer.Message) error
}

// Kafka publishes events to a topic keyed by client IP, so one client's
// events stay ordered within a partition.
type Kafka struct {
	producer Producer
	topic    string
}

func NewKafka(p Producer, topic string) *Kafka {
	return &Kafka{producer: p, topic: topic}
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Forward(ctx context.Context, event models.Event) error {
	key, value, err := encode(event)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "encode security event")
	}
	err = k.producer.Produce(ctx, &producer.Message{
		Topic: k.topic,
		Key:   key,
		Value: value,
		Headers: map[string]string{
			"event_type": string(event.EventType),
			"severity":   event.Severity,
		},
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "publish security event to kafka")
	}
	return nil
}
