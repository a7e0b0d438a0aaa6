package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orders-service/internal/domain"
)

// OutboxEnvelope — конверт, в котором события заказа уходят в Kafka.
// Payload для заказов содержит сериализованный OrderEvent.
type OutboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// Key возвращает ключ партиционирования: события одного заказа
// должны попадать в одну партицию.
func (e OutboxEnvelope) Key() string {
	if e.AggregateID != "" {
		return e.AggregateID
	}
	return e.ID
}

// OrderEvent распаковывает payload конверта как событие заказа.
func (e OutboxEnvelope) OrderEvent() (*OrderEvent, error) {
	var event OrderEvent
	if err := json.Unmarshal(e.Payload, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order event payload: %w", err)
	}
	return &event, nil
}

// OutboxTopicPublisher упаковывает outbox-сообщения в OutboxEnvelope
// и публикует их в заданный topic. Ошибки публикации оборачиваются
// в domain.ErrOutboxPublish, чтобы worker мог отличить их от прочих сбоев.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topic string) domain.OutboxPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic}
}

func (p *OutboxTopicPublisher) Publish(msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("%w: producer is not initialized", domain.ErrOutboxPublish)
	}

	envelope := OutboxEnvelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishedAt:   time.Now().UTC(),
	}

	if err := p.producer.PublishEvent(p.topic, envelope.Key(), envelope); err != nil {
		return fmt.Errorf("%w: topic %s: %v", domain.ErrOutboxPublish, p.topic, err)
	}
	return nil
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
