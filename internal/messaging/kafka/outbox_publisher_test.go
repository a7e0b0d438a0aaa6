package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-service/internal/domain"
)

func TestOutboxPublisher_WrapsPayloadInEnvelope(t *testing.T) {
	t.Parallel()

	event := NewOrderEvent(EventTypeOrderCreated, domain.Order{
		ID:               "order-123",
		Status:           domain.OrderStatusPending,
		TotalAmountMinor: 4500,
		TotalItems:       3,
	})
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatal(err)
	}

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var envelope OutboxEnvelope
		if err := json.Unmarshal(value, &envelope); err != nil {
			return fmt.Errorf("decode envelope: %w", err)
		}
		if envelope.ID != "outbox-1" || envelope.AggregateID != "order-123" {
			return fmt.Errorf("unexpected envelope identity: %+v", envelope)
		}
		if envelope.EventType != string(EventTypeOrderCreated) {
			return fmt.Errorf("unexpected event type %q", envelope.EventType)
		}
		if envelope.PublishedAt.IsZero() {
			return fmt.Errorf("published_at is not set")
		}

		decoded, err := envelope.OrderEvent()
		if err != nil {
			return err
		}
		if decoded.OrderID != "order-123" || decoded.TotalAmountMinor != 4500 || decoded.TotalItems != 3 {
			return fmt.Errorf("order event did not survive the round trip: %+v", decoded)
		}
		return nil
	})

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-outbox-publisher-test"),
	}
	publisher := NewOutboxPublisher(producer, TopicOrderEvents)

	err = publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: "order",
		AggregateID:   "order-123",
		EventType:     string(EventTypeOrderCreated),
		Payload:       payload,
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_ProducerErrorIsOutboxPublish(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-outbox-publisher-test"),
	}
	publisher := NewOutboxPublisher(producer, TopicOrderEvents)

	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-2",
		AggregateType: "order",
		AggregateID:   "order-234",
		EventType:     string(EventTypeOrderStatusChanged),
		Payload:       []byte(`{"status":"delivered"}`),
	})
	if !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("expected ErrOutboxPublish, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_NilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, TopicOrderEvents)
	err := publisher.Publish(domain.OutboxMessage{ID: "outbox-3"})
	if !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("expected ErrOutboxPublish for nil producer, got %v", err)
	}
}

func TestOutboxEnvelope_Key(t *testing.T) {
	t.Parallel()

	withAggregate := OutboxEnvelope{ID: "outbox-4", AggregateID: "order-456"}
	if got := withAggregate.Key(); got != "order-456" {
		t.Fatalf("expected aggregate id as key, got %q", got)
	}

	withoutAggregate := OutboxEnvelope{ID: "outbox-5", PublishedAt: time.Now()}
	if got := withoutAggregate.Key(); got != "outbox-5" {
		t.Fatalf("expected envelope id as key, got %q", got)
	}
}
