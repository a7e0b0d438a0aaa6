package main

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/orders-service/internal/messaging/kafka"
)

func TestParseBrokers(t *testing.T) {
	brokers := parseBrokers(" broker-1:9092, ,broker-2:9092 ")
	if len(brokers) != 2 {
		t.Fatalf("unexpected brokers count: got=%d want=2", len(brokers))
	}
	if brokers[0] != "broker-1:9092" || brokers[1] != "broker-2:9092" {
		t.Fatalf("unexpected brokers: %+v", brokers)
	}
}

func TestExtractReplayMessage_ConsumerDeadLetter(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"original_topic": "orders.order.events",
		"original_key":   "order-1",
		"original_value": `{"id":"evt-1"}`,
		"error_message":  "handler failed",
	})
	if err != nil {
		t.Fatalf("marshal payload failed: %v", err)
	}

	got, ok, err := extractReplayMessage(&sarama.ConsumerMessage{Value: raw}, "fallback-topic")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected replayable message")
	}
	if got.topic != "orders.order.events" {
		t.Fatalf("unexpected topic: %s", got.topic)
	}
	if got.key != "order-1" {
		t.Fatalf("unexpected key: %s", got.key)
	}
	if string(got.value) != `{"id":"evt-1"}` {
		t.Fatalf("unexpected value: %s", got.value)
	}
}

func TestExtractReplayMessage_ConsumerDeadLetterFallbackTopic(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"original_key":   "order-2",
		"original_value": `{"id":"evt-2"}`,
	})
	if err != nil {
		t.Fatalf("marshal payload failed: %v", err)
	}

	got, ok, err := extractReplayMessage(&sarama.ConsumerMessage{Value: raw}, "fallback-topic")
	if err != nil || !ok {
		t.Fatalf("unexpected result: ok=%v err=%v", ok, err)
	}
	if got.topic != "fallback-topic" {
		t.Fatalf("expected fallback topic, got %s", got.topic)
	}
}

func TestExtractReplayMessage_OutboxDeadLetter(t *testing.T) {
	inner, err := json.Marshal(map[string]any{
		"outbox_id":      "outbox-1",
		"aggregate_type": "order",
		"aggregate_id":   "order-3",
		"event_type":     "order.created",
		"payload":        json.RawMessage(`{"order_id":"order-3","status":"pending"}`),
		"publish_error":  "kafka unreachable",
	})
	if err != nil {
		t.Fatalf("marshal inner payload failed: %v", err)
	}
	raw, err := json.Marshal(map[string]any{
		"id":             "outbox-1",
		"aggregate_type": "order",
		"aggregate_id":   "order-3",
		"event_type":     "order.created",
		"payload":        json.RawMessage(inner),
	})
	if err != nil {
		t.Fatalf("marshal envelope failed: %v", err)
	}

	got, ok, err := extractReplayMessage(&sarama.ConsumerMessage{Value: raw}, "orders.order.events")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected replayable message")
	}
	if got.topic != "orders.order.events" {
		t.Fatalf("unexpected topic: %s", got.topic)
	}
	if got.key != "order-3" {
		t.Fatalf("unexpected key: %s", got.key)
	}

	var replay kafka.OutboxEnvelope
	if err := json.Unmarshal(got.value, &replay); err != nil {
		t.Fatalf("unmarshal replay envelope failed: %v", err)
	}
	if replay.ID != "outbox-1" || replay.EventType != "order.created" {
		t.Fatalf("unexpected replay envelope: %+v", replay)
	}
	if !strings.Contains(string(replay.Payload), `"order_id":"order-3"`) {
		t.Fatalf("replay payload lost original event: %s", replay.Payload)
	}
	if replay.PublishedAt.IsZero() {
		t.Fatal("expected fresh published_at")
	}
}

func TestExtractReplayMessage_Unrecognized(t *testing.T) {
	_, ok, err := extractReplayMessage(&sarama.ConsumerMessage{Value: []byte(`not-json`)}, "topic")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected message to be skipped")
	}

	_, ok, err = extractReplayMessage(&sarama.ConsumerMessage{Value: []byte(`{"id":"x"}`)}, "topic")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected envelope without payload to be skipped")
	}
}

func TestExtractReplayMessage_OutboxPayloadWithoutEvent(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"id":         "outbox-2",
		"event_type": "order.created",
		"payload":    json.RawMessage(`{"outbox_id":"outbox-2"}`),
	})
	if err != nil {
		t.Fatalf("marshal envelope failed: %v", err)
	}

	_, _, err = extractReplayMessage(&sarama.ConsumerMessage{Value: raw}, "topic")
	if err == nil {
		t.Fatal("expected error for dlq payload without original event")
	}
}

type fakeClient struct {
	partitions []int32
	oldest     int64
	newest     int64
}

func (c *fakeClient) GetOffset(_ string, _ int32, at int64) (int64, error) {
	if at == sarama.OffsetOldest {
		return c.oldest, nil
	}
	return c.newest, nil
}

func (c *fakeClient) Partitions(string) ([]int32, error) { return c.partitions, nil }

func (c *fakeClient) Close() error { return nil }

type fakePartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakePartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func (c *fakePartitionConsumer) Errors() <-chan *sarama.ConsumerError { return nil }

func (c *fakePartitionConsumer) Close() error { return nil }

type fakeSource struct {
	consumer *fakePartitionConsumer
}

func (s *fakeSource) ConsumePartition(string, int32, int64) (partitionConsumer, error) {
	return s.consumer, nil
}

func (s *fakeSource) Close() error { return nil }

type fakeProducer struct {
	sent []*sarama.ProducerMessage
}

func (p *fakeProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	p.sent = append(p.sent, msg)
	return 0, int64(len(p.sent)), nil
}

func (p *fakeProducer) Close() error { return nil }

func dlqTestMessages(t *testing.T) chan *sarama.ConsumerMessage {
	t.Helper()

	deadLetter, err := json.Marshal(map[string]any{
		"original_topic": "orders.order.events",
		"original_key":   "order-1",
		"original_value": `{"id":"evt-1"}`,
	})
	if err != nil {
		t.Fatalf("marshal dead letter failed: %v", err)
	}

	messages := make(chan *sarama.ConsumerMessage, 2)
	messages <- &sarama.ConsumerMessage{Topic: "orders.dlq", Offset: 0, Value: deadLetter}
	messages <- &sarama.ConsumerMessage{Topic: "orders.dlq", Offset: 1, Value: []byte(`garbage`)}
	return messages
}

func replayTestConfig(execute bool) config {
	return config{
		brokers:     []string{"broker:9092"},
		sourceTopic: "orders.dlq",
		targetTopic: "orders.order.events",
		limit:       10,
		execute:     execute,
		idleTimeout: 500 * time.Millisecond,
	}
}

func TestRunReplay_DryRun(t *testing.T) {
	client := &fakeClient{partitions: []int32{0}, oldest: 0, newest: 2}
	source := &fakeSource{consumer: &fakePartitionConsumer{messages: dlqTestMessages(t)}}

	err := runReplay(context.Background(), replayTestConfig(false), client, source, nil)
	if err != nil {
		t.Fatalf("runReplay failed: %v", err)
	}
}

func TestRunReplay_Execute(t *testing.T) {
	client := &fakeClient{partitions: []int32{0}, oldest: 0, newest: 2}
	source := &fakeSource{consumer: &fakePartitionConsumer{messages: dlqTestMessages(t)}}
	producer := &fakeProducer{}

	err := runReplay(context.Background(), replayTestConfig(true), client, source, producer)
	if err != nil {
		t.Fatalf("runReplay failed: %v", err)
	}

	if len(producer.sent) != 1 {
		t.Fatalf("expected 1 replayed message, got %d", len(producer.sent))
	}
	sent := producer.sent[0]
	if sent.Topic != "orders.order.events" {
		t.Fatalf("unexpected topic: %s", sent.Topic)
	}
	key, err := sent.Key.Encode()
	if err != nil {
		t.Fatalf("encode key failed: %v", err)
	}
	if string(key) != "order-1" {
		t.Fatalf("unexpected key: %s", key)
	}
}

func TestRunReplay_ExecuteRequiresProducer(t *testing.T) {
	client := &fakeClient{partitions: []int32{0}, oldest: 0, newest: 2}
	source := &fakeSource{consumer: &fakePartitionConsumer{messages: dlqTestMessages(t)}}

	err := runReplay(context.Background(), replayTestConfig(true), client, source, nil)
	if err == nil {
		t.Fatal("expected error when producer is missing in execute mode")
	}
}

func TestRunReplay_EmptyPartition(t *testing.T) {
	client := &fakeClient{partitions: []int32{0}, oldest: 5, newest: 5}
	source := &fakeSource{consumer: &fakePartitionConsumer{messages: make(chan *sarama.ConsumerMessage)}}

	err := runReplay(context.Background(), replayTestConfig(false), client, source, nil)
	if err != nil {
		t.Fatalf("runReplay failed for empty partition: %v", err)
	}
}
