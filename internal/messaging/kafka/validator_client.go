package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-service/internal/domain"
)

// DefaultValidateTimeout — сколько ждём ответ каталога, если дедлайн
// не задан вызывающим контекстом.
const DefaultValidateTimeout = 5 * time.Second

// ValidatorClient — request/reply клиент каталога поверх Kafka.
// Запрос публикуется в requestTopic, ответ приходит в replyTopic и
// маршрутизируется по correlation id к ожидающему вызову Validate.
// Каждый инстанс сервиса слушает replyTopic собственной consumer group,
// поэтому ответы не делятся между инстансами.
type ValidatorClient struct {
	producer     *Producer
	consumer     *Consumer
	requestTopic string
	replyTopic   string
	timeout      time.Duration
	logger       *log.Entry

	mu      sync.Mutex
	stopped bool
	pending map[string]chan *ProductValidateResponse
}

// ValidatorClientConfig настраивает клиента каталога.
type ValidatorClientConfig struct {
	Brokers      []string
	RequestTopic string
	ReplyTopic   string
	GroupPrefix  string
	Timeout      time.Duration
}

// NewValidatorClient создаёт клиента и запускает consumer ответов.
// Consumer останавливается вместе с переданным контекстом.
func NewValidatorClient(ctx context.Context, producer *Producer, cfg ValidatorClientConfig) (*ValidatorClient, error) {
	if producer == nil {
		return nil, fmt.Errorf("validator client requires a producer")
	}
	if cfg.RequestTopic == "" {
		cfg.RequestTopic = TopicProductValidate
	}
	if cfg.ReplyTopic == "" {
		cfg.ReplyTopic = TopicProductValidateReply
	}
	if cfg.GroupPrefix == "" {
		cfg.GroupPrefix = "orders-validator"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultValidateTimeout
	}

	client := &ValidatorClient{
		producer:     producer,
		requestTopic: cfg.RequestTopic,
		replyTopic:   cfg.ReplyTopic,
		timeout:      cfg.Timeout,
		logger:       log.WithField("component", "catalog-validator"),
		pending:      make(map[string]chan *ProductValidateResponse),
	}

	// Уникальная group на инстанс: каждый инстанс должен видеть все ответы,
	// чтобы доставить их своим ожидающим запросам.
	groupID := fmt.Sprintf("%s-%s", cfg.GroupPrefix, uuid.New().String())
	consumer, err := NewConsumerWithDLQ([]string(cfg.Brokers), groupID, []string{cfg.ReplyTopic}, client.handleMessage, producer, 3)
	if err != nil {
		return nil, fmt.Errorf("failed to create validator reply consumer: %w", err)
	}
	client.consumer = consumer

	if err := consumer.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start validator reply consumer: %w", err)
	}

	return client, nil
}

// Validate публикует запрос каталогу и ждёт ответ с тем же correlation id.
func (c *ValidatorClient) Validate(ctx context.Context, productIDs []string) ([]domain.Product, error) {
	correlationID := uuid.New().String()
	replyCh := make(chan *ProductValidateResponse, 1)

	c.mu.Lock()
	c.pending[correlationID] = replyCh
	c.mu.Unlock()
	defer c.dropPending(correlationID)

	request := ProductValidateRequest{
		CorrelationID: correlationID,
		ReplyTopic:    c.replyTopic,
		ProductIDs:    productIDs,
		RequestedAt:   time.Now().UTC(),
	}

	if err := c.producer.PublishEvent(c.requestTopic, correlationID, request); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidatorUnavailable, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	select {
	case response := <-replyCh:
		if response.Error != "" {
			return nil, fmt.Errorf("%w: %s", domain.ErrValidatorUnavailable, response.Error)
		}
		return response.ToDomain(), nil
	case <-ctx.Done():
		c.logger.WithFields(log.Fields{
			"correlation_id": correlationID,
			"timeout":        c.timeout,
		}).Warn("product validation timed out")
		return nil, fmt.Errorf("%w: %v", domain.ErrValidatorUnavailable, ctx.Err())
	}
}

// Stop останавливает consumer ответов.
func (c *ValidatorClient) Stop() error {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()

	if c.consumer == nil {
		return nil
	}
	return c.consumer.Stop()
}

// Healthy возвращает ошибку, если клиент остановлен. Используется
// health-чекером приложения.
func (c *ValidatorClient) Healthy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return fmt.Errorf("validator client is stopped")
	}
	return nil
}

// handleMessage маршрутизирует ответ каталога к ожидающему запросу.
// Ответ на неизвестный correlation id (чужой инстанс или истёкший запрос)
// не считается ошибкой.
func (c *ValidatorClient) handleMessage(_ context.Context, message *sarama.ConsumerMessage) error {
	response, err := ParseProductValidateResponse(message)
	if err != nil {
		return err
	}
	c.dispatch(response)
	return nil
}

func (c *ValidatorClient) dispatch(response *ProductValidateResponse) {
	c.mu.Lock()
	replyCh, ok := c.pending[response.CorrelationID]
	if ok {
		delete(c.pending, response.CorrelationID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.WithField("correlation_id", response.CorrelationID).
			Debug("reply has no pending request, dropping")
		return
	}
	replyCh <- response
}

func (c *ValidatorClient) dropPending(correlationID string) {
	c.mu.Lock()
	delete(c.pending, correlationID)
	c.mu.Unlock()
}

var _ domain.ProductValidator = (*ValidatorClient)(nil)
