package app

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-service/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/orders-service/internal/health"
	"github.com/vladislavdragonenkov/orders-service/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orders-service/internal/service/catalog"
)

// initKafkaProducer инициализирует Kafka producer если brokers не пустой.
// Возвращает nil, nil если brokers пустой.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	if strings.TrimSpace(brokers) == "" {
		return nil, nil
	}

	brokerList := parseBrokers(brokers)
	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// initProductValidator выбирает реализацию валидатора каталога: поверх
// Kafka request/reply при наличии producer, иначе in-process мок, если он
// разрешён конфигурацией. Для Kafka-клиента дополнительно возвращается
// liveness-checker.
func initProductValidator(
	ctx context.Context,
	cfg Config,
	producer *kafka.Producer,
	logger *log.Entry,
) (domain.ProductValidator, healthcheck.Checker, func() error, error) {
	if producer != nil {
		client, err := kafka.NewValidatorClient(ctx, producer, kafka.ValidatorClientConfig{
			Brokers:      parseBrokers(cfg.KafkaBrokers),
			RequestTopic: cfg.ValidateRequestTopic,
			ReplyTopic:   cfg.ValidateReplyTopic,
			GroupPrefix:  "orders-validator",
			Timeout:      cfg.ValidateTimeout,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create validator client: %w", err)
		}
		logger.WithFields(log.Fields{
			"request_topic": cfg.ValidateRequestTopic,
			"reply_topic":   cfg.ValidateReplyTopic,
		}).Info("kafka product validator initialized")
		checker := healthcheck.NewSimpleChecker("validator", client.Healthy)
		return client, checker, client.Stop, nil
	}

	if !cfg.AllowMockCatalog {
		return nil, nil, nil, fmt.Errorf("product validator requires kafka brokers or an enabled mock catalog")
	}

	logger.Warn("kafka is not configured, using mock product catalog")
	return catalog.NewMockValidator(), nil, nil, nil
}

// closeKafkaProducer закрывает Kafka producer если он не nil.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

func parseBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		broker := strings.TrimSpace(chunk)
		if broker == "" {
			continue
		}
		brokers = append(brokers, broker)
	}
	return brokers
}
