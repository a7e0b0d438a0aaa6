package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/orders-service/internal/health"
	"github.com/vladislavdragonenkov/orders-service/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orders-service/internal/metrics"
	"github.com/vladislavdragonenkov/orders-service/internal/service/orders"
	"github.com/vladislavdragonenkov/orders-service/internal/service/outbox"
	"github.com/vladislavdragonenkov/orders-service/internal/version"
)

// Поддерживаемые драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	KafkaBrokers         string
	ValidateRequestTopic string
	ValidateReplyTopic   string
	ValidateTimeout      time.Duration
	// AllowMockCatalog разрешает in-process заглушку каталога,
	// когда Kafka не настроен (локальная разработка, тесты).
	AllowMockCatalog bool

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
}

// DefaultConfig возвращает конфигурацию для локального запуска:
// in-memory хранилище, мок каталога вместо Kafka.
func DefaultConfig() Config {
	return Config{
		MetricsAddr:          ":9090",
		StorageDriver:        StorageDriverMemory,
		PostgresAutoMigrate:  true,
		ValidateRequestTopic: kafka.TopicProductValidate,
		ValidateReplyTopic:   kafka.TopicProductValidateReply,
		ValidateTimeout:      kafka.DefaultValidateTimeout,
		AllowMockCatalog:     true,
		OutboxPollInterval:   time.Second,
		OutboxBatchSize:      100,
		OutboxMaxAttempts:    3,
		OutboxRetryDelay:     50 * time.Millisecond,
	}
}

// Runtime держит собранный граф зависимостей приложения. Orders — рабочая
// поверхность сервиса; транспортный слой (gRPC/HTTP API) подключается поверх.
type Runtime struct {
	Orders *orders.Service
	Health *healthcheck.Handler

	cfg           Config
	logger        *log.Entry
	deps          *runtimeDependencies
	producer      *kafka.Producer
	validatorStop func() error
	worker        *outbox.Worker
}

// NewRuntime собирает все зависимости согласно конфигурации. Ошибки
// хранилища фатальны; недоступность Kafka фатальна только если мок
// каталога запрещён.
func NewRuntime(ctx context.Context, cfg Config) (*Runtime, error) {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	producer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil && !cfg.AllowMockCatalog {
		_ = deps.close()
		return nil, fmt.Errorf("kafka is required when mock catalog is disabled: %w", err)
	}

	validator, validatorChecker, validatorStop, err := initProductValidator(ctx, cfg, producer, logger)
	if err != nil {
		closeKafkaProducer(producer, logger)
		_ = deps.close()
		return nil, err
	}

	service := orders.NewService(
		deps.repo,
		validator,
		deps.timelineRepo,
		deps.outboxRepo,
		nil,
		logger.WithField("layer", "service"),
	).WithMetrics(metrics.NewOrderMetrics())

	workerOptions := []outbox.Option{
		outbox.WithLogger(logger.WithField("layer", "outbox")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	publisher := newLogPublisher(logger)
	if producer != nil {
		publisher = kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents)
		workerOptions = append(workerOptions,
			outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)))
	}
	worker := outbox.NewWorker(deps.outboxRepo, publisher, workerOptions...)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	if deps.storageChecker != nil {
		healthHandler.RegisterChecker("storage", deps.storageChecker)
	}
	if validatorChecker != nil {
		healthHandler.RegisterChecker("validator", validatorChecker)
	}

	return &Runtime{
		Orders:        service,
		Health:        healthHandler,
		cfg:           cfg,
		logger:        logger,
		deps:          deps,
		producer:      producer,
		validatorStop: validatorStop,
		worker:        worker,
	}, nil
}

// Run запускает outbox worker и HTTP-сервер метрик/health и блокируется
// до отмены контекста.
func (r *Runtime) Run(ctx context.Context) error {
	workerCtx, cancelWorker := context.WithCancel(ctx)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		r.worker.Run(workerCtx)
	}()

	metricsSrv := startMetricsServer(ctx, r.cfg.MetricsAddr, r.logger, r.Health)

	<-ctx.Done()
	r.logger.Info("shutdown signal received, stopping")

	shutdownOutboxWorker(cancelWorker, workerDone, r.logger)
	shutdownHTTP(metricsSrv, r.logger)

	return ctx.Err()
}

// Close останавливает consumer валидатора и Kafka producer и закрывает
// хранилище. Идемпотентен в той мере, в какой идемпотентны зависимости.
func (r *Runtime) Close() error {
	if r.validatorStop != nil {
		if err := r.validatorStop(); err != nil {
			r.logger.WithError(err).Warn("failed to stop validator client")
		}
	}
	closeKafkaProducer(r.producer, r.logger)
	return r.deps.close()
}

// Run собирает Runtime и работает до отмены контекста.
func Run(ctx context.Context, cfg Config) error {
	runtime, err := NewRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := runtime.Close(); closeErr != nil {
			runtime.logger.WithError(closeErr).Warn("failed to close runtime")
		}
	}()

	return runtime.Run(ctx)
}

// startMetricsServer запускает HTTP-обработчики /metrics и health-проб.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("metrics available at %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownOutboxWorker останавливает worker и ждёт завершения с таймаутом.
func shutdownOutboxWorker(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel == nil {
		return
	}
	cancel()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn("outbox worker did not stop in time")
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
