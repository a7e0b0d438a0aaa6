package app

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-service/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/orders-service/internal/health"
	"github.com/vladislavdragonenkov/orders-service/internal/storage/memory"
	"github.com/vladislavdragonenkov/orders-service/internal/storage/postgres"
)

// runtimeDependencies содержит слой хранения, собранный по конфигурации.
type runtimeDependencies struct {
	repo           domain.OrderRepository
	outboxRepo     domain.OutboxRepository
	timelineRepo   domain.TimelineRepository
	storageChecker healthcheck.Checker
	closeFn        func() error
}

func (d *runtimeDependencies) close() error {
	if d == nil || d.closeFn == nil {
		return nil
	}
	return d.closeFn()
}

// initRuntimeDependencies выбирает драйвер хранилища и инициализирует
// репозитории. Для postgres дополнительно регистрируется ping-checker.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if driver == "" {
		driver = StorageDriverMemory
	}

	switch driver {
	case StorageDriverMemory:
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			repo:         memory.NewOrderRepository(),
			outboxRepo:   memory.NewOutboxRepository(),
			timelineRepo: memory.NewTimelineRepository(),
		}, nil

	case StorageDriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return nil, fmt.Errorf("postgres storage driver requires a DSN")
		}

		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}

		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("ensure postgres schema: %w", err)
			}
			logger.Info("postgres schema ensured")
		}

		logger.Info("using postgres storage")
		return &runtimeDependencies{
			repo:           postgres.NewOrderRepository(store),
			outboxRepo:     postgres.NewOutboxRepository(store),
			timelineRepo:   postgres.NewTimelineRepository(store),
			storageChecker: healthcheck.NewPingChecker("postgres", 0, store.Ping),
			closeFn:        store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}
}

// logPublisher — фолбэк для запуска без Kafka: события помечаются
// отправленными, но уходят только в лог.
type logPublisher struct {
	logger *log.Entry
}

func newLogPublisher(logger *log.Entry) domain.OutboxPublisher {
	return &logPublisher{logger: logger.WithField("layer", "outbox-log")}
}

func (p *logPublisher) Publish(event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"outbox_id":  event.ID,
		"event_type": event.EventType,
		"order_id":   event.AggregateID,
	}).Info("outbox event (kafka disabled)")
	return nil
}

var _ domain.OutboxPublisher = (*logPublisher)(nil)
