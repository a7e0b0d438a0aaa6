package domain

import (
	"context"
	"time"
)

// ProductValidator описывает взаимодействие с внешним каталогом товаров.
type ProductValidator interface {
	// Validate отправляет каталогу набор идентификаторов (дубликаты
	// допустимы) и возвращает авторитетные записи для тех из них, которые
	// каталог смог разрешить. Неразрешённые идентификаторы просто
	// отсутствуют в ответе — это забота вызывающей стороны.
	// Ответ каталога — источник истины по ценам и именам; вызов read-only.
	Validate(ctx context.Context, productIDs []string) ([]Product, error)
}

// TransitionPolicy — точка расширения для проверки легальности перехода
// статусов. Текущее поведение сервиса — универсальный переход
// (любой статус в любой), см. AllowAllTransitions.
type TransitionPolicy interface {
	// Validate возвращает ошибку, если переход from -> to запрещён.
	Validate(from, to OrderStatus) error
}

// AllowAllTransitions разрешает любой переход статусов, включая no-op
// и «обратные» переходы.
type AllowAllTransitions struct{}

// Validate никогда не возвращает ошибку.
func (AllowAllTransitions) Validate(_, _ OrderStatus) error { return nil }

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

var _ TransitionPolicy = AllowAllTransitions{}
