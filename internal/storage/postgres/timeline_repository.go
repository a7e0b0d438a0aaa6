package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orders-service/internal/domain"
)

const (
	queryTimelineAppend = `
		INSERT INTO timeline_events (order_id, type, reason, occurred)
		VALUES ($1, $2, $3, $4)`

	queryTimelineByOrder = `
		SELECT order_id, type, reason, occurred
		FROM timeline_events
		WHERE order_id = $1
		ORDER BY occurred, id`
)

type timelineRepository struct {
	db *sql.DB
}

// NewTimelineRepository создаёт PostgreSQL-реализацию TimelineRepository.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{db: store.DB()}
}

// Append пишет событие в таймлайн заказа. Пустой Occurred заполняется
// текущим временем.
func (r *timelineRepository) Append(event domain.TimelineEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	occurred := event.Occurred
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	if _, err := r.db.ExecContext(ctx, queryTimelineAppend,
		event.OrderID, event.Type, event.Reason, occurred,
	); err != nil {
		return fmt.Errorf("append order timeline event: %w", err)
	}
	return nil
}

// List возвращает таймлайн заказа в хронологическом порядке.
// Для неизвестного заказа возвращается пустой срез, не ошибка.
func (r *timelineRepository) List(orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, queryTimelineByOrder, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order timeline: %w", err)
	}
	defer rows.Close()

	timeline := []domain.TimelineEvent{}
	for rows.Next() {
		var event domain.TimelineEvent
		if err := rows.Scan(&event.OrderID, &event.Type, &event.Reason, &event.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline row: %w", err)
		}
		timeline = append(timeline, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline rows: %w", err)
	}
	return timeline, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
