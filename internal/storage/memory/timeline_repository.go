package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/orders-service/internal/domain"
)

// timelineLog хранит таймлайны заказов в памяти (для разработки/тестов).
// События каждого заказа лежат отдельным срезом в хронологическом порядке.
type timelineLog struct {
	mu      sync.RWMutex
	byOrder map[string][]domain.TimelineEvent
}

// NewTimelineRepository создаёт in-memory реализацию TimelineRepository.
func NewTimelineRepository() domain.TimelineRepository {
	return &timelineLog{byOrder: make(map[string][]domain.TimelineEvent)}
}

// Append добавляет событие в таймлайн заказа, сохраняя хронологический
// порядок. Пустой Occurred заполняется текущим временем, как и в
// PostgreSQL-реализации.
func (l *timelineLog) Append(event domain.TimelineEvent) error {
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	timeline := l.byOrder[event.OrderID]
	pos := len(timeline)
	for pos > 0 && timeline[pos-1].Occurred.After(event.Occurred) {
		pos--
	}

	timeline = append(timeline, domain.TimelineEvent{})
	copy(timeline[pos+1:], timeline[pos:])
	timeline[pos] = event
	l.byOrder[event.OrderID] = timeline
	return nil
}

// List возвращает копию таймлайна заказа в хронологическом порядке.
func (l *timelineLog) List(orderID string) ([]domain.TimelineEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	timeline := l.byOrder[orderID]
	result := make([]domain.TimelineEvent, len(timeline))
	copy(result, timeline)
	return result, nil
}

var _ domain.TimelineRepository = (*timelineLog)(nil)
