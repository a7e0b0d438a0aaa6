package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/orders-service/internal/domain"
)

// EventType определяет тип события заказа.
type EventType string

const (
	EventTypeOrderCreated       EventType = "order.created"
	EventTypeOrderStatusChanged EventType = "order.status_changed"
)

// Topics для Kafka.
const (
	// TopicProductValidate — запросы к каталогу на разрешение идентификаторов товаров.
	TopicProductValidate = "catalog.product.validate"
	// TopicProductValidateReply — ответы каталога; каждый инстанс сервиса
	// слушает его собственной consumer group (см. ValidatorClient).
	TopicProductValidateReply = "orders.product.validate.reply"
	// TopicOrderEvents — исходящие события заказов (через outbox).
	TopicOrderEvents = "orders.order.events"
	// TopicDeadLetterQueue — Dead Letter Queue для failed messages.
	TopicDeadLetterQueue = "orders.dlq"
)

// Kafka headers для retry логики.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// ProductValidateRequest — запрос каталогу: разрешить набор идентификаторов.
type ProductValidateRequest struct {
	CorrelationID string    `json:"correlation_id"`
	ReplyTopic    string    `json:"reply_topic"`
	ProductIDs    []string  `json:"product_ids"`
	RequestedAt   time.Time `json:"requested_at"`
}

// ProductRecord — запись каталога в ответе валидатора.
type ProductRecord struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceMinor int64  `json:"price_minor"`
}

// ProductValidateResponse — ответ каталога. Products содержит записи только
// для разрешённых идентификаторов; неразрешённые просто отсутствуют.
// Непустой Error означает отказ каталога обработать запрос целиком.
type ProductValidateResponse struct {
	CorrelationID string          `json:"correlation_id"`
	Products      []ProductRecord `json:"products"`
	Error         string          `json:"error,omitempty"`
	RespondedAt   time.Time       `json:"responded_at"`
}

// ToDomain конвертирует записи ответа в доменные Product.
func (r *ProductValidateResponse) ToDomain() []domain.Product {
	products := make([]domain.Product, 0, len(r.Products))
	for _, record := range r.Products {
		products = append(products, domain.Product{
			ID:         record.ID,
			Name:       record.Name,
			PriceMinor: record.PriceMinor,
		})
	}
	return products
}

// OrderEvent представляет событие жизненного цикла заказа.
type OrderEvent struct {
	EventType        EventType `json:"event_type"`
	OrderID          string    `json:"order_id"`
	Status           string    `json:"status"`
	TotalAmountMinor int64     `json:"total_amount_minor"`
	TotalItems       int32     `json:"total_items"`
	Timestamp        time.Time `json:"timestamp"`
}

// NewOrderEvent создает новое событие заказа.
func NewOrderEvent(eventType EventType, order domain.Order) *OrderEvent {
	return &OrderEvent{
		EventType:        eventType,
		OrderID:          order.ID,
		Status:           string(order.Status),
		TotalAmountMinor: order.TotalAmountMinor,
		TotalItems:       order.TotalItems,
		Timestamp:        time.Now().UTC(),
	}
}

// ParseProductValidateResponse парсит ответ каталога из сообщения.
func ParseProductValidateResponse(message *sarama.ConsumerMessage) (*ProductValidateResponse, error) {
	var response ProductValidateResponse
	if err := json.Unmarshal(message.Value, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal product validate response: %w", err)
	}
	if response.CorrelationID == "" {
		return nil, fmt.Errorf("product validate response has no correlation_id")
	}
	return &response, nil
}

// ParseOrderEvent парсит OrderEvent из сообщения.
func ParseOrderEvent(message *sarama.ConsumerMessage) (*OrderEvent, error) {
	var event OrderEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order event: %w", err)
	}
	return &event, nil
}
