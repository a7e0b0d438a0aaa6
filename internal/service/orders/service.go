package orders

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/orders-service/internal/domain"
	"github.com/vladislavdragonenkov/orders-service/internal/messaging/kafka"
)

// MetricsRecorder принимает показатели операций сервиса.
// Все методы вызываются синхронно на горячем пути и должны быть дешёвыми.
type MetricsRecorder interface {
	RecordOrderCreated()
	RecordCreateFailure()
	RecordCreateDuration(duration time.Duration)
	RecordStatusChange(status string)
	RecordCatalogDuration(duration time.Duration)
	RecordCatalogFailure()
	RecordTimelineEvent()
}

// Service реализует жизненный цикл заказов поверх доменного репозитория
// и внешнего каталога товаров.
type Service struct {
	repo      domain.OrderRepository
	validator domain.ProductValidator
	policy    domain.TransitionPolicy
	timeline  domain.TimelineRepository
	outbox    domain.OutboxRepository
	metrics   MetricsRecorder
	logger    *log.Entry
}

const (
	defaultListPage  = 1
	defaultListLimit = 10

	timelineEventOrderCreated       = "OrderCreated"
	timelineEventOrderStatusChanged = "OrderStatusChanged"

	aggregateTypeOrder = "order"

	// createFailureMessage — единый ответ на любую ошибку создания заказа.
	// Истинная причина (нераспознанный товар, недоступный каталог, сбой
	// хранилища) пишется только в лог: наружу детали не утекают.
	createFailureMessage = "check logs for more information"
)

// CreateItem — запрошенная позиция заказа. Цену клиент не передаёт:
// она берётся из ответа каталога.
type CreateItem struct {
	ProductID string
	Qty       int32
}

// ListMeta — пагинационная сводка результата списка.
type ListMeta struct {
	Page        int
	TotalPages  int
	TotalOrders int
}

// ListResult — страница заказов и её метаданные.
type ListResult struct {
	Data []domain.Order
	Meta ListMeta
}

// NewService конструирует сервис с зависимостями. timeline и outbox
// опциональны; policy по умолчанию разрешает любой переход статусов.
func NewService(
	repo domain.OrderRepository,
	validator domain.ProductValidator,
	timeline domain.TimelineRepository,
	outbox domain.OutboxRepository,
	policy domain.TransitionPolicy,
	logger *log.Entry,
) *Service {
	if policy == nil {
		policy = domain.AllowAllTransitions{}
	}
	if logger == nil {
		logger = log.New().WithField("component", "orders-service")
	}
	return &Service{
		repo:      repo,
		validator: validator,
		policy:    policy,
		timeline:  timeline,
		outbox:    outbox,
		logger:    logger,
	}
}

// WithMetrics подключает сборщик метрик; без него сервис работает молча.
func (s *Service) WithMetrics(metrics MetricsRecorder) *Service {
	s.metrics = metrics
	return s
}

// Create создаёт заказ из корзины позиций. Цены и имена товаров приходят
// из каталога одним запросом; заказ и все его позиции сохраняются атомарно.
func (s *Service) Create(ctx context.Context, items []CreateItem) (domain.Order, error) {
	if len(items) == 0 {
		return domain.Order{}, status.Error(codes.InvalidArgument, "order must contain at least one item")
	}
	for idx, item := range items {
		if item.ProductID == "" {
			return domain.Order{}, status.Errorf(codes.InvalidArgument, "item[%d].product_id is required", idx)
		}
		if item.Qty <= 0 {
			return domain.Order{}, status.Errorf(codes.InvalidArgument, "item[%d].qty must be > 0", idx)
		}
	}

	started := time.Now()

	// Один запрос каталогу по уникальным идентификаторам.
	catalog, err := s.resolveProducts(ctx, distinctProductIDs(items))
	if err != nil {
		return domain.Order{}, s.collapseCreateFailure(err, nil)
	}

	now := time.Now().UTC()
	orderID := uuid.NewString()

	orderItems := make([]domain.OrderItem, 0, len(items))
	var amountSum int64
	var itemsSum int32
	for _, item := range items {
		product, ok := catalog[item.ProductID]
		if !ok {
			// Каталог не разрешил идентификатор - заказа не будет целиком.
			return domain.Order{}, s.collapseCreateFailure(
				domain.ErrProductUnresolved,
				log.Fields{"product_id": item.ProductID},
			)
		}

		orderItems = append(orderItems, domain.OrderItem{
			ID:         uuid.NewString(),
			OrderID:    orderID,
			ProductID:  item.ProductID,
			PriceMinor: product.PriceMinor, // снимок цены на момент создания
			Qty:        item.Qty,
			Name:       product.Name,
			CreatedAt:  now,
		})
		amountSum += int64(item.Qty) * product.PriceMinor
		itemsSum += item.Qty
	}

	order := domain.Order{
		ID:               orderID,
		Status:           domain.InitialOrderStatus,
		TotalAmountMinor: amountSum,
		TotalItems:       itemsSum,
		Items:            orderItems,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, s.collapseCreateFailure(errors.Join(errs...), log.Fields{"order_id": orderID})
	}

	if err := s.repo.Create(ctx, order); err != nil {
		return domain.Order{}, s.collapseCreateFailure(err, log.Fields{"order_id": orderID})
	}

	s.appendTimeline(orderID, timelineEventOrderCreated, string(order.Status))
	s.enqueueOrderEvent(kafka.EventTypeOrderCreated, order)

	if s.metrics != nil {
		s.metrics.RecordOrderCreated()
		s.metrics.RecordCreateDuration(time.Since(started))
	}

	s.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"total_amount": order.TotalAmountMinor,
		"total_items":  order.TotalItems,
	}).Info("order created")

	return order, nil
}

// List возвращает страницу заказов с опциональным фильтром по статусу.
// Страница за пределами диапазона - не ошибка, а пустой результат.
func (s *Service) List(ctx context.Context, filter domain.ListFilter) (ListResult, error) {
	if filter.Page < 0 {
		return ListResult{}, status.Error(codes.InvalidArgument, "page must be >= 1")
	}
	if filter.Limit < 0 {
		return ListResult{}, status.Error(codes.InvalidArgument, "limit must be >= 1")
	}
	if filter.Page == 0 {
		filter.Page = defaultListPage
	}
	if filter.Limit == 0 {
		filter.Limit = defaultListLimit
	}

	data, total, err := s.repo.List(ctx, filter)
	if err != nil {
		s.logger.WithError(err).Error("failed to list orders")
		return ListResult{}, status.Error(codes.Internal, "failed to list orders")
	}

	totalPages := total / filter.Limit
	if total%filter.Limit != 0 {
		totalPages++
	}

	return ListResult{
		Data: data,
		Meta: ListMeta{
			Page:        filter.Page,
			TotalPages:  totalPages,
			TotalOrders: total,
		},
	}, nil
}

// Get возвращает заказ с позициями, обогащёнными актуальными именами
// из каталога. Имя может обновиться, цена - никогда.
func (s *Service) Get(ctx context.Context, id string) (domain.Order, error) {
	if id == "" {
		return domain.Order{}, status.Error(codes.InvalidArgument, "order id is required")
	}

	order, err := s.loadOrder(ctx, id, "Get")
	if err != nil {
		return domain.Order{}, err
	}

	if err := s.enrichNames(ctx, &order); err != nil {
		s.logger.WithError(err).WithField("order_id", id).Error("failed to enrich order")
		return domain.Order{}, status.Error(codes.Internal, "failed to enrich order")
	}

	return order, nil
}

// ChangeStatus переводит заказ в целевой статус. Легальность перехода решает
// TransitionPolicy; разрешённый переход фиксируется в хранилище безусловно,
// в том числе переход в текущий статус (обновляется updated_at).
func (s *Service) ChangeStatus(ctx context.Context, id string, target domain.OrderStatus) (domain.Order, error) {
	if id == "" {
		return domain.Order{}, status.Error(codes.InvalidArgument, "order id is required")
	}
	if _, err := domain.ParseOrderStatus(string(target)); err != nil {
		return domain.Order{}, status.Error(codes.InvalidArgument, err.Error())
	}

	order, err := s.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}

	if err := s.policy.Validate(order.Status, target); err != nil {
		return domain.Order{}, status.Error(codes.FailedPrecondition, err.Error())
	}

	now := time.Now().UTC()
	if err := s.repo.UpdateStatus(ctx, id, target, now); err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return domain.Order{}, notFoundError(id)
		}
		s.logger.WithError(err).WithField("order_id", id).Error("failed to update order status")
		return domain.Order{}, status.Error(codes.Internal, "failed to update order status")
	}

	order.Status = target
	order.UpdatedAt = now

	if s.metrics != nil {
		s.metrics.RecordStatusChange(string(target))
	}

	s.appendTimeline(id, timelineEventOrderStatusChanged, string(target))
	s.enqueueOrderEvent(kafka.EventTypeOrderStatusChanged, order)

	return order, nil
}

// History возвращает таймлайн событий заказа.
func (s *Service) History(ctx context.Context, id string) ([]domain.TimelineEvent, error) {
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "order id is required")
	}

	if _, err := s.loadOrder(ctx, id, "History"); err != nil {
		return nil, err
	}

	if s.timeline == nil {
		return []domain.TimelineEvent{}, nil
	}

	events, err := s.timeline.List(id)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", id).Error("failed to list timeline events")
		return nil, status.Error(codes.Internal, "failed to load order history")
	}
	return events, nil
}

func (s *Service) loadOrder(ctx context.Context, id, operation string) (domain.Order, error) {
	order, err := s.repo.Get(ctx, id)
	if err == nil {
		return order, nil
	}

	s.logger.WithError(err).WithFields(log.Fields{
		"operation": operation,
		"order_id":  id,
	}).Warn("failed to load order")

	if errors.Is(err, domain.ErrOrderNotFound) {
		return domain.Order{}, notFoundError(id)
	}
	return domain.Order{}, status.Error(codes.Internal, "failed to load order")
}

// resolveProducts запрашивает каталог и раскладывает ответ по id.
func (s *Service) resolveProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	started := time.Now()
	products, err := s.validator.Validate(ctx, productIDs)
	if s.metrics != nil {
		s.metrics.RecordCatalogDuration(time.Since(started))
		if err != nil {
			s.metrics.RecordCatalogFailure()
		}
	}
	if err != nil {
		return nil, err
	}

	catalog := make(map[string]domain.Product, len(products))
	for _, product := range products {
		catalog[product.ID] = product
	}
	return catalog, nil
}

// enrichNames подставляет позициям актуальные имена из каталога.
// Идентификатор, пропавший из каталога после создания заказа, оставляет
// имя пустым: цена при этом остаётся снимком и не трогается.
func (s *Service) enrichNames(ctx context.Context, order *domain.Order) error {
	if len(order.Items) == 0 {
		return nil
	}

	ids := make([]string, 0, len(order.Items))
	seen := make(map[string]struct{}, len(order.Items))
	for _, item := range order.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}

	catalog, err := s.resolveProducts(ctx, ids)
	if err != nil {
		return err
	}

	for i := range order.Items {
		product, ok := catalog[order.Items[i].ProductID]
		if !ok {
			s.logger.WithFields(log.Fields{
				"order_id":   order.ID,
				"product_id": order.Items[i].ProductID,
			}).Warn("product missing from catalog, name left empty")
			continue
		}
		order.Items[i].Name = product.Name
	}
	return nil
}

// collapseCreateFailure пишет истинную причину в лог и возвращает
// единый внешний ответ для всех ошибок создания.
func (s *Service) collapseCreateFailure(err error, fields log.Fields) error {
	entry := s.logger
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.WithError(err).Error("order creation failed")
	if s.metrics != nil {
		s.metrics.RecordCreateFailure()
	}
	return status.Error(codes.InvalidArgument, createFailureMessage)
}

func (s *Service) appendTimeline(orderID, eventType, reason string) {
	if s.timeline == nil {
		return
	}
	event := domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: time.Now().UTC(),
	}
	if err := s.timeline.Append(event); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"event":    eventType,
		}).Warn("failed to append timeline event")
		return
	}
	if s.metrics != nil {
		s.metrics.RecordTimelineEvent()
	}
}

// enqueueOrderEvent кладёт событие в outbox; публикацией занимается worker.
// Ошибка не валит операцию: событие теряется, заказ - нет.
func (s *Service) enqueueOrderEvent(eventType kafka.EventType, order domain.Order) {
	if s.outbox == nil {
		return
	}

	payload, err := json.Marshal(kafka.NewOrderEvent(eventType, order))
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to encode outbox payload")
		return
	}

	if _, err := s.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: aggregateTypeOrder,
		AggregateID:   order.ID,
		EventType:     string(eventType),
		Payload:       payload,
	}); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Warn("failed to enqueue outbox event")
	}
}

func notFoundError(id string) error {
	return status.Errorf(codes.NotFound, "order with id %s not found", id)
}

func distinctProductIDs(items []CreateItem) []string {
	ids := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}
