package domain

import (
	"fmt"
	"strings"
	"time"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан и ожидает дальнейшей обработки.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusDelivered — заказ доставлен покупателю.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCanceled — заказ отменён.
	OrderStatusCanceled OrderStatus = "canceled"
)

// InitialOrderStatus — статус, который получает каждый новый заказ.
const InitialOrderStatus = OrderStatusPending

// knownStatuses фиксирует закрытое множество статусов.
var knownStatuses = map[OrderStatus]struct{}{
	OrderStatusPending:   {},
	OrderStatusDelivered: {},
	OrderStatusCanceled:  {},
}

// ParseOrderStatus приводит строку к известному статусу заказа.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := knownStatuses[status]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
	return status, nil
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	// ID позиции нужен для однозначной идентификации и аудита.
	ID string
	// OrderID — обратная ссылка на заказ-владелец.
	OrderID string
	// ProductID — идентификатор товара во внешнем каталоге; хранится как текст.
	ProductID string
	// PriceMinor — снимок цены на момент создания заказа в минимальных
	// денежных единицах. После создания снимок не обновляется, даже если
	// каталог изменил цену.
	PriceMinor int64
	// Qty — количество единиц товара.
	Qty int32
	// Name — отображаемое имя товара из каталога. Не персистится:
	// заполняется обогащением при создании и чтении заказа.
	Name string
	// CreatedAt фиксирует момент добавления позиции в заказ.
	CreatedAt time.Time
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID     string
	Status OrderStatus
	// TotalAmountMinor — сумма price*qty по всем позициям на момент создания.
	// Хранится и не пересчитывается при чтении.
	TotalAmountMinor int64
	// TotalItems — сумма qty по всем позициям на момент создания.
	TotalItems int32
	Items      []OrderItem
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Product — авторитетная запись каталога, полученная от валидатора товаров.
type Product struct {
	ID         string
	Name       string
	PriceMinor int64
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.TotalAmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем агрегаты заказа с позициями: qty и qty*price.
	var amountCalc int64
	var itemsCalc int32
	for _, item := range o.Items {
		if item.ProductID == "" {
			errs = append(errs, ErrItemProductRequired)
		}
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		amountCalc += int64(item.Qty) * item.PriceMinor
		itemsCalc += item.Qty
	}
	if amountCalc != o.TotalAmountMinor {
		errs = append(errs, ErrAmountMismatch)
	}
	if itemsCalc != o.TotalItems {
		errs = append(errs, ErrTotalItemsMismatch)
	}

	return errs
}
